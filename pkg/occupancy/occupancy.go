package occupancy

import "time"

// CarryState maps an entity id to the start of its still-open occupied
// interval. Entities that are not occupied have no entry.
type CarryState map[string]time.Time

// Clone returns an independent copy of c.
func (c CarryState) Clone() CarryState {
	out := make(CarryState, len(c))
	for id, t := range c {
		out[id] = t
	}
	return out
}

// StepBucket accumulates occupied time per entity inside b.
//
// events are the events after the previous bucket's end and before b.End, in
// ascending order. Events before b.Begin (a gap between days) only move the
// carry state. carryIn is not modified.
func StepBucket(b Bucket, events []Event, carryIn CarryState) (map[string]time.Duration, CarryState) {
	occupied := make(map[string]time.Duration)
	carry := carryIn.Clone()

	for _, ev := range events {
		if ev.Timestamp.Before(b.Begin) {
			if ev.Closed {
				carry[ev.EntityID] = ev.Timestamp
			} else {
				delete(carry, ev.EntityID)
			}
			continue
		}
		if ev.Closed {
			// A repeated close restarts the interval.
			carry[ev.EntityID] = ev.Timestamp
			continue
		}
		start, ok := carry[ev.EntityID]
		if !ok {
			continue
		}
		occupied[ev.EntityID] += ev.Timestamp.Sub(later(start, b.Begin))
		delete(carry, ev.EntityID)
	}

	for id, start := range carry {
		occupied[id] += b.End.Sub(later(start, b.Begin))
	}
	return occupied, carry
}

// Fraction converts occupied time into a share of d, clamped to [0, 1].
func Fraction(occupied, d time.Duration) float64 {
	if d <= 0 || occupied <= 0 {
		return 0
	}
	f := float64(occupied) / float64(d)
	if f > 1 {
		return 1
	}
	return f
}

// EntityOccupancy returns the occupied fraction per bucket for every valid
// member of g. events must be ascending.
func EntityOccupancy(plan Plan, g Group, events []Event) map[string][]float64 {
	ids := g.MemberIDs()
	out := make(map[string][]float64, len(ids))
	for _, id := range ids {
		out[id] = make([]float64, len(plan.Buckets))
	}
	if len(ids) == 0 {
		return out
	}

	events = filterMembers(g, events)
	carry := CarryState{}
	cursor := 0
	for i, b := range plan.Buckets {
		next := cursor
		for next < len(events) && events[next].Timestamp.Before(b.End) {
			next++
		}
		var occupied map[string]time.Duration
		occupied, carry = StepBucket(b, events[cursor:next], carry)
		cursor = next

		d := b.Duration()
		for id, secs := range occupied {
			out[id][i] = Fraction(secs, d)
		}
	}
	return out
}

// AggregateOccupancy returns, per group id, the mean occupied fraction of the
// group's valid members in every bucket of plan. Inactive groups get zeros.
func AggregateOccupancy(plan Plan, groups []GroupEvents) map[string][]float64 {
	out := make(map[string][]float64, len(groups))
	for _, ge := range groups {
		series := make([]float64, len(plan.Buckets))
		out[ge.Group.ID] = series
		if !ge.Group.Active() {
			continue
		}

		ids := ge.Group.MemberIDs()
		perEntity := EntityOccupancy(plan, ge.Group, ge.Events)
		for _, id := range ids {
			for i, f := range perEntity[id] {
				series[i] += f
			}
		}
		for i := range series {
			series[i] /= float64(len(ids))
		}
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
