package occupancy

// Predicate selects the events a frequency count includes.
type Predicate func(Event) bool

// OccupancyStarted counts door closings, i.e. visits.
func OccupancyStarted(e Event) bool { return e.Closed }

// AnyTransition counts every event.
func AnyTransition(Event) bool { return true }

// CountBuckets counts the events matching pred in each bucket. events must be
// ascending; buckets must be ordered and non-overlapping. Events that fall
// between buckets are skipped.
func CountBuckets(buckets []Bucket, events []Event, pred Predicate) []int {
	if pred == nil {
		pred = OccupancyStarted
	}
	counts := make([]int, len(buckets))
	cursor := 0
	for i, b := range buckets {
		for cursor < len(events) {
			ev := events[cursor]
			if !ev.Timestamp.Before(b.End) {
				break
			}
			if !ev.Timestamp.Before(b.Begin) && pred(ev) {
				counts[i]++
			}
			cursor++
		}
	}
	return counts
}

// AggregateFrequency returns, per group id, the number of qualifying events
// of the group's valid members in every bucket of plan. Inactive groups get
// all zeros.
func AggregateFrequency(plan Plan, groups []GroupEvents, pred Predicate) map[string][]int {
	out := make(map[string][]int, len(groups))
	for _, ge := range groups {
		if !ge.Group.Active() {
			out[ge.Group.ID] = make([]int, len(plan.Buckets))
			continue
		}
		out[ge.Group.ID] = CountBuckets(plan.Buckets, filterMembers(ge.Group, ge.Events), pred)
	}
	return out
}

func filterMembers(g Group, events []Event) []Event {
	members := memberSet(g)
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if _, ok := members[ev.EntityID]; ok {
			out = append(out, ev)
		}
	}
	return out
}
