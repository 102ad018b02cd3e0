/*
Package occupancy reconstructs stall usage from a sparse log of door events.

Every room (an Entity) reports a transition when its door closes (occupied)
or opens (vacant). Nothing is sampled in between, so usage over time has to
be rebuilt from the transitions alone:

	closed 10:05 ─────────────── opened 10:18
	            │   occupied    │
	──────[10:00 ······· 12:00)──────

The package is pure. It never talks to storage; callers fetch the events for
a whole window once per group and hand them in ascending (timestamp, seq)
order.

# Buckets

PlanBuckets turns a date range, a per-day hour window and a step into an
ordered list of half-open buckets:

	20190101..20190103, hours 10..19, step 2
	  01-01 10:00~12:00, 12:00~14:00, 14:00~16:00, 16:00~18:00, 18:00~20:00
	  01-02 10:00~12:00, ...

The last bucket of a day may run past the end hour; it is only clipped when it
would overlap the next day's first bucket. PlanMinuteBuckets walks a single
datetime range without a daily window.

# Aggregation

CountBuckets and AggregateFrequency count qualifying events per bucket with a
single forward cursor. AggregateOccupancy sweeps the same list, carrying
"occupied since" markers across bucket boundaries in a CarryState, and
reports the fraction of each bucket a group's valid members spent occupied.

A room that was already occupied before the first event of the window is not
credited until it reports its next transition.

# Snapshot

Snapshot derives the current used/max/rate100 per group from the latest event
of every member, falling back to the member's configured default state.
*/
package occupancy
