package occupancy

import (
	"fmt"
	"time"
)

// Entity is a single monitored room.
type Entity struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Valid         bool   `json:"valid" yaml:"valid"`
	GroupID       string `json:"group_id,omitempty" yaml:"group"`
	DefaultClosed bool   `json:"default_closed" yaml:"default_closed"`
}

// Group is a named set of rooms reported together.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Valid   bool     `json:"valid"`
	Members []Entity `json:"members"`
}

// ValidMembers returns the members that take part in aggregation.
func (g Group) ValidMembers() []Entity {
	out := make([]Entity, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Valid {
			out = append(out, m)
		}
	}
	return out
}

// Capacity is the number of valid members.
func (g Group) Capacity() int {
	n := 0
	for _, m := range g.Members {
		if m.Valid {
			n++
		}
	}
	return n
}

// Active reports whether the group contributes non-zero usage at all.
func (g Group) Active() bool {
	return g.Valid && g.Capacity() > 0
}

// MemberIDs returns the ids of the valid members, in member order.
func (g Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Valid {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Event is a door transition. Closed=true means the room became occupied.
// Seq breaks ties between events sharing a timestamp and is assigned by the
// event log on append.
type Event struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Closed    bool      `json:"is_closed"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Before orders events by timestamp, then by insertion order.
func (e Event) Before(other Event) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return e.Seq < other.Seq
	}
	return e.Timestamp.Before(other.Timestamp)
}

func (e Event) String() string {
	state := "open"
	if e.Closed {
		state = "closed"
	}
	return fmt.Sprintf("%s %s @ %s", e.EntityID, state, e.Timestamp.Format(time.RFC3339))
}

// GroupEvents pairs a group with the ordered events of its members.
type GroupEvents struct {
	Group  Group
	Events []Event
}

// memberSet returns the valid member ids of g for fast membership checks.
func memberSet(g Group) map[string]struct{} {
	set := make(map[string]struct{}, len(g.Members))
	for _, m := range g.Members {
		if m.Valid {
			set[m.ID] = struct{}{}
		}
	}
	return set
}
