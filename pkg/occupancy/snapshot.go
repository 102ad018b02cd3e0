package occupancy

import "math"

// MemberStatus is the drill-down view of one room.
type MemberStatus struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Used  bool   `json:"used"`
	Valid bool   `json:"valid"`
}

// GroupStatus is the current usage of one group.
type GroupStatus struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Valid   bool           `json:"valid"`
	Max     int            `json:"max"`
	Used    int            `json:"used"`
	Rate100 int            `json:"rate100"`
	Details []MemberStatus `json:"details"`
}

// Snapshot computes the current state of every group. latest holds the most
// recent event per entity id; entities without one fall back to their
// DefaultClosed setting.
func Snapshot(groups []Group, latest map[string]Event) []GroupStatus {
	out := make([]GroupStatus, 0, len(groups))
	for _, g := range groups {
		st := GroupStatus{
			ID:      g.ID,
			Name:    g.Name,
			Valid:   g.Valid,
			Max:     g.Capacity(),
			Details: make([]MemberStatus, 0, len(g.Members)),
		}
		for _, m := range g.Members {
			used := false
			if g.Valid && m.Valid {
				used = m.DefaultClosed
				if ev, ok := latest[m.ID]; ok {
					used = ev.Closed
				}
			}
			if used {
				st.Used++
			}
			st.Details = append(st.Details, MemberStatus{
				ID:    m.ID,
				Name:  m.Name,
				Used:  used,
				Valid: m.Valid,
			})
		}
		st.Rate100 = Rate100(st.Used, st.Max)
		out = append(out, st)
	}
	return out
}

// Rate100 returns used/capacity as a rounded percentage, 0 when capacity is 0.
func Rate100(used, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	r := int(math.Round(float64(used) / float64(capacity) * 100))
	if r > 100 {
		return 100
	}
	if r < 0 {
		return 0
	}
	return r
}
