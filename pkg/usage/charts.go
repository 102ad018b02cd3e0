package usage

import (
	"fmt"
	"time"

	"github.com/nicktill/roomwatch/pkg/occupancy"
)

// Step units.
const (
	UnitHours   = "hours"
	UnitMinutes = "minutes"
)

// GroupSeries holds one group's per-bucket values. Occupancy is empty for
// minute reports.
type GroupSeries struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Valid     bool      `json:"valid"`
	Capacity  int       `json:"capacity"`
	Frequency []int     `json:"frequency"`
	Occupancy []float64 `json:"occupancy,omitempty"`
}

// Report is a computed usage report. Labels and every series are parallel
// to Buckets.
type Report struct {
	Labels      []string               `json:"labels"`
	Buckets     []occupancy.Bucket     `json:"buckets"`
	Step        time.Duration          `json:"step"`
	Unit        string                 `json:"unit"`
	Groups      []GroupSeries          `json:"groups"`
	Corrections []occupancy.Correction `json:"corrections,omitempty"`
	Excluded    []string               `json:"excluded,omitempty"`
}

func newReport(plan occupancy.Plan, unit string, groups []occupancy.GroupEvents, excluded []string) *Report {
	r := &Report{
		Labels:      plan.Labels(),
		Buckets:     plan.Buckets,
		Step:        plan.Step,
		Unit:        unit,
		Groups:      make([]GroupSeries, 0, len(groups)),
		Corrections: plan.Corrections,
		Excluded:    excluded,
	}
	for _, ge := range groups {
		r.Groups = append(r.Groups, GroupSeries{
			ID:       ge.Group.ID,
			Name:     ge.Group.Name,
			Valid:    ge.Group.Valid,
			Capacity: ge.Group.Capacity(),
		})
	}
	return r
}

// StepCount is the step expressed in Unit.
func (r *Report) StepCount() int {
	if r.Unit == UnitMinutes {
		return int(r.Step / time.Minute)
	}
	return int(r.Step / time.Hour)
}

// Dataset is one chart series.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// GraphData is the chart payload.
type GraphData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Graph is a chart-ready bar graph.
type Graph struct {
	Type string    `json:"type"`
	Data GraphData `json:"data"`
}

// Graphs renders one frequency graph per group, followed by one occupancy
// graph per group when the report carries occupancy.
func (r *Report) Graphs() []Graph {
	graphs := make([]Graph, 0, 2*len(r.Groups))
	for _, g := range r.Groups {
		data := make([]float64, len(g.Frequency))
		for i, n := range g.Frequency {
			data[i] = float64(n)
		}
		graphs = append(graphs, r.graph(g.Name, "frequency", data))
	}
	if r.Unit == UnitMinutes {
		return graphs
	}
	for _, g := range r.Groups {
		graphs = append(graphs, r.graph(g.Name, "occupancy", g.Occupancy))
	}
	return graphs
}

func (r *Report) graph(name, kind string, data []float64) Graph {
	if data == nil {
		data = make([]float64, len(r.Labels))
	}
	return Graph{
		Type: "bar",
		Data: GraphData{
			Labels: r.Labels,
			Datasets: []Dataset{{
				Label: fmt.Sprintf("%s - %d %s %s", name, r.StepCount(), r.Unit, kind),
				Data:  data,
			}},
		},
	}
}
