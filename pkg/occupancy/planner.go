package occupancy

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// DefaultStepHours is used when a non-positive hourly step is requested.
	DefaultStepHours = 3

	// DefaultStepMinutes is used when a non-positive minute step is requested.
	DefaultStepMinutes = 60

	// HourLabelLayout formats the start of an hourly bucket label.
	HourLabelLayout = "01-02 15:04"

	// MinuteLabelLayout formats minute bucket labels.
	MinuteLabelLayout = "2006-01-02 15:04"
)

// Bucket is a half-open interval [Begin, End).
type Bucket struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Duration returns End - Begin, never negative.
func (b Bucket) Duration() time.Duration {
	if b.End.Before(b.Begin) {
		return 0
	}
	return b.End.Sub(b.Begin)
}

// Contains reports whether t falls inside [Begin, End).
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Begin) && t.Before(b.End)
}

// Correction records a parameter the planner had to repair.
type Correction struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Field, c.From, c.To)
}

// Plan is an ordered, non-overlapping list of buckets.
type Plan struct {
	Buckets     []Bucket      `json:"buckets"`
	Step        time.Duration `json:"step"`
	Corrections []Correction  `json:"corrections,omitempty"`
}

// Labels returns the bucket labels in plan order.
func (p Plan) Labels() []string {
	labels := make([]string, len(p.Buckets))
	for i, b := range p.Buckets {
		labels[i] = b.Label
	}
	return labels
}

// Begin is the start of the first bucket, or zero for an empty plan.
func (p Plan) Begin() time.Time {
	if len(p.Buckets) == 0 {
		return time.Time{}
	}
	return p.Buckets[0].Begin
}

// End is the end of the last bucket, or zero for an empty plan.
func (p Plan) End() time.Time {
	if len(p.Buckets) == 0 {
		return time.Time{}
	}
	return p.Buckets[len(p.Buckets)-1].End
}

// StepHours returns the effective step in whole hours.
func (p Plan) StepHours() int {
	return int(p.Step / time.Hour)
}

// DayWindow describes an hourly plan request. BeginDate and EndDate are
// truncated to midnight in their own location; EndDate is exclusive.
type DayWindow struct {
	BeginDate time.Time
	EndDate   time.Time
	BeginHour int
	EndHour   int
	StepHours int
}

// PlanBuckets builds the hourly buckets for w. It never fails: reversed
// dates or hours are swapped, hours are clamped to [0, 24] and the step is
// repaired, each repair being reported in Plan.Corrections.
func PlanBuckets(w DayWindow) Plan {
	var corrections []Correction

	begin := midnight(w.BeginDate)
	end := midnight(w.EndDate)
	if end.Before(begin) {
		corrections = append(corrections, Correction{
			Field: "dates",
			From:  begin.Format("20060102") + ".." + end.Format("20060102"),
			To:    end.Format("20060102") + ".." + begin.Format("20060102"),
		})
		begin, end = end, begin
	}

	bh, eh := w.BeginHour, w.EndHour
	if c, ok := clampHour("begin_hour", &bh); ok {
		corrections = append(corrections, c)
	}
	if c, ok := clampHour("end_hour", &eh); ok {
		corrections = append(corrections, c)
	}
	if eh < bh {
		corrections = append(corrections, Correction{
			Field: "hours",
			From:  fmt.Sprintf("%d..%d", bh, eh),
			To:    fmt.Sprintf("%d..%d", eh, bh),
		})
		bh, eh = eh, bh
	}
	if eh == bh {
		// An empty daily window would never advance; use the whole day.
		corrections = append(corrections, Correction{
			Field: "hours",
			From:  fmt.Sprintf("%d..%d", bh, eh),
			To:    "0..24",
		})
		bh, eh = 0, 24
	}

	step := w.StepHours
	if eh-bh < step {
		corrections = append(corrections, Correction{
			Field: "step_hours",
			From:  strconv.Itoa(step),
			To:    strconv.Itoa(eh - bh),
		})
		step = eh - bh
	} else if step <= 0 {
		corrections = append(corrections, Correction{
			Field: "step_hours",
			From:  strconv.Itoa(step),
			To:    strconv.Itoa(DefaultStepHours),
		})
		step = DefaultStepHours
	}

	plan := Plan{Step: time.Duration(step) * time.Hour, Corrections: corrections}
	for day := begin; day.Before(end); day = day.AddDate(0, 0, 1) {
		nextFirst := atHour(day.AddDate(0, 0, 1), bh)
		for h := bh; ; h += step {
			b := atHour(day, h)
			e := atHour(day, h+step)
			if e.After(nextFirst) {
				e = nextFirst
			}
			plan.Buckets = append(plan.Buckets, Bucket{
				Begin: b,
				End:   e,
				Label: b.Format(HourLabelLayout) + "~" + e.Format("15:04"),
			})
			if h+step >= eh {
				break
			}
		}
	}
	return plan
}

// PlanMinuteBuckets steps from begin to end in stepMinutes increments. The
// final bucket is clipped to end.
func PlanMinuteBuckets(begin, end time.Time, stepMinutes int) Plan {
	var corrections []Correction
	if end.Before(begin) {
		corrections = append(corrections, Correction{
			Field: "range",
			From:  begin.Format(MinuteLabelLayout) + ".." + end.Format(MinuteLabelLayout),
			To:    end.Format(MinuteLabelLayout) + ".." + begin.Format(MinuteLabelLayout),
		})
		begin, end = end, begin
	}
	if stepMinutes <= 0 {
		corrections = append(corrections, Correction{
			Field: "step_minutes",
			From:  strconv.Itoa(stepMinutes),
			To:    strconv.Itoa(DefaultStepMinutes),
		})
		stepMinutes = DefaultStepMinutes
	}

	// a step never needs to exceed the range
	d := end.Sub(begin)
	span := int64(d / time.Minute)
	if d%time.Minute != 0 {
		span++
	}
	if span > 0 && int64(stepMinutes) > span {
		corrections = append(corrections, Correction{
			Field: "step_minutes",
			From:  strconv.Itoa(stepMinutes),
			To:    strconv.FormatInt(span, 10),
		})
		stepMinutes = int(span)
	}

	step := time.Duration(stepMinutes) * time.Minute
	plan := Plan{Step: step, Corrections: corrections}
	for t := begin; t.Before(end); t = t.Add(step) {
		e := t.Add(step)
		if e.After(end) {
			e = end
		}
		plan.Buckets = append(plan.Buckets, Bucket{
			Begin: t,
			End:   e,
			Label: t.Format(MinuteLabelLayout),
		})
	}
	return plan
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// atHour returns day + h hours using wall-clock arithmetic, so h may be 24
// or more and still land on the right calendar hour.
func atHour(day time.Time, h int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, h, 0, 0, 0, day.Location())
}

func clampHour(field string, h *int) (Correction, bool) {
	orig := *h
	switch {
	case *h < 0:
		*h = 0
	case *h > 24:
		*h = 24
	default:
		return Correction{}, false
	}
	return Correction{Field: field, From: strconv.Itoa(orig), To: strconv.Itoa(*h)}, true
}
