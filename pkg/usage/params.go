package usage

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/occupancy"
)

// DateLayout is the query parameter format for dates.
const DateLayout = "20060102"

// LogParams selects the window of an hourly usage report. EndDate is
// inclusive: the whole end day is reported.
type LogParams struct {
	BeginDate time.Time
	EndDate   time.Time
	BeginHour int
	EndHour   int
	StepHours int
}

// DefaultLogParams covers the last DefaultLogDays days during office hours.
func DefaultLogParams(now time.Time) LogParams {
	end := midnight(now)
	return LogParams{
		BeginDate: end.AddDate(0, 0, -config.DefaultLogDays),
		EndDate:   end,
		BeginHour: config.DefaultBeginHour,
		EndHour:   config.DefaultEndHour,
		StepHours: config.DefaultLogStepHours,
	}
}

// ParseLogParams reads begin_date, end_date, begin_hours_per_day,
// end_hours_per_day and step_hours, falling back to the defaults for absent
// values. Malformed values are errors; out-of-range ones are repaired by the
// planner.
func ParseLogParams(q url.Values, now time.Time, loc *time.Location) (LogParams, error) {
	p := DefaultLogParams(now.In(loc))

	var err error
	if p.BeginDate, err = parseDate(q, "begin_date", p.BeginDate, loc); err != nil {
		return p, err
	}
	if p.EndDate, err = parseDate(q, "end_date", p.EndDate, loc); err != nil {
		return p, err
	}
	if p.BeginHour, err = parseInt(q, "begin_hours_per_day", p.BeginHour); err != nil {
		return p, err
	}
	if p.EndHour, err = parseInt(q, "end_hours_per_day", p.EndHour); err != nil {
		return p, err
	}
	if p.StepHours, err = parseInt(q, "step_hours", p.StepHours); err != nil {
		return p, err
	}

	span := p.EndDate.Sub(p.BeginDate)
	if span < 0 {
		span = -span
	}
	if span > config.MaxLogWindow {
		return p, fmt.Errorf("date range %s..%s exceeds %d days",
			p.BeginDate.Format(DateLayout), p.EndDate.Format(DateLayout), int(config.MaxLogWindow.Hours()/24))
	}
	return p, nil
}

// Window converts p into the planner input, extending the end by one day so
// the end date is included.
func (p LogParams) Window() occupancy.DayWindow {
	begin, end := p.BeginDate, p.EndDate
	if end.Before(begin) {
		// the planner swaps too, but the extension belongs to the later date
		begin, end = end, begin
	}
	return occupancy.DayWindow{
		BeginDate: begin,
		EndDate:   end.AddDate(0, 0, 1),
		BeginHour: p.BeginHour,
		EndHour:   p.EndHour,
		StepHours: p.StepHours,
	}
}

// ParseDate parses a YYYYMMDD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYYMMDD", s)
	}
	return t, nil
}

func parseDate(q url.Values, key string, fallback time.Time, loc *time.Location) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return fallback, nil
	}
	t, err := ParseDate(v, loc)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func parseInt(q url.Values, key string, fallback int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
