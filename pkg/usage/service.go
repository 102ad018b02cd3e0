// Package usage is the read side of roomwatch: the live status snapshot and
// the historical frequency/occupancy reports.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/metrics"
	"github.com/nicktill/roomwatch/pkg/mode"
	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
)

// ErrStopped is returned while the system mode is stopped.
var ErrStopped = errors.New("system is stopped; usage is not reported")

// PreWindowNote is attached to every report.
const PreWindowNote = "rooms that were already occupied when the window began are not counted until their next door event"

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Location *time.Location
	Clock    func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Service computes usage from the registry and the event log.
type Service struct {
	events  storage.EventLog
	reg     registry.Registry
	mode    *mode.Switch
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a usage service.
func NewService(events storage.EventLog, reg registry.Registry, sw *mode.Switch, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		events:  events,
		reg:     reg,
		mode:    sw,
		loc:     opts.Location,
		now:     opts.Clock,
		logger:  opts.Logger.Named("usage"),
		metrics: opts.Metrics,
	}
}

// Location is the zone reports are planned in.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the service clock in its location.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Status returns the current snapshot of every group. Rooms whose latest
// event cannot be read are left out of their group.
func (s *Service) Status(ctx context.Context) ([]occupancy.GroupStatus, error) {
	if !s.mode.Running() {
		return nil, ErrStopped
	}
	start := time.Now()
	defer func() { s.metrics.ObserveAggregation("status", time.Since(start)) }()

	groups, err := s.reg.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	latest := make(map[string]occupancy.Event)
	for gi := range groups {
		g := &groups[gi]
		dropped := false
		for mi := range g.Members {
			m := &g.Members[mi]
			if !m.Valid {
				continue
			}
			ev, err := s.events.LatestEvent(ctx, m.ID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				s.logger.Warn("excluding room from status", zap.String("entity", m.ID), zap.Error(err))
				m.Valid = false
				dropped = true
				continue
			}
			if ev != nil {
				latest[m.ID] = *ev
			}
		}
		if dropped && g.Capacity() == 0 {
			g.Valid = false
		}
	}

	statuses := occupancy.Snapshot(groups, latest)
	for _, st := range statuses {
		s.metrics.SetGroupUsage(st.ID, st.Used, st.Max)
	}
	return statuses, nil
}

// Report builds the hourly frequency and occupancy report for p.
func (s *Service) Report(ctx context.Context, p LogParams) (*Report, error) {
	if !s.mode.Running() {
		return nil, ErrStopped
	}
	start := time.Now()
	defer func() { s.metrics.ObserveAggregation("logs", time.Since(start)) }()

	plan := occupancy.PlanBuckets(p.Window())
	if p.EndDate.Before(p.BeginDate) {
		plan.Corrections = append([]occupancy.Correction{{
			Field: "dates",
			From:  p.BeginDate.Format(DateLayout) + ".." + p.EndDate.Format(DateLayout),
			To:    p.EndDate.Format(DateLayout) + ".." + p.BeginDate.Format(DateLayout),
		}}, plan.Corrections...)
	}
	s.logCorrections("logs", plan.Corrections)

	groups, excluded, err := s.collect(ctx, plan)
	if err != nil {
		return nil, err
	}

	frequency := occupancy.AggregateFrequency(plan, groups, occupancy.OccupancyStarted)
	occ := occupancy.AggregateOccupancy(plan, groups)

	report := newReport(plan, UnitHours, groups, excluded)
	for i := range report.Groups {
		id := report.Groups[i].ID
		report.Groups[i].Frequency = frequency[id]
		report.Groups[i].Occupancy = occ[id]
	}
	return report, nil
}

// MinuteReport builds a frequency-only report stepping stepMinutes from
// begin to end without a daily window.
func (s *Service) MinuteReport(ctx context.Context, begin, end time.Time, stepMinutes int) (*Report, error) {
	if !s.mode.Running() {
		return nil, ErrStopped
	}
	start := time.Now()
	defer func() { s.metrics.ObserveAggregation("minute_log", time.Since(start)) }()

	plan := occupancy.PlanMinuteBuckets(begin, end, stepMinutes)
	s.logCorrections("minute_log", plan.Corrections)

	groups, excluded, err := s.collect(ctx, plan)
	if err != nil {
		return nil, err
	}

	frequency := occupancy.AggregateFrequency(plan, groups, occupancy.OccupancyStarted)
	report := newReport(plan, UnitMinutes, groups, excluded)
	for i := range report.Groups {
		report.Groups[i].Frequency = frequency[report.Groups[i].ID]
	}
	return report, nil
}

// collect loads each group's events for the whole plan with one query per
// group. When a group query fails, members are retried one by one and the
// failing ones are excluded.
func (s *Service) collect(ctx context.Context, plan occupancy.Plan) ([]occupancy.GroupEvents, []string, error) {
	groups, err := s.reg.ListGroups(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list groups: %w", err)
	}

	var excluded []string
	out := make([]occupancy.GroupEvents, 0, len(groups))
	for _, g := range groups {
		ids := g.MemberIDs()
		if len(plan.Buckets) == 0 || !g.Valid || len(ids) == 0 {
			out = append(out, occupancy.GroupEvents{Group: g})
			continue
		}

		q := storage.Query{EntityIDs: ids, Start: plan.Begin(), End: plan.End()}
		events, err := s.events.ListEvents(ctx, q)
		if err == nil {
			out = append(out, occupancy.GroupEvents{Group: g, Events: events})
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		s.logger.Warn("group query failed, retrying per room", zap.String("group", g.ID), zap.Error(err))

		events = events[:0]
		for mi := range g.Members {
			m := &g.Members[mi]
			if !m.Valid {
				continue
			}
			q.EntityIDs = []string{m.ID}
			memberEvents, err := s.events.ListEvents(ctx, q)
			if err != nil {
				s.logger.Warn("excluding room from report", zap.String("entity", m.ID), zap.Error(err))
				m.Valid = false
				excluded = append(excluded, m.ID)
				continue
			}
			events = append(events, memberEvents...)
		}
		storage.SortEvents(events)
		if g.Capacity() == 0 {
			g.Valid = false
		}
		out = append(out, occupancy.GroupEvents{Group: g, Events: events})
	}
	return out, excluded, nil
}

func (s *Service) logCorrections(endpoint string, corrections []occupancy.Correction) {
	for _, c := range corrections {
		s.logger.Warn("parameter corrected",
			zap.String("endpoint", endpoint),
			zap.String("field", c.Field),
			zap.String("from", c.From),
			zap.String("to", c.To))
	}
}
