package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/roomwatch/pkg/mode"
	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
	"github.com/nicktill/roomwatch/pkg/storage/memory"
)

const testRegistry = `
groups:
  - {id: g4m, name: "4F Men"}
entities:
  - {id: "11", name: "4F Men #1", group: g4m}
  - {id: "12", name: "4F Men #2", group: g4m, default_closed: true}
  - {id: "31", name: "4F Women", valid: false}
`

var testNow = time.Date(2019, 1, 3, 9, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2019, 1, day, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	svc   *Service
	store *memory.Storage
	sw    *mode.Switch
	reg   *registry.Static
}

func newFixture(t *testing.T, wrap func(storage.EventLog) storage.EventLog) *fixture {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistry))
	require.NoError(t, err)

	f := &fixture{store: memory.New(), sw: mode.New(mode.Running), reg: reg}
	var log storage.EventLog = f.store
	if wrap != nil {
		log = wrap(log)
	}
	f.svc = NewService(log, reg, f.sw, Options{
		Location: time.UTC,
		Clock:    func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) add(t *testing.T, id string, closed bool, ts time.Time) {
	t.Helper()
	err := f.store.Append(context.Background(), []occupancy.Event{{EntityID: id, Closed: closed, Timestamp: ts}})
	require.NoError(t, err)
}

// two occupancies in the first bucket, one running into the second
func (f *fixture) seed(t *testing.T) {
	f.add(t, "11", true, at(1, 10, 30))
	f.add(t, "11", false, at(1, 11, 0))
	f.add(t, "12", true, at(1, 11, 30))
	f.add(t, "12", false, at(1, 12, 30))
}

func testParams() LogParams {
	return LogParams{
		BeginDate: at(1, 0, 0),
		EndDate:   at(1, 0, 0),
		BeginHour: 10,
		EndHour:   14,
		StepHours: 2,
	}
}

func findGroup(t *testing.T, r *Report, id string) GroupSeries {
	t.Helper()
	for _, g := range r.Groups {
		if g.ID == id {
			return g
		}
	}
	t.Fatalf("group %s not in report", id)
	return GroupSeries{}
}

func TestService_Report(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	report, err := f.svc.Report(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, []string{"01-01 10:00~12:00", "01-01 12:00~14:00"}, report.Labels)
	assert.Equal(t, UnitHours, report.Unit)
	assert.Equal(t, 2, report.StepCount())
	assert.Empty(t, report.Corrections)

	g := findGroup(t, report, "g4m")
	assert.Equal(t, 2, g.Capacity)
	assert.Equal(t, []int{2, 0}, g.Frequency)
	require.Len(t, g.Occupancy, 2)
	assert.InDelta(t, 0.25, g.Occupancy[0], 1e-9)
	assert.InDelta(t, 0.125, g.Occupancy[1], 1e-9)

	women := findGroup(t, report, "name:4F Women")
	assert.False(t, women.Valid)
	assert.Equal(t, []int{0, 0}, women.Frequency)
	assert.Equal(t, []float64{0, 0}, women.Occupancy)
}

func TestService_ReportReversedDates(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	p := testParams()
	p.BeginDate, p.EndDate = at(2, 0, 0), at(1, 0, 0)

	report, err := f.svc.Report(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, report.Corrections)
	assert.Equal(t, "dates", report.Corrections[0].Field)
	assert.Len(t, report.Labels, 4)
	assert.Equal(t, []int{2, 0, 0, 0}, findGroup(t, report, "g4m").Frequency)
}

func TestService_Stopped(t *testing.T) {
	f := newFixture(t, nil)
	f.sw.Set(mode.Stopped)
	ctx := context.Background()

	_, err := f.svc.Status(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	_, err = f.svc.Report(ctx, testParams())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = f.svc.MinuteReport(ctx, at(1, 10, 0), at(1, 11, 0), 15)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestService_Status(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "11", true, at(1, 10, 0))

	statuses, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	men := statuses[0]
	assert.Equal(t, "g4m", men.ID)
	assert.Equal(t, 2, men.Max)
	// 11 closed by event, 12 closed by default
	assert.Equal(t, 2, men.Used)
	assert.Equal(t, 100, men.Rate100)

	f.add(t, "12", false, at(1, 10, 5))
	statuses, err = f.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, statuses[0].Used)
	assert.Equal(t, 50, statuses[0].Rate100)

	women := statuses[1]
	assert.False(t, women.Valid)
	assert.Zero(t, women.Used)
}

type flakyLog struct {
	storage.EventLog
	broken string
}

func (l flakyLog) LatestEvent(ctx context.Context, id string) (*occupancy.Event, error) {
	if id == l.broken {
		return nil, errors.New("read failed")
	}
	return l.EventLog.LatestEvent(ctx, id)
}

func (l flakyLog) ListEvents(ctx context.Context, q storage.Query) ([]occupancy.Event, error) {
	if len(q.EntityIDs) != 1 || q.EntityIDs[0] == l.broken {
		return nil, errors.New("read failed")
	}
	return l.EventLog.ListEvents(ctx, q)
}

func TestService_ExcludesUnreadableRooms(t *testing.T) {
	f := newFixture(t, func(l storage.EventLog) storage.EventLog {
		return flakyLog{EventLog: l, broken: "12"}
	})
	f.seed(t)

	report, err := f.svc.Report(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, report.Excluded)

	g := findGroup(t, report, "g4m")
	assert.True(t, g.Valid)
	assert.Equal(t, 1, g.Capacity)
	assert.Equal(t, []int{1, 0}, g.Frequency)
	assert.InDelta(t, 0.25, g.Occupancy[0], 1e-9)
	assert.InDelta(t, 0.0, g.Occupancy[1], 1e-9)

	statuses, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, statuses[0].Max)
	for _, d := range statuses[0].Details {
		if d.ID == "12" {
			assert.False(t, d.Valid)
		}
	}
}

func TestService_AllRoomsUnreadable(t *testing.T) {
	f := newFixture(t, func(l storage.EventLog) storage.EventLog {
		return flakyLog{EventLog: flakyLog{EventLog: l, broken: "11"}, broken: "12"}
	})
	f.seed(t)

	report, err := f.svc.Report(context.Background(), testParams())
	require.NoError(t, err)
	g := findGroup(t, report, "g4m")
	assert.False(t, g.Valid)
	assert.Equal(t, []int{0, 0}, g.Frequency)
}

func TestService_CancelledContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Report(ctx, testParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_MinuteReport(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	report, err := f.svc.MinuteReport(context.Background(), at(1, 10, 0), at(1, 12, 0), 30)
	require.NoError(t, err)

	assert.Equal(t, UnitMinutes, report.Unit)
	assert.Equal(t, 30, report.StepCount())
	require.Len(t, report.Labels, 4)
	assert.Equal(t, "2019-01-01 10:00", report.Labels[0])

	g := findGroup(t, report, "g4m")
	assert.Equal(t, []int{0, 1, 0, 1}, g.Frequency)
	assert.Nil(t, g.Occupancy)
}
