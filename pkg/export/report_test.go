package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/usage"
)

func testReport() *usage.Report {
	day := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := occupancy.PlanBuckets(occupancy.DayWindow{
		BeginDate: day,
		EndDate:   day.AddDate(0, 0, 1),
		BeginHour: 10,
		EndHour:   14,
		StepHours: 2,
	})
	return &usage.Report{
		Labels:  plan.Labels(),
		Buckets: plan.Buckets,
		Step:    plan.Step,
		Unit:    usage.UnitHours,
		Groups: []usage.GroupSeries{
			{ID: "g4m", Name: "4F Men", Valid: true, Capacity: 2, Frequency: []int{2, 0}, Occupancy: []float64{0.25, 0.125}},
			{ID: "g4w", Name: "4F Women", Capacity: 0, Frequency: []int{0, 0}, Occupancy: []float64{0, 0}},
		},
	}
}

func TestWriteReportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReportCSV(&buf, testReport()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, reportHeader, records[0])
	assert.Equal(t, []string{"01-01 10:00~12:00", "2019-01-01T10:00:00Z", "2019-01-01T12:00:00Z", "g4m", "4F Men", "2", "0.2500"}, records[1])
	assert.Equal(t, "g4w", records[2][3])
	assert.Equal(t, "0.1250", records[3][6])
}

func TestBuildReportXLSX(t *testing.T) {
	data, err := BuildReportXLSX(testReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"summary", "usage"}, f.GetSheetList())

	name, err := f.GetCellValue("summary", "A6")
	require.NoError(t, err)
	assert.Equal(t, "4F Men", name)
	total, err := f.GetCellValue("summary", "D6")
	require.NoError(t, err)
	assert.Equal(t, "2", total)

	rows, err := f.GetRows("usage")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, "bucket", rows[0][0])
	assert.Equal(t, "01-01 12:00~14:00", rows[3][0])
}

func TestBuildReportPDF(t *testing.T) {
	data, err := BuildReportPDF(testReport())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}
