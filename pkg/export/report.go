package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/nicktill/roomwatch/pkg/usage"
)

// Report formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var reportHeader = []string{"bucket", "begin", "end", "group_id", "group", "frequency", "occupancy"}

// reportRow is one (bucket, group) cell of a usage report.
type reportRow struct {
	label     string
	begin     time.Time
	end       time.Time
	groupID   string
	group     string
	frequency int
	occupancy float64
}

// rows flattens r bucket by bucket, groups in report order.
func rows(r *usage.Report) []reportRow {
	out := make([]reportRow, 0, len(r.Buckets)*len(r.Groups))
	for i, b := range r.Buckets {
		for _, g := range r.Groups {
			row := reportRow{label: b.Label, begin: b.Begin, end: b.End, groupID: g.ID, group: g.Name}
			if i < len(g.Frequency) {
				row.frequency = g.Frequency[i]
			}
			if i < len(g.Occupancy) {
				row.occupancy = g.Occupancy[i]
			}
			out = append(out, row)
		}
	}
	return out
}

// WriteReportCSV writes r as CSV, one line per bucket and group.
func WriteReportCSV(w io.Writer, r *usage.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows(r) {
		record := []string{
			row.label,
			row.begin.Format(time.RFC3339),
			row.end.Format(time.RFC3339),
			row.groupID,
			row.group,
			strconv.Itoa(row.frequency),
			strconv.FormatFloat(row.occupancy, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// BuildReportXLSX renders r as a workbook with a summary sheet and a usage
// sheet.
func BuildReportXLSX(r *usage.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	usageSheet := "usage"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(usageSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Restroom Usage Report")
	_ = f.SetCellValue(summarySheet, "A3", "Step")
	_ = f.SetCellValue(summarySheet, "B3", fmt.Sprintf("%d %s", r.StepCount(), r.Unit))
	_ = f.SetCellValue(summarySheet, "A4", "Buckets")
	_ = f.SetCellValue(summarySheet, "B4", len(r.Buckets))
	_ = f.SetCellValue(summarySheet, "A5", "Group")
	_ = f.SetCellValue(summarySheet, "B5", "Capacity")
	_ = f.SetCellValue(summarySheet, "C5", "Valid")
	_ = f.SetCellValue(summarySheet, "D5", "Total frequency")
	for i, g := range r.Groups {
		row := i + 6
		total := 0
		for _, n := range g.Frequency {
			total += n
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), g.Name)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), g.Capacity)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), g.Valid)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), total)
	}

	for col, title := range reportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(usageSheet, cell, title)
	}
	for i, row := range rows(r) {
		n := i + 2
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("A%d", n), row.label)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("B%d", n), row.begin)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("C%d", n), row.end)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("D%d", n), row.groupID)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("E%d", n), row.group)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("F%d", n), row.frequency)
		_ = f.SetCellValue(usageSheet, fmt.Sprintf("G%d", n), row.occupancy)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportPDF renders r as a single table.
func BuildReportPDF(r *usage.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Restroom Usage Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Step: %d %s", r.StepCount(), r.Unit))
	pdf.Ln(5)
	if len(r.Buckets) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Range: %s to %s",
			r.Buckets[0].Begin.Format(time.RFC3339), r.Buckets[len(r.Buckets)-1].End.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	for _, c := range r.Corrections {
		pdf.Cell(0, 6, "Corrected "+c.String())
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Bucket", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Group", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Frequency", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Occupancy", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows(r) {
		pdf.CellFormat(45, 6, row.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, row.group, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, strconv.Itoa(row.frequency), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f%%", row.occupancy*100), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
