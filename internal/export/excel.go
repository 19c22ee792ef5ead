// Package export renders the detection log as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
)

const (
	// ContentType is the MIME type of the workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	DetectionsSheet = "Detections"
	SummarySheet    = "Summary"
)

// Filename returns the download name for a workbook generated at t
func Filename(t time.Time) string {
	return fmt.Sprintf("PPE_Detection_Log_%s.xlsx", t.Format(logstore.TimestampLayout))
}

// Summary is the single row of the Summary sheet
type Summary struct {
	TotalDetections int
	UniqueClasses   int
	DateRange       string
}

// Summarize computes the Summary sheet values. The date range compares the
// raw timestamp strings, which sort chronologically in the log's layout.
func Summarize(records []logstore.Record) Summary {
	classes := make(map[string]struct{})
	var first, last string
	for i, r := range records {
		classes[r.Class] = struct{}{}
		if i == 0 || r.Timestamp < first {
			first = r.Timestamp
		}
		if i == 0 || r.Timestamp > last {
			last = r.Timestamp
		}
	}

	dateRange := "N/A"
	if len(records) > 0 {
		dateRange = fmt.Sprintf("%s to %s", first, last)
	}

	return Summary{
		TotalDetections: len(records),
		UniqueClasses:   len(classes),
		DateRange:       dateRange,
	}
}

// WriteWorkbook writes the Detections and Summary sheets to w
func WriteWorkbook(w io.Writer, records []logstore.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DetectionsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(DetectionsSheet)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	header := make([]interface{}, len(logstore.Columns))
	for i, c := range logstore.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, []interface{}{r.Timestamp, r.Snapshot, r.Class, r.Confidence}); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush detections: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	s := Summarize(records)
	if err := f.SetSheetRow(SummarySheet, "A1", &[]interface{}{"Total Detections", "Unique Classes", "Date Range"}); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}
	if err := f.SetSheetRow(SummarySheet, "A2", &[]interface{}{s.TotalDetections, s.UniqueClasses, s.DateRange}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
