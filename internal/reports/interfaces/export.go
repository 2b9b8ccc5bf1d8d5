package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	reports "hydroponics-cloud/internal/reports/application"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

// ReadingColumns are the reading fields exported, in column order.
var ReadingColumns = []string{
	sensors.FieldPH,
	sensors.FieldEC,
	sensors.FieldSoilMoisture,
	sensors.FieldTemperature,
	sensors.FieldHumidity,
	sensors.FieldLightIntensity,
	sensors.FieldWaterLevel,
}

const (
	readingsSheet = "readings"
	alertsSheet   = "alerts"
	summarySheet  = "summary"
)

// BuildReportXLSX renders a report workbook with summary, readings and alerts sheets.
func BuildReportXLSX(report *reports.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Hydroponics Report")
	_ = f.SetCellValue(summarySheet, "A3", "Group")
	_ = f.SetCellValue(summarySheet, "B3", report.GroupID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", report.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", report.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Readings")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Readings))
	_ = f.SetCellValue(summarySheet, "A7", "Alerts raised")
	_ = f.SetCellValue(summarySheet, "B7", report.RaisedCount())
	_ = f.SetCellValue(summarySheet, "A8", "Generated")
	_ = f.SetCellValue(summarySheet, "B8", report.GeneratedAt.Format(time.RFC3339))

	header := append([]any{"timestamp"}, toAny(ReadingColumns)...)
	if err := f.SetSheetRow(readingsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, reading := range report.Readings {
		row := []any{reading.Timestamp.Format(time.RFC3339)}
		for _, field := range ReadingColumns {
			row = append(row, cellValue(reading, field))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(readingsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	alertHeader := []any{"occurred_at", "event", "parameter", "action", "current", "target", "magnitude", "message"}
	if err := f.SetSheetRow(alertsSheet, "A1", &alertHeader); err != nil {
		return nil, err
	}
	for i, entry := range report.Alerts {
		row := []any{
			entry.OccurredAt.Format(time.RFC3339),
			string(entry.Event),
			entry.Parameter,
			entry.Action,
			entry.Current,
			entry.Target,
			entry.Magnitude,
			entry.Message,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(alertsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportPDF renders a report document with a readings table and alert log.
func BuildReportPDF(report *reports.Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Hydroponics Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Group: %s", report.GroupID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s - %s", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d  Alerts raised: %d", len(report.Readings), report.RaisedCount()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Timestamp", "1", 0, "C", false, 0, "")
	for _, field := range ReadingColumns {
		pdf.CellFormat(32, 6, field, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, reading := range report.Readings {
		pdf.CellFormat(45, 6, reading.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		for _, field := range ReadingColumns {
			pdf.CellFormat(32, 6, fmt.Sprint(cellValue(reading, field)), "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(report.Alerts) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Alerts")
		pdf.Ln(7)
		pdf.SetFont("Arial", "", 9)
		for _, entry := range report.Alerts {
			line := fmt.Sprintf("%s  %-7s  %s  %s", entry.OccurredAt.Format("2006-01-02 15:04:05"), entry.Event, entry.Parameter, entry.Action)
			if entry.Message != "" {
				line += "  " + entry.Message
			}
			pdf.Cell(0, 5, line)
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellValue(reading sensors.Reading, field string) any {
	if !reading.Has(field) {
		return ""
	}
	if field == sensors.FieldWaterLevel {
		return reading.Text(field)
	}
	return reading.Number(field)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
