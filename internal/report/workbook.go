// Package report renders batch reports as xlsx workbooks.
package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// Sheet names in the generated workbook.
const (
	SheetSummary    = "Summary"
	SheetViolations = "Violations"
	SheetDuplicates = "Duplicates"
)

const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var violationHeader = []string{"Entity", "State", "Bridge", "Record", "Field", "Rule", "Severity", "Description", "Reviewed", "Ignored", "Corrected"}

var duplicateHeader = []string{"Entity", "State", "Bridge", "Record", "Count"}

// Workbook renders a BatchReport as a three-sheet workbook.
type Workbook struct{}

var _ core.ReportRenderer = Workbook{}

func (Workbook) ContentType() string { return contentType }

func (Workbook) Render(r *core.BatchReport, violations []core.Violation) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if err := writeSummary(f, r, header); err != nil {
		return nil, err
	}
	if err := writeViolations(f, violations, header); err != nil {
		return nil, err
	}
	if err := writeDuplicates(f, r, header); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, r *core.BatchReport, style int) error {
	rows := [][]any{
		{"Submission", r.SubmissionID},
		{"Generated", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Total uploaded", r.TotalUploaded},
		{"Omitted", r.Omitted},
		{"Duplicated keys", r.DuplicateCount()},
		{"Temporary free", yesNo(r.TemporaryFree)},
		{},
		{"Entity", "Uploaded"},
	}
	for _, def := range core.Entities() {
		rows = append(rows, []any{def.Label, r.Uploaded[def.Type]})
	}
	rows = append(rows, []any{}, []any{"Severity", "Violations"})
	for _, sev := range core.Severities {
		rows = append(rows, []any{string(sev), r.ErrorCounts[sev]})
	}

	if len(r.Temporary) > 0 {
		codes := make([]string, 0, len(r.Temporary))
		for code := range r.Temporary {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		rows = append(rows, []any{}, []any{"Field", "Temporary values"})
		for _, code := range codes {
			rows = append(rows, []any{code, r.Temporary[code]})
		}
	}

	if len(r.NonQualifying) > 0 {
		rows = append(rows, []any{}, []any{"Non-qualifying bridge", "State"})
		for _, k := range r.NonQualifying {
			rows = append(rows, []any{k.BridgeNumber, k.StateCode})
		}
	}

	for i, row := range rows {
		if err := setRow(f, SheetSummary, i+1, row); err != nil {
			return err
		}
		if len(row) == 2 && (row[1] == "Uploaded" || row[1] == "Violations" || row[1] == "Temporary values" || row[1] == "State") {
			if err := styleRow(f, SheetSummary, i+1, len(row), style); err != nil {
				return err
			}
		}
	}
	return f.SetColWidth(SheetSummary, "A", "A", 28)
}

func writeViolations(f *excelize.File, violations []core.Violation, style int) error {
	if _, err := f.NewSheet(SheetViolations); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := setHeader(f, SheetViolations, violationHeader, style); err != nil {
		return err
	}

	sorted := append([]core.Violation(nil), violations...)
	core.SortViolations(sorted)
	for i, v := range sorted {
		row := []any{
			string(v.Key.Entity), v.Key.Bridge.StateCode, v.Key.Bridge.BridgeNumber, v.Key.SubID,
			v.FieldCode, v.RuleID, string(v.Severity), v.Description,
			marked(v.Flags.Reviewed), marked(v.Flags.Ignored), marked(v.Flags.Corrected),
		}
		if err := setRow(f, SheetViolations, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetViolations, "H", "H", 60)
}

func writeDuplicates(f *excelize.File, r *core.BatchReport, style int) error {
	if _, err := f.NewSheet(SheetDuplicates); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := setHeader(f, SheetDuplicates, duplicateHeader, style); err != nil {
		return err
	}

	row := 2
	for _, def := range core.Entities() {
		for _, g := range r.Duplicates[def.Type] {
			vals := []any{def.Label, g.Key.Bridge.StateCode, g.Key.Bridge.BridgeNumber, g.Key.SubID, g.Count}
			if err := setRow(f, SheetDuplicates, row, vals); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func setHeader(f *excelize.File, sheet string, cols []string, style int) error {
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = c
	}
	if err := setRow(f, sheet, 1, vals); err != nil {
		return err
	}
	return styleRow(f, sheet, 1, len(cols), style)
}

func setRow(f *excelize.File, sheet string, row int, vals []any) error {
	if len(vals) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}

func marked(m *core.FlagMark) string {
	if m == nil {
		return ""
	}
	return m.By
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
