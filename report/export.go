package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/task"
)

// CSVHeader is the header row of WriteCSV.
var CSVHeader = append(append([]string{"name"}, formula.Names...), "pciUnits", "aiVerifiedUnits", "aas", "auditStatus")

func fixed(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// textCell quotes a free-text value that a spreadsheet would otherwise
// evaluate as a formula.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

// WriteCSV writes one row per live task, oldest first. Numbers use two
// decimals; a missing aas is left empty.
func WriteCSV(w io.Writer, tasks []*task.Task) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, t := range sortedTasks(tasks) {
		if t == nil || t.Deleted {
			continue
		}
		row := make([]string, 0, len(CSVHeader))
		row = append(row, textCell(t.Name))
		for _, v := range t.Factors.Values() {
			row = append(row, fixed(v))
		}
		aas := ""
		if t.AAS != nil {
			aas = fixed(*t.AAS)
		}
		row = append(row, fixed(t.PCIUnits), fixed(t.VerifiedUnits()), aas, string(t.AuditStatus))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Sheet names used by WriteXLSX.
const (
	SheetTasks      = "Tasks"
	SheetSummary    = "Summary"
	SheetCategories = "Categories"
)

// WriteXLSX writes a workbook with the task rows, the report summary and
// the category distribution.
func WriteXLSX(w io.Writer, r ReportData, tasks []*task.Task) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes Tasks.
	if err := f.SetSheetName("Sheet1", SheetTasks); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetSummary, SheetCategories} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
	}

	writeRow := func(sheet string, row int, values ...any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &values)
	}

	header := make([]any, len(CSVHeader))
	for i, h := range CSVHeader {
		header[i] = h
	}
	if err := writeRow(SheetTasks, 1, header...); err != nil {
		return err
	}
	row := 2
	for _, t := range sortedTasks(tasks) {
		if t == nil || t.Deleted {
			continue
		}
		values := []any{t.Name}
		for _, v := range t.Factors.Values() {
			values = append(values, v)
		}
		var aas any = ""
		if t.AAS != nil {
			aas = *t.AAS
		}
		values = append(values, t.PCIUnits, t.VerifiedUnits(), aas, string(t.AuditStatus))
		if err := writeRow(SheetTasks, row, values...); err != nil {
			return err
		}
		row++
	}
	_ = f.SetColWidth(SheetTasks, "A", "A", 32)

	s := r.Summary
	summary := [][]any{
		{"Generated", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Currency", s.Currency},
		{"Total tasks", s.TotalTasks},
		{"Pending", s.PendingTasks},
		{"Approved", s.ApprovedTasks},
		{"Rejected", s.RejectedTasks},
		{"Total PCI", s.TotalPCI},
		{"Verified units", s.TotalVerifiedUnits},
		{"Verified cost", s.VerifiedCost},
		{"Average AAS", s.AverageAAS},
		{"Original estimate", s.Savings.OriginalEstimate},
		{"Optimized estimate", s.Savings.OptimizedEstimate},
		{"AI verification savings", s.Savings.AIVerificationSavings},
		{"Vendor rate savings", s.Savings.VendorRateSavings},
		{"Budget efficiency", s.Savings.BudgetEfficiency},
		{"Actual spent", s.Savings.ActualSpent},
		{"Total savings", s.Savings.TotalSavings},
		{"Efficiency %", s.Savings.EfficiencyPercentage},
	}
	for i, values := range summary {
		if err := writeRow(SheetSummary, i+1, values...); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 26)

	c := r.CategoryDistribution
	categories := [][]any{
		{"Category", "PCI units"},
		{"Scope & Complexity", c.ScopeComplexity},
		{"Risk & Engineering", c.RiskEngineering},
		{"Multi-Layer", c.MultiLayer},
		{"Specialty & Governance", c.SpecialtyGovernance},
		{"Total", c.Total()},
	}
	for i, values := range categories {
		if err := writeRow(SheetCategories, i+1, values...); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetCategories, "A", "A", 26)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
