package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	exportSheet    = "Ledgers"
	exportPageSize = 500
)

type exportColumn struct {
	header string
	width  float64
	value  func(l *Ledger) interface{}
}

func money(d decimal.Decimal) interface{} {
	return d.InexactFloat64()
}

func optTime(t *time.Time, layout string) interface{} {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

var exportColumns = func() []exportColumn {
	cols := []exportColumn{
		{"Bill Number", 24, func(l *Ledger) interface{} { return l.BillNumber }},
		{"Admission ID", 38, func(l *Ledger) interface{} { return l.AdmissionID.String() }},
		{"Patient ID", 38, func(l *Ledger) interface{} { return l.PatientID.String() }},
		{"Status", 12, func(l *Ledger) interface{} { return string(l.PaymentStatus) }},
		{"Days", 8, func(l *Ledger) interface{} { return l.DayCount }},
		{"Last Charge Date", 16, func(l *Ledger) interface{} { return optTime(l.LastChargeDate, "2006-01-02") }},
	}
	for _, c := range Categories {
		c := c
		cols = append(cols, exportColumn{string(c), 14, func(l *Ledger) interface{} { return money(l.Charge(c)) }})
	}
	return append(cols,
		exportColumn{"Subtotal", 14, func(l *Ledger) interface{} { return money(l.Subtotal) }},
		exportColumn{"Tax", 12, func(l *Ledger) interface{} { return money(l.Tax) }},
		exportColumn{"Discount", 12, func(l *Ledger) interface{} { return money(l.Discount) }},
		exportColumn{"Total", 14, func(l *Ledger) interface{} { return money(l.TotalAmount) }},
		exportColumn{"Paid", 14, func(l *Ledger) interface{} { return money(l.PaidAmount) }},
		exportColumn{"Insurance Claimed", 18, func(l *Ledger) interface{} { return money(l.InsuranceClaimed) }},
		exportColumn{"Insurance Approved", 18, func(l *Ledger) interface{} { return money(l.InsuranceApproved) }},
		exportColumn{"Balance", 14, func(l *Ledger) interface{} { return money(l.BalanceAmount) }},
		exportColumn{"Payment Date", 20, func(l *Ledger) interface{} { return optTime(l.PaymentDate, time.RFC3339) }},
		exportColumn{"Created At", 20, func(l *Ledger) interface{} { return l.CreatedAt.Format(time.RFC3339) }},
	)
}()

// Export renders every ledger matching f as an XLSX workbook, one row per
// ledger.
func (s *LedgerService) Export(ctx context.Context, f LedgerFilter) ([]byte, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	var all []*Ledger
	for {
		page, total, err := s.repo.List(ctx, f, exportPageSize, len(all))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
	}
	return renderLedgers(all)
}

func renderLedgers(ledgers []*Ledger) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, col := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, col.header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(exportSheet, name, name, col.width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for r, l := range ledgers {
		for i, col := range exportColumns {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(exportSheet, cell, col.value(l)); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
