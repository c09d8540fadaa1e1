package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vanshika/wastelca/internal/domain"
)

const (
	statusSheet       = "Status"
	transactionsSheet = "Transactions"
)

// WriteStatusReport writes one row per aggregate status: scope, totals and
// one resolved/total column per slot kind.
func WriteStatusReport(w io.Writer, statuses []domain.AggregateStatus) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), statusSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"Organization", "Year", "Month", "Records", "Complete", "State"}
	for _, kind := range domain.AllSlotKinds() {
		header = append(header, string(kind))
	}
	if err := writeHeader(f, statusSheet, header); err != nil {
		return err
	}

	for i, status := range statuses {
		row := []any{
			status.Scope.OrganizationCode,
			optionalInt(status.Scope.Year),
			optionalInt(status.Scope.Month),
			status.Total,
			status.Complete,
			string(status.State),
		}
		progress := make(map[domain.SlotKind]domain.SlotProgress, len(status.Slots))
		for _, p := range status.Slots {
			progress[p.Kind] = p
		}
		for _, kind := range domain.AllSlotKinds() {
			p, ok := progress[kind]
			if !ok || p.Total == 0 {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%d/%d", p.Resolved, p.Total))
		}
		if err := setRow(f, statusSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(statusSheet, "A", "A", 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return writeTo(f, w)
}

// WriteTransactionPage writes records with their slot states, one column per slot kind.
func WriteTransactionPage(w io.Writer, records []domain.TransactionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), transactionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"ID", "Organization", "Direction", "Document", "Line", "Date", "Descriptors", "Weight", "Unit", "Status"}
	for _, kind := range domain.AllSlotKinds() {
		header = append(header, string(kind))
	}
	if err := writeHeader(f, transactionsSheet, header); err != nil {
		return err
	}

	for i, rec := range records {
		status := "incomplete"
		if rec.Complete() {
			status = "complete"
		}
		row := []any{
			rec.ID,
			rec.OrganizationCode,
			string(rec.Direction),
			rec.DocumentNumber,
			rec.LineNumber,
			rec.OccurredOn.Format("2006-01-02"),
			strings.Join(rec.Descriptors, "; "),
			rec.Weight.String(),
			rec.Unit,
			status,
		}
		for _, kind := range domain.AllSlotKinds() {
			row = append(row, slotCell(rec.Slots, kind))
		}
		if err := setRow(f, transactionsSheet, i+2, row); err != nil {
			return err
		}
	}
	return writeTo(f, w)
}

func slotCell(slots domain.MappingSlotSet, kind domain.SlotKind) string {
	state, ok := slots.Get(kind)
	switch {
	case !ok:
		return "-"
	case !state.Resolved:
		return "unresolved"
	case state.CandidateLabel != "":
		return state.CandidateLabel
	default:
		return state.CandidateID
	}
}

func writeHeader(f *excelize.File, sheet string, header []any) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

func writeTo(f *excelize.File, w io.Writer) error {
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func optionalInt(v int) any {
	if v <= 0 {
		return ""
	}
	return v
}
