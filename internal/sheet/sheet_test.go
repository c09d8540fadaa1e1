package sheet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vanshika/wastelca/internal/domain"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &values))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestParseTransactions(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Document Number", "Date", "Descriptor 1", "Descriptor 2", "Weight", "Unit", "Direction"},
		{"INV-1", "2024-03-15", "Mixed paper", "Bale", "12.5", "kg", "Inbound"},
		{"INV-1", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), "Cardboard", "", 3, "kg", "inbound"},
		{"", "", "", "", "", "", ""},
		{"INV-2", "15.03.2024", "Glass", "", "1,25", "t", "outbound"},
	})

	inputs, err := ParseTransactions(buf, "org1")
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	first := inputs[0]
	require.Equal(t, "org1", first.OrganizationCode)
	require.Equal(t, "INV-1", first.DocumentNumber)
	require.Equal(t, 1, first.LineNumber)
	require.Equal(t, []string{"Mixed paper", "Bale"}, first.Descriptors)
	require.True(t, decimal.RequireFromString("12.5").Equal(first.Weight))
	require.Equal(t, "inbound", first.Direction)
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), first.OccurredOn)

	second := inputs[1]
	require.Equal(t, 2, second.LineNumber, "line numbers count within a document")
	require.Equal(t, 16, second.OccurredOn.Day(), "serial dates are converted")
	require.Equal(t, []string{"Cardboard"}, second.Descriptors)

	third := inputs[2]
	require.Equal(t, 1, third.LineNumber)
	require.True(t, decimal.RequireFromString("1.25").Equal(third.Weight))
	require.Equal(t, time.March, third.OccurredOn.Month())
}

func TestParseWeightSeparators(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.5", "12.5"},
		{"1,25", "1.25"},
		{"1,234.5", "1234.5"},
		{"1.234,5", "1234.5"},
		{"1,234,567", "1234567"},
		{"1.234.567", "1234567"},
		{"1 234,5", "1234.5"},
	}
	for _, tc := range tests {
		got, err := parseWeight(tc.in)
		require.NoError(t, err, tc.in)
		require.True(t, decimal.RequireFromString(tc.want).Equal(got), "%s parsed as %s", tc.in, got)
	}

	_, err := parseWeight("1,2,3.4.5")
	require.Error(t, err)

	buf := workbook(t, [][]any{
		{"Document", "Date", "Weight"},
		{"INV-7", "2024-03-01", "1,234.5"},
	})
	inputs, err := ParseTransactions(buf, "ORG1")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.True(t, decimal.RequireFromString("1234.5").Equal(inputs[0].Weight))
}

func TestParseTransactionsExplicitColumns(t *testing.T) {
	buf := workbook(t, [][]any{
		{"ID", "Organization", "Document", "Line", "Date", "Slots"},
		{"T-9", "ORG2", "D-9", "4", "2024-01-02", "item; client"},
	})
	inputs, err := ParseTransactions(buf, "")
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, "T-9", inputs[0].ID)
	require.Equal(t, "ORG2", inputs[0].OrganizationCode)
	require.Equal(t, 4, inputs[0].LineNumber)
	require.Equal(t, []string{"item", "client"}, inputs[0].Slots)
}

func TestParseTransactionsErrors(t *testing.T) {
	_, err := ParseTransactions(workbook(t, [][]any{{"Date", "Weight"}, {"2024-01-01", "1"}}), "ORG1")
	require.ErrorIs(t, err, ErrMissingColumn)

	_, err = ParseTransactions(workbook(t, [][]any{{"Document", "Date"}, {"D1", "2024-01-01"}}), "")
	require.ErrorIs(t, err, ErrMissingColumn, "organization is required when no default is given")

	_, err = ParseTransactions(workbook(t, [][]any{{"Document", "Date", "Weight"}, {"D1", "yesterday", "1"}}), "ORG1")
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	require.Equal(t, 2, rowErr.Row)

	_, err = ParseTransactions(bytes.NewReader([]byte("not a workbook")), "ORG1")
	require.Error(t, err)
}

func TestWriteStatusReport(t *testing.T) {
	statuses := []domain.AggregateStatus{{
		Scope:    domain.Scope{OrganizationCode: "ORG1", Year: 2024, Month: 3},
		Total:    3,
		Complete: 1,
		State:    domain.StateNeedsAttention,
		Slots: []domain.SlotProgress{
			{Kind: domain.SlotLineItem, Resolved: 2, Total: 3},
			{Kind: domain.SlotClient, Resolved: 1, Total: 3},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteStatusReport(&buf, statuses))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(statusSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Organization", rows[0][0])
	require.Equal(t, []string{"ORG1", "2024", "3", "3", "1", "needs_attention", "2/3", "1/3", "-", "-"}, rows[1])
}

func TestWriteTransactionPage(t *testing.T) {
	slots := domain.NewMappingSlotSet(domain.SlotLineItem, domain.SlotClient)
	slots, err := slots.With(domain.ResolvedTo(domain.SlotLineItem, "item-1", "Mixed paper"))
	require.NoError(t, err)

	records := []domain.TransactionRecord{{
		ID:               "T1",
		OrganizationCode: "ORG1",
		Direction:        domain.DirectionInbound,
		DocumentNumber:   "INV-1",
		LineNumber:       1,
		OccurredOn:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Descriptors:      []string{"paper", "bale"},
		Weight:           decimal.RequireFromString("12.5"),
		Unit:             "kg",
		Slots:            slots,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteTransactionPage(&buf, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(transactionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{
		"T1", "ORG1", "inbound", "INV-1", "1", "2024-03-15", "paper; bale", "12.5", "kg", "incomplete",
		"Mixed paper", "unresolved", "-", "-",
	}, rows[1])
}
