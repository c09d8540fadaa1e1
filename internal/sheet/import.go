// Package sheet reads transaction import workbooks and writes status and
// transaction reports as xlsx.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/vanshika/wastelca/internal/service"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

type column int

const (
	colID column = iota
	colOrganization
	colDocument
	colLine
	colDate
	colDirection
	colWeight
	colUnit
	colSlots
)

// headerAliases maps lower-cased header text to a column. Descriptor columns
// are matched by prefix instead.
var headerAliases = map[string]column{
	"id":                colID,
	"transaction id":    colID,
	"organization":      colOrganization,
	"organization code": colOrganization,
	"company":           colOrganization,
	"document":          colDocument,
	"document number":   colDocument,
	"doc no":            colDocument,
	"line":              colLine,
	"line number":       colLine,
	"date":              colDate,
	"occurred on":       colDate,
	"direction":         colDirection,
	"weight":            colWeight,
	"quantity":          colWeight,
	"unit":              colUnit,
	"slots":             colSlots,
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02.01.2006",
	"2006/01/02",
	"01/02/2006",
	"01-02-06",
}

// RowError reports a data row that could not be converted.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ParseTransactions reads the first sheet of an xlsx workbook. The first row
// is the header. Rows without an organization column get defaultOrg. Blank
// rows are skipped and line numbers default to the row's position within its
// document.
func ParseTransactions(r io.Reader, defaultOrg string) ([]service.TransactionInput, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns, descriptors := mapHeader(rows[0])
	for _, required := range []column{colDocument, colDate} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, columnName(required))
		}
	}
	if _, ok := columns[colOrganization]; !ok && strings.TrimSpace(defaultOrg) == "" {
		return nil, fmt.Errorf("%w: organization", ErrMissingColumn)
	}

	lineCounter := make(map[string]int)
	out := make([]service.TransactionInput, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if blankRow(row) {
			continue
		}
		input, err := parseRow(row, columns, descriptors, defaultOrg)
		if err != nil {
			return nil, &RowError{Row: rowNum, Err: err}
		}
		if input.LineNumber == 0 {
			key := strings.ToUpper(input.OrganizationCode) + "|" + input.DocumentNumber
			lineCounter[key]++
			input.LineNumber = lineCounter[key]
		}
		out = append(out, input)
	}
	return out, nil
}

func mapHeader(header []string) (map[column]int, []int) {
	columns := make(map[column]int)
	var descriptors []int
	for idx, raw := range header {
		name := strings.ToLower(strings.Join(strings.Fields(raw), " "))
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "descriptor") || name == "description" || name == "item" {
			descriptors = append(descriptors, idx)
			continue
		}
		if col, ok := headerAliases[name]; ok {
			if _, seen := columns[col]; !seen {
				columns[col] = idx
			}
		}
	}
	return columns, descriptors
}

func parseRow(row []string, columns map[column]int, descriptors []int, defaultOrg string) (service.TransactionInput, error) {
	cell := func(col column) string {
		idx, ok := columns[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	input := service.TransactionInput{
		ID:               cell(colID),
		OrganizationCode: cell(colOrganization),
		DocumentNumber:   cell(colDocument),
		Direction:        strings.ToLower(cell(colDirection)),
		Unit:             cell(colUnit),
	}
	if input.OrganizationCode == "" {
		input.OrganizationCode = defaultOrg
	}
	if input.DocumentNumber == "" {
		return input, errors.New("document number is empty")
	}

	date, err := parseDate(cell(colDate))
	if err != nil {
		return input, err
	}
	input.OccurredOn = date

	if v := cell(colLine); v != "" {
		line, err := strconv.Atoi(v)
		if err != nil {
			return input, fmt.Errorf("invalid line number %q", v)
		}
		input.LineNumber = line
	}
	if v := cell(colWeight); v != "" {
		weight, err := parseWeight(v)
		if err != nil {
			return input, fmt.Errorf("invalid weight %q", v)
		}
		input.Weight = weight
	}
	if v := cell(colSlots); v != "" {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
			if part = strings.TrimSpace(part); part != "" {
				input.Slots = append(input.Slots, part)
			}
		}
	}
	for _, idx := range descriptors {
		if idx < len(row) {
			if v := strings.TrimSpace(row[idx]); v != "" {
				input.Descriptors = append(input.Descriptors, v)
			}
		}
	}
	return input, nil
}

// parseDate accepts ISO and common local layouts, and raw Excel serial dates.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("date is empty")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial %q: %w", value, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func columnName(c column) string {
	switch c {
	case colDocument:
		return "document"
	case colDate:
		return "date"
	default:
		return strconv.Itoa(int(c))
	}
}

// parseWeight accepts both decimal separators. When both appear the last one
// is the decimal separator; a separator repeated on its own groups thousands.
func parseWeight(v string) (decimal.Decimal, error) {
	v = strings.ReplaceAll(strings.TrimSpace(v), " ", "")
	comma, dot := strings.LastIndex(v, ","), strings.LastIndex(v, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			v = strings.ReplaceAll(v, ".", "")
			v = strings.Replace(v, ",", ".", 1)
		} else {
			v = strings.ReplaceAll(v, ",", "")
		}
	case strings.Count(v, ",") > 1:
		v = strings.ReplaceAll(v, ",", "")
	case strings.Count(v, ".") > 1:
		v = strings.ReplaceAll(v, ".", "")
	case comma >= 0:
		v = strings.Replace(v, ",", ".", 1)
	}
	return decimal.NewFromString(v)
}
