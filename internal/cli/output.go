package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vanshika/wastelca/internal/domain"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// render writes payload as indented JSON, or as a table built by rows.
func (a *app) render(payload any, headers []string, rows [][]string) error {
	if a.settings.Output == outputJSON {
		return writeJSON(a.out, payload)
	}
	return writeTable(a.out, headers, rows)
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func slotCell(slots domain.MappingSlotSet, kind domain.SlotKind) string {
	state, ok := slots.Get(kind)
	switch {
	case !ok:
		return "-"
	case !state.Resolved:
		return "?"
	case state.CandidateLabel != "":
		return state.CandidateLabel
	default:
		return state.CandidateID
	}
}

func slotHeaders(prefix ...string) []string {
	headers := append([]string(nil), prefix...)
	for _, kind := range domain.AllSlotKinds() {
		headers = append(headers, strings.ToUpper(string(kind)))
	}
	return headers
}

func progressCells(slots []domain.SlotProgress) []string {
	byKind := make(map[domain.SlotKind]domain.SlotProgress, len(slots))
	for _, p := range slots {
		byKind[p.Kind] = p
	}
	var cells []string
	for _, kind := range domain.AllSlotKinds() {
		p, ok := byKind[kind]
		if !ok || p.Total == 0 {
			cells = append(cells, "-")
			continue
		}
		cells = append(cells, fmt.Sprintf("%d/%d", p.Resolved, p.Total))
	}
	return cells
}
