package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vanshika/wastelca/internal/api"
	"github.com/vanshika/wastelca/internal/domain"
)

type scopeFlags struct {
	org   string
	year  int
	month int
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.org, "org", "", "organization code")
	cmd.Flags().IntVar(&f.year, "year", 0, "year")
	cmd.Flags().IntVar(&f.month, "month", 0, "month (1-12, requires --year)")
}

func (f *scopeFlags) scope() domain.Scope {
	return domain.Scope{OrganizationCode: strings.ToUpper(strings.TrimSpace(f.org)), Year: f.year, Month: f.month}
}

type filterFlags struct {
	scopeFlags
	document  string
	direction string
	status    string
	slots     []string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	f.scopeFlags.register(cmd)
	cmd.Flags().StringVar(&f.document, "document", "", "document number")
	cmd.Flags().StringVar(&f.direction, "direction", "", "inbound or outbound")
	cmd.Flags().StringVar(&f.status, "status", "", "overall status: complete or incomplete")
	cmd.Flags().StringArrayVar(&f.slots, "slot", nil, "per-slot status as kind=status, repeatable")
}

func (f *filterFlags) filter() (domain.TransactionFilter, error) {
	filter := f.scope().Filter()
	filter.DocumentNumber = strings.TrimSpace(f.document)
	if f.direction != "" {
		filter.Direction = domain.Direction(strings.ToLower(strings.TrimSpace(f.direction)))
	}
	overall, err := domain.ParseStatusFilter(f.status)
	if err != nil {
		return domain.TransactionFilter{}, err
	}
	filter.Overall = overall
	for _, raw := range f.slots {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return domain.TransactionFilter{}, fmt.Errorf("--slot %q: want kind=status", raw)
		}
		kind, err := domain.ParseSlotKind(name)
		if err != nil {
			return domain.TransactionFilter{}, err
		}
		status, err := domain.ParseStatusFilter(value)
		if err != nil {
			return domain.TransactionFilter{}, err
		}
		filter = filter.WithSlotStatus(kind, status)
	}
	return filter, filter.Validate()
}

func newQueryCommand(a *app) *cobra.Command {
	var (
		flags    filterFlags
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List transactions matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			result, err := a.queries.Query(cmd.Context(), filter, page, pageSize)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(result.Records))
			for _, rec := range result.Records {
				status := "incomplete"
				if rec.Complete() {
					status = "complete"
				}
				row := []string{
					rec.ID,
					rec.OrganizationCode,
					rec.DocumentNumber,
					strconv.Itoa(rec.LineNumber),
					rec.OccurredOn.Format("2006-01-02"),
					status,
				}
				for _, kind := range domain.AllSlotKinds() {
					row = append(row, slotCell(rec.Slots, kind))
				}
				rows = append(rows, row)
			}
			if err := a.render(api.FromPage(result), slotHeaders("ID", "ORG", "DOCUMENT", "LINE", "DATE", "STATUS"), rows); err != nil {
				return err
			}
			if a.settings.Output == outputTable {
				fmt.Fprintf(a.out, "page %d of %d, %d records\n", result.Page, result.TotalPages(), result.TotalCount)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "records per page")
	return cmd
}
