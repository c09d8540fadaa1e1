package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/sheet"
)

func newExportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write status or transaction reports as xlsx",
	}
	cmd.AddCommand(newExportSummaryCommand(a), newExportTransactionsCommand(a))
	return cmd
}

func newExportSummaryCommand(a *app) *cobra.Command {
	var (
		orgs  []string
		year  int
		month int
		file  string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Export completion status per organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := a.aggregator.SummarizeMany(cmd.Context(), normalizeOrgs(orgs), year, month)
			if err != nil {
				return err
			}
			return a.writeFile(file, func(w io.Writer) error {
				return sheet.WriteStatusReport(w, statuses)
			}, len(statuses), "organizations")
		},
	}
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organization codes, comma separated or repeated")
	cmd.Flags().IntVar(&year, "year", 0, "year")
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12, requires --year)")
	cmd.Flags().StringVarP(&file, "file", "f", "status.xlsx", "output file")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newExportTransactionsCommand(a *app) *cobra.Command {
	var (
		flags filterFlags
		file  string
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Export every transaction matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			var records []domain.TransactionRecord
			if err := a.queries.All(cmd.Context(), filter, 200, func(rec domain.TransactionRecord) error {
				records = append(records, rec)
				return nil
			}); err != nil {
				return err
			}
			return a.writeFile(file, func(w io.Writer) error {
				return sheet.WriteTransactionPage(w, records)
			}, len(records), "transactions")
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "transactions.xlsx", "output file")
	return cmd
}

// writeFile writes to path, or to the command output when path is "-".
func (a *app) writeFile(path string, write func(io.Writer) error, count int, noun string) error {
	if path == "-" {
		return write(a.out)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "wrote %d %s to %s\n", count, noun, path)
	return nil
}
