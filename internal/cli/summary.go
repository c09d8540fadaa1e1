package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vanshika/wastelca/internal/api"
)

func newSummaryCommand(a *app) *cobra.Command {
	var (
		orgs  []string
		year  int
		month int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show completion status per organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := a.aggregator.SummarizeMany(cmd.Context(), normalizeOrgs(orgs), year, month)
			if err != nil {
				return err
			}
			payload := api.StatusListDTO{Items: make([]api.StatusDTO, 0, len(statuses))}
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				payload.Items = append(payload.Items, api.FromStatus(s))
				row := []string{s.Scope.OrganizationCode, strconv.FormatInt(s.Total, 10), strconv.FormatInt(s.Complete, 10), string(s.State)}
				rows = append(rows, append(row, progressCells(s.Slots)...))
			}
			return a.render(payload, slotHeaders("ORG", "RECORDS", "COMPLETE", "STATE"), rows)
		},
	}
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organization codes, comma separated or repeated")
	cmd.Flags().IntVar(&year, "year", 0, "year")
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12, requires --year)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <transaction-id>",
		Short: "Show the commit history of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := a.client.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					e.OccurredAt,
					e.Actor,
					e.Slot,
					e.PreviousCandidateID,
					e.CandidateID,
					strconv.FormatInt(e.Revision, 10),
				})
			}
			return a.render(api.HistoryDTO{TransactionID: args[0], Items: events}, []string{"WHEN", "ACTOR", "SLOT", "FROM", "TO", "REVISION"}, rows)
		},
	}
}

func normalizeOrgs(orgs []string) []string {
	out := make([]string, 0, len(orgs))
	for _, org := range orgs {
		if org = strings.ToUpper(strings.TrimSpace(org)); org != "" {
			out = append(out, org)
		}
	}
	return out
}
