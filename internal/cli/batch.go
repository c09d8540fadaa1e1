package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vanshika/wastelca/internal/api"
	"github.com/vanshika/wastelca/internal/domain"
)

type batchResultDTO struct {
	Job    api.BatchJobDTO `json:"job"`
	Status *api.StatusDTO  `json:"status,omitempty"`
}

func newBatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run batch operations on the server",
	}
	cmd.AddCommand(newBatchRunCommand(a), newBatchJobCommand(a))
	return cmd
}

func newBatchRunCommand(a *app) *cobra.Command {
	var (
		scope  scopeFlags
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "run <import|automap|calculate>",
		Short: "Start a batch operation and wait for it by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := domain.ParseBatchOperation(args[0])
			if err != nil {
				return err
			}
			s := scope.scope()
			req := domain.BatchRequest{OrganizationCode: s.OrganizationCode, Year: s.Year, Month: s.Month, Actor: a.settings.Actor}
			ctx := cmd.Context()

			if noWait {
				job, err := a.aggregator.Trigger(ctx, op, req)
				if err != nil {
					return err
				}
				return a.renderJob(batchResultDTO{Job: api.FromBatchJob(job)}, job)
			}

			job, status, runErr := a.aggregator.RunBatch(ctx, op, req)
			if job.ID == "" {
				return runErr
			}
			result := batchResultDTO{Job: api.FromBatchJob(job)}
			if status.Scope.OrganizationCode != "" {
				dto := api.FromStatus(status)
				result.Status = &dto
			}
			if err := a.renderJob(result, job); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
	scope.register(cmd)
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return as soon as the job is accepted")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newBatchJobCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a batch job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.renderJob(batchResultDTO{Job: api.FromBatchJob(job)}, job)
		},
	}
}

func (a *app) renderJob(payload batchResultDTO, job domain.BatchJob) error {
	row := []string{job.ID, string(job.Operation), job.Request.OrganizationCode, string(job.Status), formatStats(job.Stats)}
	if err := a.render(payload, []string{"JOB", "OPERATION", "ORG", "STATUS", "STATS"}, [][]string{row}); err != nil {
		return err
	}
	if a.settings.Output == outputTable && payload.Status != nil {
		fmt.Fprintf(a.out, "%s: %d of %d records complete (%s)\n",
			payload.Status.Scope.OrganizationCode, payload.Status.Complete, payload.Status.Total, payload.Status.State)
	}
	return nil
}

func formatStats(stats map[string]int64) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, stats[k]))
	}
	return strings.Join(parts, " ")
}
