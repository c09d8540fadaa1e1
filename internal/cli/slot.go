package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vanshika/wastelca/internal/api"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
)

func newSlotCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Inspect and resolve one mapping slot of a transaction",
	}
	cmd.AddCommand(newSlotGetCommand(a), newSlotCandidatesCommand(a), newSlotCommitCommand(a))
	return cmd
}

func slotArgs(args []string) (string, domain.SlotKind, error) {
	kind, err := domain.ParseSlotKind(args[1])
	if err != nil {
		return "", "", err
	}
	return args[0], kind, nil
}

func newSlotGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <transaction-id> <slot>",
		Short: "Show the current state of a slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, kind, err := slotArgs(args)
			if err != nil {
				return err
			}
			state, err := a.resolver.GetSlot(cmd.Context(), txID, kind)
			if err != nil {
				return err
			}
			return a.render(api.FromSlotState(state), []string{"SLOT", "RESOLVED", "CANDIDATE", "LABEL"}, [][]string{
				{string(state.Kind), strconv.FormatBool(state.Resolved), state.CandidateID, state.CandidateLabel},
			})
		},
	}
}

type suggestionDTO struct {
	api.EntityDTO
	Score float64 `json:"score"`
}

func suggestionRows(suggestions []reconcile.Suggestion, limit int) ([]suggestionDTO, [][]string) {
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	dtos := make([]suggestionDTO, 0, len(suggestions))
	rows := make([][]string, 0, len(suggestions))
	for _, s := range suggestions {
		dtos = append(dtos, suggestionDTO{EntityDTO: api.FromEntity(s.Entity), Score: s.Score})
		rows = append(rows, []string{s.Entity.ID, s.Entity.Code, s.Entity.Label, strconv.FormatFloat(s.Score, 'f', 3, 64)})
	}
	return dtos, rows
}

func newSlotCandidatesCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "candidates <transaction-id> <slot>",
		Short: "List candidates for a slot, best match first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, kind, err := slotArgs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			wf, err := reconcile.OpenWorkflow(ctx, a.workflowDeps(false), txID, kind)
			if err != nil {
				return err
			}
			defer wf.Cancel()
			if wf.State() == reconcile.Viewing {
				if err := wf.Edit(ctx); err != nil {
					return err
				}
			}
			dtos, rows := suggestionRows(wf.Snapshot().Candidates, limit)
			return a.render(dtos, []string{"ID", "CODE", "LABEL", "SCORE"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum candidates to show, 0 for all")
	return cmd
}

func newSlotCommitCommand(a *app) *cobra.Command {
	var (
		best        bool
		threshold   float64
		noConflicts bool
	)
	cmd := &cobra.Command{
		Use:   "commit <transaction-id> <slot> [candidate-id]",
		Short: "Link a slot to a candidate",
		Long: `Link a slot to a candidate. With --best the top ranked candidate is used
when it clears --threshold and is not tied with the runner-up.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, kind, err := slotArgs(args)
			if err != nil {
				return err
			}
			if hasID := len(args) == 3; hasID == best {
				return errors.New("give either a candidate id or --best")
			}

			ctx := cmd.Context()
			wf, err := reconcile.OpenWorkflow(ctx, a.workflowDeps(!noConflicts), txID, kind)
			if err != nil {
				return err
			}
			defer wf.Cancel()
			if wf.State() == reconcile.Viewing {
				if err := wf.Edit(ctx); err != nil {
					return err
				}
			}

			candidateID := ""
			if best {
				pick, ok := reconcile.PickUnambiguous(wf.Snapshot().Candidates, threshold)
				if !ok {
					return fmt.Errorf("no unambiguous candidate above %.2f for %s %s", threshold, txID, kind)
				}
				candidateID = pick.Entity.ID
			} else {
				candidateID = args[2]
			}
			if err := wf.Select(candidateID); err != nil {
				return err
			}
			if err := wf.Confirm(ctx); err != nil {
				if reason, ok := domain.CommitReasonOf(err); ok && reason == domain.CommitConflict {
					return fmt.Errorf("%w (the record changed since it was read; run the command again)", err)
				}
				return err
			}

			snap := wf.Snapshot()
			state, _ := snap.Record.Slots.Get(kind)
			return a.render(api.FromTransaction(snap.Record), []string{"TRANSACTION", "SLOT", "CANDIDATE", "LABEL", "REVISION"}, [][]string{
				{snap.Record.ID, string(kind), state.CandidateID, state.CandidateLabel, strconv.FormatInt(snap.Record.Revision, 10)},
			})
		},
	}
	cmd.Flags().BoolVar(&best, "best", false, "commit the best unambiguous candidate")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.85, "minimum score for --best")
	cmd.Flags().BoolVar(&noConflicts, "no-conflict-check", false, "commit even if the record changed since it was read")
	return cmd
}
