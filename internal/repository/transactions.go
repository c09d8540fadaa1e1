package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/graph"
)

// QueryTransactions returns one page of records matching filter, ordered by
// document number then id, and the size of the whole filtered set.
func (r *Repository) QueryTransactions(ctx context.Context, filter domain.TransactionFilter, page domain.PageRequest) (domain.TransactionPage, error) {
	if err := filter.Validate(); err != nil {
		return domain.TransactionPage{}, err
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := page.Offset()

	params := filterParams(filter)
	params["skip"] = int64(offset)
	params["limit"] = int64(limit)

	query := fmt.Sprintf(listTransactionsCypherTemplate, transactionFilterClause)
	res, err := r.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return domain.TransactionPage{}, fmt.Errorf("list transactions query: %w", err)
	}

	records := make([]domain.TransactionRecord, 0, len(res.Records))
	for _, record := range res.Records {
		records = append(records, decodeTransaction(record))
	}

	countQuery := fmt.Sprintf(countTransactionsCypherTemplate, transactionFilterClause)
	countRes, err := r.client.ExecuteRead(ctx, countQuery, params)
	if err != nil {
		return domain.TransactionPage{}, fmt.Errorf("count transactions query: %w", err)
	}

	var total int64
	if len(countRes.Records) > 0 {
		total = toInt64(countRes.Records[0]["total"])
	}

	return domain.TransactionPage{
		Records:    records,
		TotalCount: total,
		Page:       page.Page,
		PageSize:   limit,
	}, nil
}

// GetTransaction returns one record with its slot links.
func (r *Repository) GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error) {
	if id == "" {
		return domain.TransactionRecord{}, errors.New("transaction id is required")
	}
	res, err := r.client.ExecuteRead(ctx, getTransactionCypher, map[string]any{"transactionId": id})
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("get transaction query: %w", err)
	}
	if len(res.Records) == 0 {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	return decodeTransaction(res.Records[0]), nil
}

// ReplaceSlot links the slot to the candidate in one write transaction. The
// previous link is deleted and the new one created in the same statement, and
// the write only applies if the revision read at the start is still current.
func (r *Repository) ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	var updated domain.TransactionRecord

	err := r.client.Transact(ctx, func(ctx context.Context, tx graph.Runner) error {
		res, err := tx.Run(ctx, replaceSlotReadCypher, map[string]any{
			"transactionId": commit.TransactionID,
			"kind":          string(commit.Slot.EntityKind()),
			"candidateId":   commit.CandidateID,
		})
		if err != nil {
			return domain.NewCommitError(domain.CommitTransport, commit, fmt.Errorf("read slot: %w", err))
		}
		if len(res.Records) == 0 {
			return domain.NewCommitError(domain.CommitNotFound, commit, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, commit.TransactionID))
		}

		row := res.Records[0]
		current := decodeTransaction(row)
		if toString(row["candidate_entityId"]) == "" {
			return domain.NewCommitError(domain.CommitInvalidCandidate, commit,
				fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, commit.Slot.EntityKind(), commit.CandidateID))
		}
		candidate := decodeEntity(row, "candidate_")
		if err := domain.CheckCompatibility(current, commit.Slot, candidate); err != nil {
			return domain.NewCommitError(domain.CommitInvalidCandidate, commit, err)
		}

		if state, _ := current.Slots.Get(commit.Slot); state.Resolved && state.CandidateID == commit.CandidateID {
			updated = current
			return nil
		}
		if commit.ExpectedRevision > 0 && commit.ExpectedRevision != current.Revision {
			return domain.NewCommitError(domain.CommitConflict, commit,
				fmt.Errorf("record is at revision %d, expected %d", current.Revision, commit.ExpectedRevision))
		}

		written, err := tx.Run(ctx, replaceSlotWriteCypher, map[string]any{
			"transactionId": commit.TransactionID,
			"revision":      current.Revision,
			"slot":          string(commit.Slot),
			"kind":          string(commit.Slot.EntityKind()),
			"candidateId":   commit.CandidateID,
			"actor":         commit.Actor,
			"now":           formatTime(r.now()),
		})
		if err != nil {
			return domain.NewCommitError(domain.CommitTransport, commit, fmt.Errorf("write slot: %w", err))
		}
		if len(written.Records) == 0 {
			return domain.NewCommitError(domain.CommitConflict, commit, errors.New("record changed while committing"))
		}
		updated = decodeTransaction(written.Records[0])
		return nil
	})
	if err != nil {
		var ce *domain.CommitError
		if errors.As(err, &ce) {
			return domain.TransactionRecord{}, ce
		}
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitTransport, commit, err)
	}
	return updated, nil
}

// CountSlots aggregates a scope in a single query built from the same filter
// clause QueryTransactions uses.
func (r *Repository) CountSlots(ctx context.Context, scope domain.Scope) (domain.SlotCounts, error) {
	filter := scope.Filter()
	if err := filter.Validate(); err != nil {
		return domain.SlotCounts{}, err
	}
	params := filterParams(filter)

	query := fmt.Sprintf(countSlotsCypherTemplate, transactionFilterClause, slotCountColumns())
	res, err := r.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return domain.SlotCounts{}, fmt.Errorf("count slots query: %w", err)
	}

	counts := domain.SlotCounts{}
	var row graph.Record
	if len(res.Records) > 0 {
		row = res.Records[0]
	}
	counts.Total = toInt64(row["total"])
	counts.Complete = toInt64(row["complete"])
	for _, kind := range domain.AllSlotKinds() {
		counts.Slots = append(counts.Slots, domain.SlotProgress{
			Kind:     kind,
			Resolved: toInt64(row["resolved_"+string(kind)]),
			Total:    toInt64(row["total_"+string(kind)]),
		})
	}
	return counts, nil
}

// filterParams maps a filter to the parameters transactionFilterClause reads.
func filterParams(f domain.TransactionFilter) map[string]any {
	params := map[string]any{
		"organizationCode": normalizeCode(f.OrganizationCode),
		"year":             int64(f.Year),
		"month":            int64(f.Month),
		"document":         strings.ToLower(strings.TrimSpace(f.DocumentNumber)),
		"direction":        string(f.Direction),
		"overall":          string(f.Overall),
	}
	for _, kind := range domain.AllSlotKinds() {
		params["status_"+string(kind)] = string(f.SlotStatus[kind])
	}
	return params
}

func slotCountColumns() string {
	var b strings.Builder
	for _, kind := range domain.AllSlotKinds() {
		fmt.Fprintf(&b, ",\n       sum(CASE WHEN %q IN t.slotKinds THEN 1 ELSE 0 END) AS total_%s", string(kind), kind)
		fmt.Fprintf(&b, ",\n       sum(CASE WHEN %q IN coalesce(t.resolvedSlots, []) THEN 1 ELSE 0 END) AS resolved_%s", string(kind), kind)
	}
	return b.String()
}
