package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
)

// Resolver reads slot state and commits candidate links.
//
// After a successful commit the Resolver keeps the returned record until the
// store reports an equal or newer revision, so reads through the same Resolver
// never observe a state older than its own last write.
type Resolver struct {
	store     TransactionStore
	lookup    CandidateLookup
	logger    *slog.Logger
	now       func() time.Time
	observers []CommitObserver

	mu        sync.Mutex
	committed map[string]domain.TransactionRecord
}

// NewResolver builds a Resolver. lookup is used to validate candidates.
func NewResolver(store TransactionStore, lookup CandidateLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     store,
		lookup:    lookup,
		logger:    logger.With("component", "resolver"),
		now:       time.Now,
		committed: make(map[string]domain.TransactionRecord),
	}
}

// Observe registers an observer for applied commits.
func (r *Resolver) Observe(observer CommitObserver) {
	if observer == nil {
		return
	}
	r.observers = append(r.observers, observer)
}

// GetRecord fetches a transaction record. Failures are *domain.QueryError.
func (r *Resolver) GetRecord(ctx context.Context, transactionID string) (domain.TransactionRecord, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.TransactionRecord{}, &domain.QueryError{Op: "get transaction", Err: errors.New("transaction id is required")}
	}

	record, err := r.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.TransactionRecord{}, asQueryError("get transaction", err)
	}
	return r.freshest(record), nil
}

// GetSlot returns the state of one slot of a record.
func (r *Resolver) GetSlot(ctx context.Context, transactionID string, slot domain.SlotKind) (domain.SlotState, error) {
	record, err := r.GetRecord(ctx, transactionID)
	if err != nil {
		return domain.SlotState{}, err
	}
	state, ok := record.Slots.Get(slot)
	if !ok {
		return domain.SlotState{}, &domain.QueryError{
			Op:  "get slot",
			Err: fmt.Errorf("%w: %s on %s", domain.ErrSlotNotApplicable, slot, transactionID),
		}
	}
	return state, nil
}

// Commit links slot to candidateID. It is a no-op when the slot already links
// to that candidate. Failures are *domain.CommitError.
func (r *Resolver) Commit(ctx context.Context, transactionID string, slot domain.SlotKind, candidateID string) error {
	_, err := r.CommitWith(ctx, domain.SlotCommit{
		TransactionID: transactionID,
		Slot:          slot,
		CandidateID:   candidateID,
	})
	return err
}

// CommitWith is Commit with an expected revision and an actor. It returns the
// record as it is after the commit.
func (r *Resolver) CommitWith(ctx context.Context, req domain.SlotCommit) (domain.TransactionRecord, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.CandidateID = strings.TrimSpace(req.CandidateID)

	if req.TransactionID == "" {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitNotFound, req, errors.New("transaction id is required"))
	}
	if !req.Slot.Valid() {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, req, fmt.Errorf("unknown slot kind %q", req.Slot))
	}
	if req.CandidateID == "" {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, req, errors.New("candidate id is required"))
	}

	current, err := r.store.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return domain.TransactionRecord{}, classifyCommitError(req, err)
	}
	current = r.freshest(current)

	previous, ok := current.Slots.Get(req.Slot)
	if !ok {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, req,
			fmt.Errorf("%w: %s on %s", domain.ErrSlotNotApplicable, req.Slot, req.TransactionID))
	}
	if previous.Resolved && previous.CandidateID == req.CandidateID {
		r.logger.Debug("commit is a no-op", "transaction", req.TransactionID, "slot", req.Slot, "candidate", req.CandidateID)
		return current, nil
	}
	if req.ExpectedRevision > 0 && current.Revision != req.ExpectedRevision {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitConflict, req,
			fmt.Errorf("record is at revision %d, expected %d", current.Revision, req.ExpectedRevision))
	}

	entity, err := r.lookup.GetEntity(ctx, req.Slot.EntityKind(), req.CandidateID)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) || errors.Is(err, domain.ErrForbidden) {
			return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, req, err)
		}
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitTransport, req, err)
	}
	if err := domain.CheckCompatibility(current, req.Slot, entity); err != nil {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, req, err)
	}

	updated, err := r.store.ReplaceSlot(ctx, req)
	if err != nil {
		var lookupErr *domain.LookupError
		if errors.As(err, &lookupErr) && lookupErr.OrganizationCode == "" {
			lookupErr.OrganizationCode = current.OrganizationCode
		}
		return domain.TransactionRecord{}, classifyCommitError(req, err)
	}
	if state, ok := updated.Slots.Get(req.Slot); !ok || !state.Resolved || state.CandidateID != req.CandidateID {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitTransport, req,
			errors.New("store acknowledged the commit but returned a different slot state"))
	}

	r.remember(updated)
	r.logger.Info("slot committed",
		"transaction", req.TransactionID,
		"slot", req.Slot,
		"candidate", req.CandidateID,
		"previous", previous.CandidateID,
		"revision", updated.Revision,
	)

	event := domain.CommitEvent{
		OccurredAt:          r.now().UTC(),
		Actor:               req.Actor,
		RequestID:           RequestIDFromContext(ctx),
		TransactionID:       updated.ID,
		OrganizationCode:    updated.OrganizationCode,
		Slot:                req.Slot,
		PreviousCandidateID: previous.CandidateID,
		CandidateID:         req.CandidateID,
		CandidateLabel:      entity.Label,
		Revision:            updated.Revision,
	}
	for _, obs := range r.observers {
		obs.SlotCommitted(ctx, event)
	}
	return updated.Clone(), nil
}

func (r *Resolver) freshest(fetched domain.TransactionRecord) domain.TransactionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	overlay, ok := r.committed[fetched.ID]
	if !ok {
		return fetched
	}
	if overlay.Revision > fetched.Revision {
		return overlay.Clone()
	}
	delete(r.committed, fetched.ID)
	return fetched
}

func (r *Resolver) remember(record domain.TransactionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.committed[record.ID]; ok && prev.Revision > record.Revision {
		return
	}
	r.committed[record.ID] = record.Clone()
}

func classifyCommitError(req domain.SlotCommit, err error) error {
	var ce *domain.CommitError
	if errors.As(err, &ce) {
		return ce
	}
	// authorization failures are not commit outcomes
	var lookupErr *domain.LookupError
	if errors.As(err, &lookupErr) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return domain.NewCommitError(domain.CommitNotFound, req, err)
	case errors.Is(err, domain.ErrEntityNotFound), errors.Is(err, domain.ErrSlotNotApplicable):
		return domain.NewCommitError(domain.CommitInvalidCandidate, req, err)
	default:
		return domain.NewCommitError(domain.CommitTransport, req, err)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that commit events carry.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
