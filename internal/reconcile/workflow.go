package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vanshika/wastelca/internal/domain"
)

// WorkflowState is the state of a slot resolution interaction.
type WorkflowState int

const (
	// Viewing shows the current slot state.
	Viewing WorkflowState = iota + 1
	// Picking shows candidates; one may be selected.
	Picking
	// Confirming has a commit in flight.
	Confirming
	// Closed is terminal; the operator abandoned the interaction.
	Closed
)

func (s WorkflowState) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case Picking:
		return "picking"
	case Confirming:
		return "confirming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("WorkflowState(%d)", int(s))
	}
}

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrNoCandidateSelected is returned by Confirm without a selection.
	ErrNoCandidateSelected = errors.New("no candidate selected")
	// ErrUnknownCandidate is returned by Select for an id not in the candidate list.
	ErrUnknownCandidate = errors.New("candidate is not offered for this slot")
	// ErrOutcomeUnknown is attached when a commit was abandoned before a response.
	ErrOutcomeUnknown = errors.New("commit outcome unknown, refresh the record")
	// ErrRefreshRequired is returned by Confirm until Refresh follows a conflict or an unknown outcome.
	ErrRefreshRequired = errors.New("record must be refreshed before committing again")
)

// WorkflowDeps are the collaborators of a Workflow.
type WorkflowDeps struct {
	Resolver *Resolver
	Lookup   CandidateLookup
	// Aggregator is optional; when set, open views covering the record are
	// refreshed after a commit.
	Aggregator *Aggregator
	Logger     *slog.Logger
	Actor      string
	// DetectConflicts sends the revision seen on open with each commit, so a
	// concurrent change to the record fails with a Conflict.
	DetectConflicts bool
}

// Snapshot is a consistent copy of a workflow's state.
type Snapshot struct {
	State         WorkflowState
	TransactionID string
	Slot          domain.SlotKind
	Record        domain.TransactionRecord
	Current       domain.SlotState
	Candidates    []Suggestion
	Selected      *domain.ReferenceEntity
	Err           error
	NeedsRefresh  bool
}

// Workflow drives the resolution of one slot of one record.
//
//	Viewing -> Picking       Edit, or automatically on open when unresolved
//	Picking -> Confirming    Confirm with a selected candidate
//	Confirming -> Viewing    commit succeeded
//	Confirming -> Picking    commit failed, error attached, selection kept
//	any -> Closed            Cancel
type Workflow struct {
	deps   WorkflowDeps
	lookup *SessionLookup
	logger *slog.Logger
	txID   string
	slot   domain.SlotKind

	mu           sync.Mutex
	state        WorkflowState
	record       domain.TransactionRecord
	candidates   []Suggestion
	selected     *domain.ReferenceEntity
	err          error
	needsRefresh bool
}

// OpenWorkflow loads the record and enters Viewing, or Picking when the slot
// is unresolved.
func OpenWorkflow(ctx context.Context, deps WorkflowDeps, transactionID string, slot domain.SlotKind) (*Workflow, error) {
	if deps.Resolver == nil || deps.Lookup == nil {
		return nil, errors.New("workflow requires a resolver and a candidate lookup")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		deps:   deps,
		lookup: NewSessionLookup(deps.Lookup),
		logger: logger.With("component", "workflow", "transaction", transactionID, "slot", slot),
		txID:   strings.TrimSpace(transactionID),
		slot:   slot,
	}

	record, err := deps.Resolver.GetRecord(ctx, w.txID)
	if err != nil {
		return nil, err
	}
	state, ok := record.Slots.Get(slot)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrSlotNotApplicable, slot, w.txID)
	}

	w.record = record
	w.state = Viewing
	if !state.Resolved {
		if err := w.loadCandidates(ctx); err != nil {
			return nil, err
		}
		w.state = Picking
	}
	return w, nil
}

// Edit moves from Viewing to Picking and loads the candidate list.
func (w *Workflow) Edit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Viewing {
		return fmt.Errorf("%w: edit from %s", ErrInvalidTransition, w.state)
	}
	if err := w.loadCandidates(ctx); err != nil {
		return err
	}
	w.state = Picking
	w.err = nil
	return nil
}

// loadCandidates must be called with mu held or before w is shared.
func (w *Workflow) loadCandidates(ctx context.Context) error {
	list, err := w.lookup.ListCandidates(ctx, w.slot.EntityKind(), w.record.OrganizationCode, CandidateDirection(w.record, w.slot))
	if err != nil {
		return err
	}
	w.candidates = RankCandidates(w.record, list)
	return nil
}

// Select chooses a candidate from the list. It is only valid in Picking.
func (w *Workflow) Select(candidateID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Picking {
		return fmt.Errorf("%w: select from %s", ErrInvalidTransition, w.state)
	}
	for _, s := range w.candidates {
		if s.Entity.ID == candidateID {
			entity := s.Entity
			w.selected = &entity
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
}

// Confirm commits the selected candidate. On failure the workflow returns to
// Picking with the error attached and the selection kept.
func (w *Workflow) Confirm(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Picking {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, state)
	}
	if w.selected == nil {
		w.mu.Unlock()
		return ErrNoCandidateSelected
	}
	if w.needsRefresh {
		w.mu.Unlock()
		return ErrRefreshRequired
	}
	req := domain.SlotCommit{
		TransactionID: w.txID,
		Slot:          w.slot,
		CandidateID:   w.selected.ID,
		Actor:         w.deps.Actor,
	}
	if w.deps.DetectConflicts {
		req.ExpectedRevision = w.record.Revision
	}
	w.state = Confirming
	w.err = nil
	w.mu.Unlock()

	committed, err := w.deps.Resolver.CommitWith(ctx, req)

	w.mu.Lock()
	if w.state == Closed {
		w.mu.Unlock()
		if err == nil {
			// the record changed even though nobody is watching this workflow
			w.notifyAggregator(context.WithoutCancel(ctx), committed)
		}
		return err
	}
	if err != nil {
		w.state = Picking
		switch reason, _ := domain.CommitReasonOf(err); {
		case ctx.Err() != nil:
			w.needsRefresh = true
			err = fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
		case reason == domain.CommitConflict:
			w.needsRefresh = true
		}
		w.err = err
		w.mu.Unlock()
		w.logger.Warn("commit failed", "candidate", req.CandidateID, "error", err)
		return err
	}
	w.mu.Unlock()

	// targeted refresh of this record only
	record, rerr := w.deps.Resolver.GetRecord(ctx, w.txID)
	if rerr != nil {
		w.logger.Warn("refresh after commit failed", "error", rerr)
		record = committed
	}

	w.mu.Lock()
	if w.state != Closed {
		w.record = record
		w.state = Viewing
		w.selected = nil
		w.err = nil
	}
	w.mu.Unlock()

	w.notifyAggregator(context.WithoutCancel(ctx), record)
	return nil
}

func (w *Workflow) notifyAggregator(ctx context.Context, record domain.TransactionRecord) {
	if w.deps.Aggregator == nil {
		return
	}
	if err := w.deps.Aggregator.RecordChanged(ctx, record); err != nil {
		w.logger.Warn("status refresh after commit failed", "error", err)
	}
}

// Refresh reloads the record. It clears a pending conflict or unknown outcome;
// the selection is kept.
func (w *Workflow) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Viewing && w.state != Picking {
		return fmt.Errorf("%w: refresh from %s", ErrInvalidTransition, w.state)
	}
	record, err := w.deps.Resolver.GetRecord(ctx, w.txID)
	if err != nil {
		return err
	}
	w.record = record
	w.needsRefresh = false
	w.err = nil
	if w.state == Picking {
		w.candidates = RankCandidates(record, entitiesOf(w.candidates))
	}
	return nil
}

// Cancel abandons the interaction. A commit already in flight is not undone;
// its outcome must be observed through a fresh read.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Closed
	w.lookup.Reset()
}

// State returns the current state.
func (w *Workflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns a copy of the workflow state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, _ := w.record.Slots.Get(w.slot)
	snap := Snapshot{
		State:         w.state,
		TransactionID: w.txID,
		Slot:          w.slot,
		Record:        w.record.Clone(),
		Current:       current,
		Candidates:    append([]Suggestion(nil), w.candidates...),
		Err:           w.err,
		NeedsRefresh:  w.needsRefresh,
	}
	if w.selected != nil {
		sel := *w.selected
		snap.Selected = &sel
	}
	return snap
}

func entitiesOf(suggestions []Suggestion) []domain.ReferenceEntity {
	out := make([]domain.ReferenceEntity, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, s.Entity)
	}
	return out
}
