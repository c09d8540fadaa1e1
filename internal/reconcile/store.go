package reconcile

import (
	"context"

	"github.com/vanshika/wastelca/internal/domain"
)

// CandidateLookup gives read-only access to reference entities.
type CandidateLookup interface {
	// ListCandidates returns entities of kind visible to organizationCode. A
	// non-empty direction narrows direction-scoped kinds. Unknown organizations
	// and unauthorized callers yield a *domain.LookupError.
	ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error)
	GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error)
}

// TransactionStore is the remote store of transaction records.
type TransactionStore interface {
	// QueryTransactions returns one page ordered by document number, then id.
	QueryTransactions(ctx context.Context, filter domain.TransactionFilter, page domain.PageRequest) (domain.TransactionPage, error)
	GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error)
	// ReplaceSlot atomically links the slot to the candidate, replacing any
	// previous link, and returns the updated record. Re-linking the current
	// candidate returns the record unchanged.
	ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error)
}

// SlotCounter produces scope-level counts with the same semantics as
// TransactionStore.QueryTransactions.
type SlotCounter interface {
	CountSlots(ctx context.Context, scope domain.Scope) (domain.SlotCounts, error)
}

// BatchTrigger starts external batch operations and reports their progress.
type BatchTrigger interface {
	Trigger(ctx context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, error)
	Job(ctx context.Context, id string) (domain.BatchJob, error)
}

// CommitObserver is notified after a commit changed a slot. No-op commits are
// not reported.
type CommitObserver interface {
	SlotCommitted(ctx context.Context, event domain.CommitEvent)
}

// CommitObserverFunc adapts a function to CommitObserver.
type CommitObserverFunc func(ctx context.Context, event domain.CommitEvent)

func (f CommitObserverFunc) SlotCommitted(ctx context.Context, event domain.CommitEvent) {
	f(ctx, event)
}
