package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOrganization is returned when an organization code is not registered.
	ErrUnknownOrganization = errors.New("unknown organization")
	// ErrForbidden is returned when the caller may not access an organization.
	ErrForbidden = errors.New("no permission")
	// ErrTransactionNotFound is returned for an unknown transaction id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrEntityNotFound is returned for an unknown reference entity id.
	ErrEntityNotFound = errors.New("reference entity not found")
	// ErrSlotNotApplicable is returned when a record does not carry the requested slot.
	ErrSlotNotApplicable = errors.New("slot not applicable to transaction")
	// ErrJobNotFound is returned for an unknown batch job id.
	ErrJobNotFound = errors.New("batch job not found")
	// ErrInvalidArgument marks malformed filters and requests.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LookupError reports a failed candidate lookup. It is shown to operators as
// "no permission" and is not retried.
type LookupError struct {
	Kind             EntityKind
	OrganizationCode string
	// Op names the rejected operation when it was not a candidate listing.
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s for %s: %v", e.Op, e.OrganizationCode, e.Err)
	}
	return fmt.Sprintf("lookup %s candidates for %s: %v", e.Kind, e.OrganizationCode, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// QueryError reports a failed transaction query or read.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// CommitReason classifies commit failures.
type CommitReason string

const (
	CommitInvalidCandidate CommitReason = "invalid_candidate"
	CommitTransport        CommitReason = "transport"
	CommitConflict         CommitReason = "conflict"
	CommitNotFound         CommitReason = "not_found"
)

// CommitError reports a failed slot commit. No mutation happened unless the
// reason is Transport, in which case the outcome may be unknown.
type CommitError struct {
	Reason        CommitReason
	TransactionID string
	Slot          SlotKind
	CandidateID   string
	Err           error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s/%s -> %s (%s): %v", e.TransactionID, e.Slot, e.CandidateID, e.Reason, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// NewCommitError builds a CommitError for the given request.
func NewCommitError(reason CommitReason, req SlotCommit, err error) *CommitError {
	return &CommitError{
		Reason:        reason,
		TransactionID: req.TransactionID,
		Slot:          req.Slot,
		CandidateID:   req.CandidateID,
		Err:           err,
	}
}

// CommitReasonOf extracts the reason of a CommitError in err's chain.
func CommitReasonOf(err error) (CommitReason, bool) {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
