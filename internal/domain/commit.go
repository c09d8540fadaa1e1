package domain

import "time"

// SlotCommit is a request to link a slot to a candidate.
// ExpectedRevision of zero disables the concurrent-modification check.
type SlotCommit struct {
	TransactionID    string
	Slot             SlotKind
	CandidateID      string
	ExpectedRevision int64
	Actor            string
}

// CommitEvent records one applied slot change for audit history.
type CommitEvent struct {
	ID                  int64
	OccurredAt          time.Time
	Actor               string
	RequestID           string
	TransactionID       string
	OrganizationCode    string
	Slot                SlotKind
	PreviousCandidateID string
	CandidateID         string
	CandidateLabel      string
	Revision            int64
}
