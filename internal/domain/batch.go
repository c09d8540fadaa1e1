package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchOperation names an external, asynchronous scope-level operation.
type BatchOperation string

const (
	BatchImport    BatchOperation = "import"
	BatchAutoMap   BatchOperation = "automap"
	BatchCalculate BatchOperation = "calculate"
)

// ParseBatchOperation validates an operation name.
func ParseBatchOperation(value string) (BatchOperation, error) {
	switch op := BatchOperation(strings.ToLower(strings.TrimSpace(value))); op {
	case BatchImport, BatchAutoMap, BatchCalculate:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown batch operation %q", ErrInvalidArgument, value)
}

// BatchRequest scopes a batch operation. Month is optional.
type BatchRequest struct {
	OrganizationCode string
	Year             int
	Month            int
	Actor            string
}

// Scope returns the organization/period covered by the request.
func (r BatchRequest) Scope() Scope {
	return Scope{OrganizationCode: r.OrganizationCode, Year: r.Year, Month: r.Month}
}

// Validate checks required fields.
func (r BatchRequest) Validate() error {
	if strings.TrimSpace(r.OrganizationCode) == "" {
		return fmt.Errorf("%w: organization code is required", ErrInvalidArgument)
	}
	if r.Year <= 0 {
		return fmt.Errorf("%w: year is required", ErrInvalidArgument)
	}
	if r.Month < 0 || r.Month > 12 {
		return fmt.Errorf("%w: month must be between 1 and 12, got %d", ErrInvalidArgument, r.Month)
	}
	return nil
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobAccepted  JobStatus = "accepted"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// BatchJob tracks one triggered batch operation.
type BatchJob struct {
	ID          string
	Operation   BatchOperation
	Request     BatchRequest
	Status      JobStatus
	Error       string
	Stats       map[string]int64
	AcceptedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
