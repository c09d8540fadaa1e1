package domain

import (
	"fmt"
	"strings"
)

// StatusFilter selects records by resolution state.
type StatusFilter string

const (
	StatusAny        StatusFilter = ""
	StatusComplete   StatusFilter = "complete"
	StatusIncomplete StatusFilter = "incomplete"
)

// ParseStatusFilter accepts any/complete/incomplete, case-insensitive. Empty means any.
func ParseStatusFilter(value string) (StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "any", "all":
		return StatusAny, nil
	case "complete", "resolved", "mapped":
		return StatusComplete, nil
	case "incomplete", "unresolved", "unmapped":
		return StatusIncomplete, nil
	default:
		return StatusAny, fmt.Errorf("unknown status filter %q", value)
	}
}

// TransactionFilter holds AND-combined query criteria. Zero values mean "any".
type TransactionFilter struct {
	OrganizationCode string
	Year             int
	Month            int
	DocumentNumber   string
	Direction        Direction
	SlotStatus       map[SlotKind]StatusFilter
	Overall          StatusFilter
}

// WithSlotStatus returns a copy of f with one per-slot status set.
func (f TransactionFilter) WithSlotStatus(kind SlotKind, status StatusFilter) TransactionFilter {
	out := f
	out.SlotStatus = make(map[SlotKind]StatusFilter, len(f.SlotStatus)+1)
	for k, v := range f.SlotStatus {
		out.SlotStatus[k] = v
	}
	out.SlotStatus[kind] = status
	return out
}

// Validate rejects out-of-range period values and unknown kinds.
func (f TransactionFilter) Validate() error {
	if f.Year < 0 {
		return fmt.Errorf("%w: year must be >= 0, got %d", ErrInvalidArgument, f.Year)
	}
	if f.Month < 0 || f.Month > 12 {
		return fmt.Errorf("%w: month must be between 1 and 12, got %d", ErrInvalidArgument, f.Month)
	}
	if f.Month > 0 && f.Year == 0 {
		return fmt.Errorf("%w: month filter requires a year", ErrInvalidArgument)
	}
	if !f.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, f.Direction)
	}
	for kind := range f.SlotStatus {
		if !kind.Valid() {
			return fmt.Errorf("%w: unknown slot kind %q", ErrInvalidArgument, kind)
		}
	}
	return nil
}

// Scope returns the organization/period part of the filter.
func (f TransactionFilter) Scope() Scope {
	return Scope{OrganizationCode: f.OrganizationCode, Year: f.Year, Month: f.Month}
}

// MatchesFilter is the reference predicate for query filtering. Stores that
// filter server-side must produce exactly the same set.
//
// A per-slot status other than Any only matches records that carry that slot.
func MatchesFilter(record TransactionRecord, f TransactionFilter) bool {
	if f.OrganizationCode != "" && !strings.EqualFold(record.OrganizationCode, f.OrganizationCode) {
		return false
	}
	if f.Year > 0 && record.Year() != f.Year {
		return false
	}
	if f.Month > 0 && record.Month() != f.Month {
		return false
	}
	if doc := strings.ToLower(strings.TrimSpace(f.DocumentNumber)); doc != "" && !strings.Contains(strings.ToLower(record.DocumentNumber), doc) {
		return false
	}
	if f.Direction != DirectionAny && record.Direction != f.Direction {
		return false
	}
	for kind, status := range f.SlotStatus {
		if status == StatusAny {
			continue
		}
		state, ok := record.Slots.Get(kind)
		if !ok {
			return false
		}
		if state.Resolved != (status == StatusComplete) {
			return false
		}
	}
	switch f.Overall {
	case StatusComplete:
		return record.Complete()
	case StatusIncomplete:
		return !record.Complete()
	}
	return true
}

// PageRequest is a 1-indexed offset page.
type PageRequest struct {
	Page     int
	PageSize int
}

// Offset returns the zero-based row offset.
func (p PageRequest) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// TransactionPage is one page of query results.
type TransactionPage struct {
	Records    []TransactionRecord
	TotalCount int64
	Page       int
	PageSize   int
}

// TotalPages returns the number of pages for the filtered set.
func (p TransactionPage) TotalPages() int {
	if p.PageSize <= 0 || p.TotalCount <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}
