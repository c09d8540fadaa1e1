// Package memstore is an in-memory transaction and reference entity store.
// It serves the dev-mode server and end-to-end engine tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
)

// Store keeps organizations, reference entities and transaction records in
// memory. Records are copied on every read and write.
type Store struct {
	mu       sync.RWMutex
	orgs     map[string]domain.Organization
	entities map[string]domain.ReferenceEntity
	records  map[string]domain.TransactionRecord
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		orgs:     make(map[string]domain.Organization),
		entities: make(map[string]domain.ReferenceEntity),
		records:  make(map[string]domain.TransactionRecord),
		now:      time.Now,
	}
}

// UpsertOrganization registers or renames an organization.
func (s *Store) UpsertOrganization(ctx context.Context, org domain.Organization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	code := normalizeCode(org.Code)
	if code == "" {
		return errors.New("organization code is required")
	}
	org.Code = code

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[code] = org
	return nil
}

// ListOrganizations returns every organization ordered by code.
func (s *Store) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// UpsertEntity stores a reference entity. Organization-scoped kinds need a
// registered organization.
func (s *Store) UpsertEntity(ctx context.Context, entity domain.ReferenceEntity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entity.ID == "" {
		return errors.New("entity id is required")
	}
	if !entity.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", entity.Kind)
	}
	entity.OrganizationCode = normalizeCode(entity.OrganizationCode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entity.OrganizationCode != "" || entity.Kind.OrganizationScoped() {
		if _, ok := s.orgs[entity.OrganizationCode]; !ok {
			return fmt.Errorf("entity %s: %w: %q", entity.ID, domain.ErrUnknownOrganization, entity.OrganizationCode)
		}
	}
	s.entities[entityKey(entity.Kind, entity.ID)] = cloneEntity(entity)
	return nil
}

// CreateTransaction inserts record unless one with the same id exists. It
// reports whether the record was inserted; existing records are never touched.
func (s *Store) CreateTransaction(ctx context.Context, record domain.TransactionRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if record.ID == "" {
		return false, errors.New("transaction id is required")
	}
	record.OrganizationCode = normalizeCode(record.OrganizationCode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[record.OrganizationCode]; !ok {
		return false, fmt.Errorf("transaction %s: %w: %q", record.ID, domain.ErrUnknownOrganization, record.OrganizationCode)
	}
	if _, ok := s.records[record.ID]; ok {
		return false, nil
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Revision <= 0 {
		record.Revision = 1
	}
	s.records[record.ID] = record.Clone()
	return true, nil
}

// ListCandidates returns entities of kind visible to organizationCode,
// ordered by label then id.
func (s *Store) ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	org := normalizeCode(organizationCode)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[org]; !ok {
		return nil, &domain.LookupError{Kind: kind, OrganizationCode: org, Err: domain.ErrUnknownOrganization}
	}

	out := make([]domain.ReferenceEntity, 0)
	for _, e := range s.entities {
		if e.Kind != kind {
			continue
		}
		if kind.OrganizationScoped() && e.OrganizationCode != org {
			continue
		}
		if !kind.OrganizationScoped() && e.OrganizationCode != "" && e.OrganizationCode != org {
			continue
		}
		if kind.DirectionScoped() && direction != domain.DirectionAny && e.Direction != domain.DirectionAny && e.Direction != direction {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetEntity returns one reference entity.
func (s *Store) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReferenceEntity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityKey(kind, id)]
	if !ok {
		return domain.ReferenceEntity{}, fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, kind, id)
	}
	return cloneEntity(e), nil
}

// QueryTransactions filters with domain.MatchesFilter and orders by document
// number, then id.
func (s *Store) QueryTransactions(ctx context.Context, filter domain.TransactionFilter, page domain.PageRequest) (domain.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransactionPage{}, err
	}
	if err := filter.Validate(); err != nil {
		return domain.TransactionPage{}, err
	}

	matched := s.matching(filter)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DocumentNumber != matched[j].DocumentNumber {
			return matched[i].DocumentNumber < matched[j].DocumentNumber
		}
		return matched[i].ID < matched[j].ID
	})

	result := domain.TransactionPage{
		Records:    []domain.TransactionRecord{},
		TotalCount: int64(len(matched)),
		Page:       page.Page,
		PageSize:   page.PageSize,
	}
	offset := page.Offset()
	if offset >= len(matched) {
		return result, nil
	}
	end := len(matched)
	if page.PageSize > 0 && offset+page.PageSize < end {
		end = offset + page.PageSize
	}
	result.Records = matched[offset:end]
	return result, nil
}

// GetTransaction returns one record.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransactionRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.TransactionRecord{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	return rec.Clone(), nil
}

// ReplaceSlot links the slot to the candidate under the store lock.
func (s *Store) ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitTransport, commit, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[commit.TransactionID]
	if !ok {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitNotFound, commit,
			fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, commit.TransactionID))
	}
	entity, ok := s.entities[entityKey(commit.Slot.EntityKind(), commit.CandidateID)]
	if !ok {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, commit,
			fmt.Errorf("%w: %s %s", domain.ErrEntityNotFound, commit.Slot.EntityKind(), commit.CandidateID))
	}
	if err := domain.CheckCompatibility(rec, commit.Slot, entity); err != nil {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, commit, err)
	}

	if current, _ := rec.Slots.Get(commit.Slot); current.Resolved && current.CandidateID == commit.CandidateID {
		return rec.Clone(), nil
	}
	if commit.ExpectedRevision > 0 && commit.ExpectedRevision != rec.Revision {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitConflict, commit,
			fmt.Errorf("record is at revision %d, expected %d", rec.Revision, commit.ExpectedRevision))
	}

	slots, err := rec.Slots.With(domain.ResolvedTo(commit.Slot, entity.ID, entity.Label))
	if err != nil {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitInvalidCandidate, commit, err)
	}
	updated := rec.Clone()
	updated.Slots = slots
	updated.Revision++
	updated.UpdatedAt = s.now().UTC()
	s.records[updated.ID] = updated
	return updated.Clone(), nil
}

// CountSlots counts the records of scope with domain.CountRecords.
func (s *Store) CountSlots(ctx context.Context, scope domain.Scope) (domain.SlotCounts, error) {
	if err := ctx.Err(); err != nil {
		return domain.SlotCounts{}, err
	}
	filter := scope.Filter()
	if err := filter.Validate(); err != nil {
		return domain.SlotCounts{}, err
	}
	return domain.CountRecords(s.matching(filter)), nil
}

func (s *Store) matching(filter domain.TransactionFilter) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TransactionRecord, 0)
	for _, rec := range s.records {
		if domain.MatchesFilter(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func entityKey(kind domain.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func cloneEntity(e domain.ReferenceEntity) domain.ReferenceEntity {
	if e.Attributes != nil {
		attrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
	}
	return e
}
