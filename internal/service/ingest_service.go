package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
)

// Writer persists ingested organizations, entities and transactions.
// Both the graph repository and the in-memory store implement it.
type Writer interface {
	UpsertOrganization(ctx context.Context, org domain.Organization) error
	UpsertEntity(ctx context.Context, entity domain.ReferenceEntity) error
	CreateTransaction(ctx context.Context, record domain.TransactionRecord) (bool, error)
}

// SlotProfiler returns the slot kinds a record of the given direction carries.
type SlotProfiler interface {
	For(dir domain.Direction) []domain.SlotKind
}

// IngestService normalizes import payloads before handing them to the store.
type IngestService struct {
	writer   Writer
	profiler SlotProfiler
	nowFn    func() time.Time
}

// NewIngestService builds an IngestService.
func NewIngestService(writer Writer, profiler SlotProfiler) *IngestService {
	return &IngestService{
		writer:   writer,
		profiler: profiler,
		nowFn:    time.Now,
	}
}

// UpsertOrganization registers or renames an organization.
func (s *IngestService) UpsertOrganization(ctx context.Context, input OrganizationInput) error {
	code := normalizeCode(input.Code)
	if code == "" {
		return fmt.Errorf("organization code is required")
	}
	return s.writer.UpsertOrganization(ctx, domain.Organization{
		Code: code,
		Name: sanitizeString(input.Name),
	})
}

// UpsertEntity validates and stores a reference entity.
func (s *IngestService) UpsertEntity(ctx context.Context, input EntityInput) error {
	if sanitizeString(input.ID) == "" {
		return fmt.Errorf("entity ID is required")
	}
	kind := domain.EntityKind(sanitizeString(input.Kind))
	if !kind.Valid() {
		return fmt.Errorf("entity %s: unknown kind %q", input.ID, input.Kind)
	}
	dir := domain.Direction(sanitizeString(input.Direction))
	if !dir.Valid() {
		return fmt.Errorf("entity %s: unknown direction %q", input.ID, input.Direction)
	}
	org := normalizeCode(input.OrganizationCode)
	if kind.OrganizationScoped() && org == "" {
		return fmt.Errorf("entity %s: %s entities require an organization", input.ID, kind)
	}

	label := sanitizeString(input.Label)
	code := sanitizeString(input.Code)
	if label == "" {
		label = code
	}

	return s.writer.UpsertEntity(ctx, domain.ReferenceEntity{
		ID:               sanitizeString(input.ID),
		Kind:             kind,
		Code:             code,
		Label:            label,
		OrganizationCode: org,
		Direction:        dir,
		Capacity:         input.Capacity,
		Unit:             sanitizeString(input.Unit),
		Attributes:       input.Attributes,
	})
}

// CreateTransaction ingests one movement line with every slot unresolved. It
// reports whether the record was new; existing records are left untouched.
func (s *IngestService) CreateTransaction(ctx context.Context, input TransactionInput) (bool, error) {
	record, err := s.BuildTransaction(input)
	if err != nil {
		return false, err
	}
	return s.writer.CreateTransaction(ctx, record)
}

// BuildTransaction converts an input into the record that would be stored.
func (s *IngestService) BuildTransaction(input TransactionInput) (domain.TransactionRecord, error) {
	org := normalizeCode(input.OrganizationCode)
	if org == "" {
		return domain.TransactionRecord{}, errors.New("organization code is required")
	}
	document := sanitizeString(input.DocumentNumber)
	if document == "" {
		return domain.TransactionRecord{}, errors.New("document number is required")
	}
	if input.OccurredOn.IsZero() {
		return domain.TransactionRecord{}, fmt.Errorf("document %s line %d: occurrence date is required", document, input.LineNumber)
	}
	if input.Weight.IsNegative() {
		return domain.TransactionRecord{}, fmt.Errorf("document %s line %d: negative weight %s", document, input.LineNumber, input.Weight)
	}
	dir := domain.Direction(sanitizeString(input.Direction))
	if !dir.Valid() {
		return domain.TransactionRecord{}, fmt.Errorf("document %s line %d: unknown direction %q", document, input.LineNumber, input.Direction)
	}

	kinds, err := s.slotKinds(dir, input.Slots)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("document %s line %d: %w", document, input.LineNumber, err)
	}

	id := sanitizeString(input.ID)
	if id == "" {
		id = transactionID(org, document, input.LineNumber)
	}

	now := s.nowFn().UTC()
	return domain.TransactionRecord{
		ID:               id,
		OrganizationCode: org,
		Direction:        dir,
		DocumentNumber:   document,
		LineNumber:       input.LineNumber,
		OccurredOn:       input.OccurredOn.UTC(),
		Descriptors:      normalizeDescriptors(input.Descriptors),
		Weight:           input.Weight,
		Unit:             sanitizeString(input.Unit),
		Slots:            domain.NewMappingSlotSet(kinds...),
		Revision:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s *IngestService) slotKinds(dir domain.Direction, override []string) ([]domain.SlotKind, error) {
	if len(override) == 0 {
		if s.profiler == nil {
			return domain.AllSlotKinds(), nil
		}
		kinds := s.profiler.For(dir)
		if len(kinds) == 0 {
			return nil, fmt.Errorf("no slot profile for direction %q", dir)
		}
		return kinds, nil
	}
	kinds := make([]domain.SlotKind, 0, len(override))
	for _, value := range override {
		kind, err := domain.ParseSlotKind(value)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
