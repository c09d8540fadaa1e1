// Package api holds the JSON wire types shared by the HTTP server and the
// remote client, and their conversions to domain types.
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/wastelca/internal/domain"
)

const dateLayout = "2006-01-02"

// EntityDTO is a reference entity on the wire.
type EntityDTO struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Code             string            `json:"code,omitempty"`
	Label            string            `json:"label"`
	OrganizationCode string            `json:"organizationCode,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	Capacity         string            `json:"capacity,omitempty"`
	Unit             string            `json:"unit,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// SlotStateDTO is the state of one slot.
type SlotStateDTO struct {
	Kind           string `json:"kind"`
	Resolved       bool   `json:"resolved"`
	CandidateID    string `json:"candidateId,omitempty"`
	CandidateLabel string `json:"candidateLabel,omitempty"`
}

// TransactionDTO is a transaction record on the wire. Weight is a decimal string.
type TransactionDTO struct {
	ID               string         `json:"id"`
	OrganizationCode string         `json:"organizationCode"`
	Direction        string         `json:"direction,omitempty"`
	DocumentNumber   string         `json:"documentNumber"`
	LineNumber       int            `json:"lineNumber"`
	OccurredOn       string         `json:"occurredOn"`
	Descriptors      []string       `json:"descriptors"`
	Weight           string         `json:"weight"`
	Unit             string         `json:"unit,omitempty"`
	Slots            []SlotStateDTO `json:"slots"`
	Complete         bool           `json:"complete"`
	Revision         int64          `json:"revision"`
	CreatedAt        string         `json:"createdAt,omitempty"`
	UpdatedAt        string         `json:"updatedAt,omitempty"`
}

// PaginationDTO describes the page returned and the whole filtered set.
type PaginationDTO struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

// TransactionPageDTO is one page of query results.
type TransactionPageDTO struct {
	Items      []TransactionDTO `json:"items"`
	Pagination PaginationDTO    `json:"pagination"`
}

// CandidatesDTO lists candidates for a slot kind.
type CandidatesDTO struct {
	Items []EntityDTO `json:"items"`
}

// CommitRequest is the body of a slot commit.
type CommitRequest struct {
	CandidateID      string `json:"candidateId"`
	ExpectedRevision int64  `json:"expectedRevision,omitempty"`
}

// ScopeDTO identifies an organization and optional period.
type ScopeDTO struct {
	OrganizationCode string `json:"organizationCode"`
	Year             int    `json:"year,omitempty"`
	Month            int    `json:"month,omitempty"`
}

// SlotProgressDTO is the resolved-vs-total count of one slot kind.
type SlotProgressDTO struct {
	Kind     string `json:"kind"`
	Resolved int64  `json:"resolved"`
	Total    int64  `json:"total"`
}

// CountsDTO carries raw scope counts.
type CountsDTO struct {
	Scope    ScopeDTO          `json:"scope"`
	Total    int64             `json:"total"`
	Complete int64             `json:"complete"`
	Slots    []SlotProgressDTO `json:"slots"`
}

// StatusDTO is an aggregate status.
type StatusDTO struct {
	CountsDTO
	State string `json:"state"`
}

// StatusListDTO wraps several statuses.
type StatusListDTO struct {
	Items []StatusDTO `json:"items"`
}

// StatusViewDTO is an open status view: the last computed status and when it
// was refreshed.
type StatusViewDTO struct {
	Status      StatusDTO `json:"status"`
	RefreshedAt time.Time `json:"refreshedAt"`
	Refreshes   int       `json:"refreshes"`
	Error       string    `json:"error,omitempty"`
}

// BatchRequestDTO is the body of a batch trigger.
type BatchRequestDTO struct {
	OrganizationCode string `json:"organizationCode"`
	Year             int    `json:"year"`
	Month            int    `json:"month,omitempty"`
}

// BatchJobDTO reports a batch job.
type BatchJobDTO struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	Request     BatchRequestDTO  `json:"request"`
	Actor       string           `json:"actor,omitempty"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Stats       map[string]int64 `json:"stats,omitempty"`
	AcceptedAt  string           `json:"acceptedAt"`
	StartedAt   string           `json:"startedAt,omitempty"`
	CompletedAt string           `json:"completedAt,omitempty"`
}

// CommitEventDTO is one audit history entry.
type CommitEventDTO struct {
	ID                  int64  `json:"id"`
	OccurredAt          string `json:"occurredAt"`
	Actor               string `json:"actor"`
	RequestID           string `json:"requestId,omitempty"`
	Slot                string `json:"slot"`
	PreviousCandidateID string `json:"previousCandidateId,omitempty"`
	CandidateID         string `json:"candidateId"`
	CandidateLabel      string `json:"candidateLabel,omitempty"`
	Revision            int64  `json:"revision"`
}

// HistoryDTO lists the audit events of one transaction.
type HistoryDTO struct {
	TransactionID string           `json:"transactionId"`
	Items         []CommitEventDTO `json:"items"`
}

func FromEntity(e domain.ReferenceEntity) EntityDTO {
	dto := EntityDTO{
		ID:               e.ID,
		Kind:             string(e.Kind),
		Code:             e.Code,
		Label:            e.Label,
		OrganizationCode: e.OrganizationCode,
		Direction:        string(e.Direction),
		Unit:             e.Unit,
		Attributes:       e.Attributes,
	}
	if !e.Capacity.IsZero() {
		dto.Capacity = e.Capacity.String()
	}
	return dto
}

func (d EntityDTO) ToDomain() (domain.ReferenceEntity, error) {
	entity := domain.ReferenceEntity{
		ID:               d.ID,
		Kind:             domain.EntityKind(d.Kind),
		Code:             d.Code,
		Label:            d.Label,
		OrganizationCode: d.OrganizationCode,
		Direction:        domain.Direction(d.Direction),
		Unit:             d.Unit,
		Attributes:       d.Attributes,
	}
	if d.Capacity != "" {
		capacity, err := decimal.NewFromString(d.Capacity)
		if err != nil {
			return domain.ReferenceEntity{}, fmt.Errorf("entity %s capacity %q: %w", d.ID, d.Capacity, err)
		}
		entity.Capacity = capacity
	}
	return entity, nil
}

func FromSlotState(s domain.SlotState) SlotStateDTO {
	return SlotStateDTO{
		Kind:           string(s.Kind),
		Resolved:       s.Resolved,
		CandidateID:    s.CandidateID,
		CandidateLabel: s.CandidateLabel,
	}
}

func (d SlotStateDTO) ToDomain() domain.SlotState {
	if !d.Resolved {
		return domain.Unresolved(domain.SlotKind(d.Kind))
	}
	return domain.ResolvedTo(domain.SlotKind(d.Kind), d.CandidateID, d.CandidateLabel)
}

func FromTransaction(t domain.TransactionRecord) TransactionDTO {
	dto := TransactionDTO{
		ID:               t.ID,
		OrganizationCode: t.OrganizationCode,
		Direction:        string(t.Direction),
		DocumentNumber:   t.DocumentNumber,
		LineNumber:       t.LineNumber,
		OccurredOn:       t.OccurredOn.Format(dateLayout),
		Descriptors:      append([]string{}, t.Descriptors...),
		Weight:           t.Weight.String(),
		Unit:             t.Unit,
		Slots:            []SlotStateDTO{},
		Complete:         t.Complete(),
		Revision:         t.Revision,
		CreatedAt:        formatTime(t.CreatedAt),
		UpdatedAt:        formatTime(t.UpdatedAt),
	}
	for _, s := range t.Slots.Slots() {
		dto.Slots = append(dto.Slots, FromSlotState(s))
	}
	return dto
}

func (d TransactionDTO) ToDomain() (domain.TransactionRecord, error) {
	occurred, err := time.Parse(dateLayout, d.OccurredOn)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("transaction %s occurredOn %q: %w", d.ID, d.OccurredOn, err)
	}
	weight := decimal.Zero
	if d.Weight != "" {
		weight, err = decimal.NewFromString(d.Weight)
		if err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("transaction %s weight %q: %w", d.ID, d.Weight, err)
		}
	}

	kinds := make([]domain.SlotKind, 0, len(d.Slots))
	for _, s := range d.Slots {
		kinds = append(kinds, domain.SlotKind(s.Kind))
	}
	slots := domain.NewMappingSlotSet(kinds...)
	for _, s := range d.Slots {
		if !s.Resolved {
			continue
		}
		if slots, err = slots.With(s.ToDomain()); err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("transaction %s: %w", d.ID, err)
		}
	}

	return domain.TransactionRecord{
		ID:               d.ID,
		OrganizationCode: d.OrganizationCode,
		Direction:        domain.Direction(d.Direction),
		DocumentNumber:   d.DocumentNumber,
		LineNumber:       d.LineNumber,
		OccurredOn:       occurred,
		Descriptors:      d.Descriptors,
		Weight:           weight,
		Unit:             d.Unit,
		Slots:            slots,
		Revision:         d.Revision,
		CreatedAt:        parseTime(d.CreatedAt),
		UpdatedAt:        parseTime(d.UpdatedAt),
	}, nil
}

func FromPage(p domain.TransactionPage) TransactionPageDTO {
	dto := TransactionPageDTO{
		Items: make([]TransactionDTO, 0, len(p.Records)),
		Pagination: PaginationDTO{
			Page:       p.Page,
			PageSize:   p.PageSize,
			TotalItems: p.TotalCount,
			TotalPages: p.TotalPages(),
		},
	}
	for _, rec := range p.Records {
		dto.Items = append(dto.Items, FromTransaction(rec))
	}
	return dto
}

func (d TransactionPageDTO) ToDomain() (domain.TransactionPage, error) {
	page := domain.TransactionPage{
		Records:    make([]domain.TransactionRecord, 0, len(d.Items)),
		TotalCount: d.Pagination.TotalItems,
		Page:       d.Pagination.Page,
		PageSize:   d.Pagination.PageSize,
	}
	for _, item := range d.Items {
		rec, err := item.ToDomain()
		if err != nil {
			return domain.TransactionPage{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func FromScope(s domain.Scope) ScopeDTO {
	return ScopeDTO{OrganizationCode: s.OrganizationCode, Year: s.Year, Month: s.Month}
}

func (d ScopeDTO) ToDomain() domain.Scope {
	return domain.Scope{OrganizationCode: d.OrganizationCode, Year: d.Year, Month: d.Month}
}

func FromCounts(scope domain.Scope, c domain.SlotCounts) CountsDTO {
	dto := CountsDTO{
		Scope:    FromScope(scope),
		Total:    c.Total,
		Complete: c.Complete,
		Slots:    make([]SlotProgressDTO, 0, len(c.Slots)),
	}
	for _, p := range c.Slots {
		dto.Slots = append(dto.Slots, SlotProgressDTO{Kind: string(p.Kind), Resolved: p.Resolved, Total: p.Total})
	}
	return dto
}

func (d CountsDTO) ToDomain() domain.SlotCounts {
	counts := domain.SlotCounts{Total: d.Total, Complete: d.Complete}
	for _, p := range d.Slots {
		counts.Slots = append(counts.Slots, domain.SlotProgress{Kind: domain.SlotKind(p.Kind), Resolved: p.Resolved, Total: p.Total})
	}
	return counts
}

func FromStatus(s domain.AggregateStatus) StatusDTO {
	counts := domain.SlotCounts{Total: s.Total, Complete: s.Complete, Slots: s.Slots}
	return StatusDTO{CountsDTO: FromCounts(s.Scope, counts), State: string(s.State)}
}

func FromStatusView(status domain.AggregateStatus, refreshedAt time.Time, refreshes int, err error) StatusViewDTO {
	dto := StatusViewDTO{Status: FromStatus(status), RefreshedAt: refreshedAt.UTC(), Refreshes: refreshes}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}

func (d StatusDTO) ToDomain() domain.AggregateStatus {
	counts := d.CountsDTO.ToDomain()
	return domain.AggregateStatus{
		Scope:    d.Scope.ToDomain(),
		Total:    counts.Total,
		Complete: counts.Complete,
		Slots:    counts.Slots,
		State:    domain.AggregateState(d.State),
	}
}

func FromBatchJob(j domain.BatchJob) BatchJobDTO {
	return BatchJobDTO{
		ID:        j.ID,
		Operation: string(j.Operation),
		Request: BatchRequestDTO{
			OrganizationCode: j.Request.OrganizationCode,
			Year:             j.Request.Year,
			Month:            j.Request.Month,
		},
		Actor:       j.Request.Actor,
		Status:      string(j.Status),
		Error:       j.Error,
		Stats:       j.Stats,
		AcceptedAt:  formatTime(j.AcceptedAt),
		StartedAt:   formatTimePtr(j.StartedAt),
		CompletedAt: formatTimePtr(j.CompletedAt),
	}
}

func (d BatchJobDTO) ToDomain() domain.BatchJob {
	job := domain.BatchJob{
		ID:        d.ID,
		Operation: domain.BatchOperation(d.Operation),
		Request: domain.BatchRequest{
			OrganizationCode: d.Request.OrganizationCode,
			Year:             d.Request.Year,
			Month:            d.Request.Month,
			Actor:            d.Actor,
		},
		Status:     domain.JobStatus(d.Status),
		Error:      d.Error,
		Stats:      d.Stats,
		AcceptedAt: parseTime(d.AcceptedAt),
	}
	if t := parseTime(d.StartedAt); !t.IsZero() {
		job.StartedAt = &t
	}
	if t := parseTime(d.CompletedAt); !t.IsZero() {
		job.CompletedAt = &t
	}
	return job
}

func FromCommitEvent(e domain.CommitEvent) CommitEventDTO {
	return CommitEventDTO{
		ID:                  e.ID,
		OccurredAt:          formatTime(e.OccurredAt),
		Actor:               e.Actor,
		RequestID:           e.RequestID,
		Slot:                string(e.Slot),
		PreviousCandidateID: e.PreviousCandidateID,
		CandidateID:         e.CandidateID,
		CandidateLabel:      e.CandidateLabel,
		Revision:            e.Revision,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
