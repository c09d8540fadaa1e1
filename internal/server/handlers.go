package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vanshika/wastelca/internal/api"
	"github.com/vanshika/wastelca/internal/auth"
	"github.com/vanshika/wastelca/internal/batch"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
)

// HistoryReader lists the audit events of a transaction.
type HistoryReader interface {
	History(ctx context.Context, transactionID string) ([]domain.CommitEvent, error)
}

// APIDependencies are the engine components behind the REST API. Lookup
// should already be organization-scoped. History and Batches are optional.
type APIDependencies struct {
	Queries    *reconcile.QueryService
	Resolver   *reconcile.Resolver
	Lookup     reconcile.CandidateLookup
	Counter    reconcile.SlotCounter
	Aggregator *reconcile.Aggregator
	Batches    reconcile.BatchTrigger
	History    HistoryReader
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger *slog.Logger
	deps   APIDependencies
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, deps APIDependencies) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		deps:   deps,
	}
}

func (h *APIHandlers) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	query := r.URL.Query()
	org := strings.TrimSpace(query.Get(api.ParamOrganization))
	if org == "" {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "organization is required")
		return
	}
	kind, ok := parseEntityKind(query.Get(api.ParamKind))
	if !ok {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "unknown kind")
		return
	}
	direction := domain.Direction(strings.ToLower(strings.TrimSpace(query.Get(api.ParamDirection))))
	if !direction.Valid() {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "unknown direction")
		return
	}

	entities, err := h.deps.Lookup.ListCandidates(r.Context(), kind, org, direction)
	if err != nil {
		h.writeDomainError(w, r, "failed to list candidates", err)
		return
	}
	resp := api.CandidatesDTO{Items: make([]api.EntityDTO, 0, len(entities))}
	for _, e := range entities {
		resp.Items = append(resp.Items, api.FromEntity(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	parts := pathParts(r, "/entities/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "expected /entities/{kind}/{id}")
		return
	}
	kind, ok := parseEntityKind(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "unknown kind")
		return
	}

	entity, err := h.deps.Lookup.GetEntity(r.Context(), kind, parts[1])
	if err != nil {
		h.writeDomainError(w, r, "failed to fetch entity", err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromEntity(entity))
}

func (h *APIHandlers) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	filter, page, pageSize, err := api.DecodeFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if filter.OrganizationCode == "" && !identity.Unrestricted {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "organization is required")
		return
	}
	if filter.OrganizationCode != "" && !identity.CanAccess(filter.OrganizationCode) {
		writeError(w, http.StatusForbidden, api.CodeNoPermission, "no permission for organization")
		return
	}

	result, err := h.deps.Queries.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		h.writeDomainError(w, r, "failed to query transactions", err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromPage(result))
}

// handleTransaction serves /transactions/{id}, /transactions/{id}/history and
// /transactions/{id}/slots/{kind}.
func (h *APIHandlers) handleTransaction(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/transactions/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.getTransaction(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.getHistory(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "slots":
		slot, err := domain.ParseSlotKind(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getSlot(w, r, parts[0], slot)
		case http.MethodPut:
			h.commitSlot(w, r, parts[0], slot)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
	default:
		writeError(w, http.StatusNotFound, api.CodeNotFound, "unknown transaction resource")
	}
}

func (h *APIHandlers) getTransaction(w http.ResponseWriter, r *http.Request, txID string) {
	record, ok := h.accessibleRecord(w, r, txID)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, api.FromTransaction(record))
}

func (h *APIHandlers) getSlot(w http.ResponseWriter, r *http.Request, txID string, slot domain.SlotKind) {
	record, ok := h.accessibleRecord(w, r, txID)
	if !ok {
		return
	}
	state, found := record.Slots.Get(slot)
	if !found {
		writeError(w, http.StatusNotFound, api.CodeSlotNotApplicable, "slot not applicable to transaction")
		return
	}
	respondJSON(w, http.StatusOK, api.FromSlotState(state))
}

func (h *APIHandlers) commitSlot(w http.ResponseWriter, r *http.Request, txID string, slot domain.SlotKind) {
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.CanCommit() {
		writeError(w, http.StatusForbidden, api.CodeNoPermission, "role does not allow commits")
		return
	}

	var payload api.CommitRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.CandidateID) == "" {
		writeError(w, http.StatusUnprocessableEntity, api.CodeInvalidCandidate, "candidateId is required")
		return
	}
	if _, ok := h.accessibleRecord(w, r, txID); !ok {
		return
	}

	updated, err := h.deps.Resolver.CommitWith(r.Context(), domain.SlotCommit{
		TransactionID:    txID,
		Slot:             slot,
		CandidateID:      payload.CandidateID,
		ExpectedRevision: payload.ExpectedRevision,
		Actor:            identity.Actor(),
	})
	if err != nil {
		h.writeDomainError(w, r, "failed to commit slot", err)
		return
	}

	if h.deps.Aggregator != nil {
		if err := h.deps.Aggregator.RecordChanged(r.Context(), updated); err != nil {
			h.logger.Warn("status refresh after commit failed", "error", err, "transactionId", txID)
		}
	}
	respondJSON(w, http.StatusOK, api.FromTransaction(updated))
}

func (h *APIHandlers) getHistory(w http.ResponseWriter, r *http.Request, txID string) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "audit history is not enabled")
		return
	}
	if _, ok := h.accessibleRecord(w, r, txID); !ok {
		return
	}

	events, err := h.deps.History.History(r.Context(), txID)
	if err != nil {
		h.writeDomainError(w, r, "failed to read history", err)
		return
	}
	resp := api.HistoryDTO{TransactionID: txID, Items: make([]api.CommitEventDTO, 0, len(events))}
	for _, e := range events {
		resp.Items = append(resp.Items, api.FromCommitEvent(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	orgs, year, month, err := api.DecodeScope(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if len(orgs) != 1 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "exactly one organization is required")
		return
	}
	if !h.canAccessAll(w, r, orgs) {
		return
	}

	scope := domain.Scope{OrganizationCode: strings.ToUpper(orgs[0]), Year: year, Month: month}
	if err := scope.Filter().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	counts, err := h.deps.Counter.CountSlots(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, r, "failed to count slots", err)
		return
	}
	respondJSON(w, http.StatusOK, api.FromCounts(scope, counts))
}

func (h *APIHandlers) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	orgs, year, month, err := api.DecodeScope(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if len(orgs) == 0 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "organization is required")
		return
	}
	if !h.canAccessAll(w, r, orgs) {
		return
	}

	statuses, err := h.deps.Aggregator.SummarizeMany(r.Context(), orgs, year, month)
	if err != nil {
		h.writeDomainError(w, r, "failed to summarize", err)
		return
	}
	resp := api.StatusListDTO{Items: make([]api.StatusDTO, 0, len(statuses))}
	for _, s := range statuses {
		resp.Items = append(resp.Items, api.FromStatus(s))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatusViews manages status views a dashboard keeps open: PUT opens
// (or joins) the view of a scope, GET reads its cached status and DELETE
// releases it. Commits and finished batch jobs refresh open views.
func (h *APIHandlers) handleStatusViews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		return
	}

	orgs, year, month, err := api.DecodeScope(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if len(orgs) != 1 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "exactly one organization is required")
		return
	}
	if !h.canAccessAll(w, r, orgs) {
		return
	}
	scope := domain.Scope{OrganizationCode: strings.ToUpper(orgs[0]), Year: year, Month: month}
	if err := scope.Filter().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPut:
		view, err := h.deps.Aggregator.OpenView(r.Context(), scope)
		if err != nil {
			h.writeDomainError(w, r, "failed to open status view", err)
			return
		}
		respondJSON(w, http.StatusOK, viewDTO(view))
	case http.MethodDelete:
		if _, ok := h.deps.Aggregator.View(scope); !ok {
			writeError(w, http.StatusNotFound, api.CodeNotFound, "no open status view for scope")
			return
		}
		h.deps.Aggregator.CloseView(scope)
		w.WriteHeader(http.StatusNoContent)
	default:
		view, ok := h.deps.Aggregator.View(scope)
		if !ok {
			writeError(w, http.StatusNotFound, api.CodeNotFound, "no open status view for scope")
			return
		}
		respondJSON(w, http.StatusOK, viewDTO(view))
	}
}

func viewDTO(view *reconcile.StatusView) api.StatusViewDTO {
	status, err := view.Status()
	return api.FromStatusView(status, view.RefreshedAt(), view.Refreshes(), err)
}

func (h *APIHandlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.deps.Batches == nil {
		writeError(w, http.StatusServiceUnavailable, api.CodeUpstream, "batch operations are not configured")
		return
	}

	parts := pathParts(r, "/batch/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "expected /batch/{operation}")
		return
	}
	op, err := domain.ParseBatchOperation(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.CanCommit() {
		writeError(w, http.StatusForbidden, api.CodeNoPermission, "role does not allow batch operations")
		return
	}
	var payload api.BatchRequestDTO
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return
	}
	if !identity.CanAccess(payload.OrganizationCode) {
		writeError(w, http.StatusForbidden, api.CodeNoPermission, "no permission for organization")
		return
	}

	job, err := h.deps.Aggregator.Trigger(r.Context(), op, domain.BatchRequest{
		OrganizationCode: payload.OrganizationCode,
		Year:             payload.Year,
		Month:            payload.Month,
		Actor:            identity.Actor(),
	})
	if err != nil {
		if errors.Is(err, batch.ErrQueueFull) || errors.Is(err, batch.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, api.CodeUpstream, err.Error())
			return
		}
		h.writeDomainError(w, r, "failed to start batch", err)
		return
	}
	respondJSON(w, http.StatusAccepted, api.FromBatchJob(job))
}

func (h *APIHandlers) handleBatchJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.deps.Batches == nil {
		writeError(w, http.StatusServiceUnavailable, api.CodeUpstream, "batch operations are not configured")
		return
	}

	parts := pathParts(r, "/batch/jobs/")
	if len(parts) != 1 {
		writeError(w, http.StatusBadRequest, api.CodeInvalidRequest, "job ID is required")
		return
	}
	jobID := parts[0]
	job, err := h.deps.Batches.Job(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, r, "failed to fetch job", err)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.CanAccess(job.Request.OrganizationCode) {
		writeError(w, http.StatusNotFound, api.CodeNotFound, "batch job not found")
		return
	}
	respondJSON(w, http.StatusOK, api.FromBatchJob(job))
}

// accessibleRecord loads a record and checks the caller may see its
// organization. It writes the error response itself.
func (h *APIHandlers) accessibleRecord(w http.ResponseWriter, r *http.Request, txID string) (domain.TransactionRecord, bool) {
	record, err := h.deps.Resolver.GetRecord(r.Context(), txID)
	if err != nil {
		h.writeDomainError(w, r, "failed to fetch transaction", err)
		return domain.TransactionRecord{}, false
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.CanAccess(record.OrganizationCode) {
		writeError(w, http.StatusForbidden, api.CodeNoPermission, "no permission for organization")
		return domain.TransactionRecord{}, false
	}
	return record, true
}

func (h *APIHandlers) canAccessAll(w http.ResponseWriter, r *http.Request, orgs []string) bool {
	identity, _ := auth.IdentityFromContext(r.Context())
	for _, org := range orgs {
		if !identity.CanAccess(org) {
			writeError(w, http.StatusForbidden, api.CodeNoPermission, "no permission for organization "+org)
			return false
		}
	}
	return true
}

func (h *APIHandlers) writeDomainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "path", r.URL.Path, "request_id", reconcile.RequestIDFromContext(r.Context()))
		writeError(w, status, code, msg)
		return
	}
	writeError(w, status, code, err.Error())
}

func parseEntityKind(value string) (domain.EntityKind, bool) {
	if kind := domain.EntityKind(strings.ToLower(strings.TrimSpace(value))); kind.Valid() {
		return kind, true
	}
	slot, err := domain.ParseSlotKind(value)
	if err != nil {
		return "", false
	}
	return slot.EntityKind(), true
}

// pathParts splits the escaped request path after prefix and unescapes each
// segment, so ids containing "/" or "?" stay one segment.
func pathParts(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.EscapedPath(), prefix), "/")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, "/")
	for i, part := range parts {
		if unescaped, err := url.PathUnescape(part); err == nil {
			parts[i] = unescaped
		}
	}
	return parts
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, api.ErrorBody{Error: api.ErrorDetail{Code: code, Message: msg}})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
