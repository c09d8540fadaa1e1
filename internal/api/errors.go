package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vanshika/wastelca/internal/domain"
)

// Error codes carried in error bodies.
const (
	CodeNoPermission        = "no_permission"
	CodeUnknownOrganization = "unknown_organization"
	CodeInvalidCandidate    = "invalid_candidate"
	CodeConflict            = "conflict"
	CodeNotFound            = "not_found"
	CodeSlotNotApplicable   = "slot_not_applicable"
	CodeInvalidRequest      = "invalid_request"
	CodeUnauthenticated     = "unauthenticated"
	CodeUpstream            = "upstream_unavailable"
	CodeInternal            = "internal"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the code and message of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an engine error to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	var lookupErr *domain.LookupError
	if errors.As(err, &lookupErr) {
		if errors.Is(err, domain.ErrUnknownOrganization) {
			return http.StatusNotFound, CodeUnknownOrganization
		}
		return http.StatusForbidden, CodeNoPermission
	}

	if reason, ok := domain.CommitReasonOf(err); ok {
		switch reason {
		case domain.CommitInvalidCandidate:
			return http.StatusUnprocessableEntity, CodeInvalidCandidate
		case domain.CommitConflict:
			return http.StatusConflict, CodeConflict
		case domain.CommitNotFound:
			return http.StatusNotFound, CodeNotFound
		case domain.CommitTransport:
			return http.StatusBadGateway, CodeUpstream
		}
	}

	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, CodeNoPermission
	case errors.Is(err, domain.ErrUnknownOrganization):
		return http.StatusNotFound, CodeUnknownOrganization
	case errors.Is(err, domain.ErrSlotNotApplicable):
		return http.StatusNotFound, CodeSlotNotApplicable
	case errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrEntityNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidRequest
	}
	return http.StatusInternalServerError, CodeInternal
}

// APIError is a non-2xx response received by a client.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the response back to the domain sentinel it was produced from,
// so callers can use errors.Is on remote failures.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case CodeNoPermission:
		return domain.ErrForbidden
	case CodeUnknownOrganization:
		return domain.ErrUnknownOrganization
	case CodeSlotNotApplicable:
		return domain.ErrSlotNotApplicable
	case CodeInvalidRequest:
		return domain.ErrInvalidArgument
	}
	return nil
}
