package auth

import (
	"context"
	"fmt"

	"github.com/vanshika/wastelca/internal/domain"
)

type candidateLookup interface {
	ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error)
	GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error)
}

// ScopedLookup restricts a candidate lookup to the organizations of the
// identity found in the request context. A context without identity sees nothing.
type ScopedLookup struct {
	next candidateLookup
}

// NewScopedLookup wraps next.
func NewScopedLookup(next candidateLookup) *ScopedLookup {
	return &ScopedLookup{next: next}
}

func (s *ScopedLookup) ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error) {
	identity, _ := IdentityFromContext(ctx)
	if !identity.CanAccess(organizationCode) {
		return nil, &domain.LookupError{Kind: kind, OrganizationCode: organizationCode, Err: domain.ErrForbidden}
	}
	return s.next.ListCandidates(ctx, kind, organizationCode, direction)
}

// GetEntity hides organization-owned entities outside the caller's scope.
// Shared catalog entries are visible to everyone.
func (s *ScopedLookup) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error) {
	entity, err := s.next.GetEntity(ctx, kind, id)
	if err != nil {
		return domain.ReferenceEntity{}, err
	}
	identity, _ := IdentityFromContext(ctx)
	if entity.OrganizationCode != "" && !identity.CanAccess(entity.OrganizationCode) {
		return domain.ReferenceEntity{}, fmt.Errorf("%w: %s %s", domain.ErrForbidden, kind, id)
	}
	return entity, nil
}
