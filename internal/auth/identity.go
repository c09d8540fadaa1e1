// Package auth authenticates API callers and scopes what they may see by
// organization.
package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles understood by the server.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject       string
	Email         string
	Organizations []string
	Roles         []string
	// Unrestricted grants every organization. Only the disabled authenticator sets it.
	Unrestricted bool
}

// CanAccess reports whether the caller may read the organization's data.
func (i Identity) CanAccess(org string) bool {
	if i.Unrestricted {
		return true
	}
	org = strings.TrimSpace(org)
	if org == "" {
		return false
	}
	for _, allowed := range i.Organizations {
		if allowed == "*" || strings.EqualFold(allowed, org) {
			return true
		}
	}
	return false
}

// CanCommit reports whether the caller may resolve slots and start batch jobs.
func (i Identity) CanCommit() bool {
	if i.Unrestricted {
		return true
	}
	return slices.Contains(i.Roles, RoleOperator) || slices.Contains(i.Roles, RoleAdmin)
}

// Actor is the name recorded on commits.
func (i Identity) Actor() string {
	if i.Email != "" {
		return i.Email
	}
	if i.Subject != "" {
		return i.Subject
	}
	return "anonymous"
}

type ctxKeyIdentity struct{}

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

// IdentityFromContext returns the identity attached by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
