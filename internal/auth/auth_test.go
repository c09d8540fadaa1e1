package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/memstore"
)

func TestIdentityCanAccess(t *testing.T) {
	id := Identity{Organizations: []string{"ORG1"}}
	if !id.CanAccess("org1") {
		t.Fatalf("expected case-insensitive access to ORG1")
	}
	if id.CanAccess("ORG2") || id.CanAccess("") {
		t.Fatalf("unexpected access")
	}
	if !(Identity{Organizations: []string{"*"}}).CanAccess("ANY") {
		t.Fatalf("wildcard should grant every organization")
	}
	if !(Identity{Unrestricted: true}).CanAccess("ORG9") {
		t.Fatalf("unrestricted identity should grant every organization")
	}
}

func TestIdentityCanCommit(t *testing.T) {
	if (Identity{Roles: []string{RoleViewer}}).CanCommit() {
		t.Fatalf("viewers must not commit")
	}
	if !(Identity{Roles: []string{RoleOperator}}).CanCommit() {
		t.Fatalf("operators may commit")
	}
}

func TestOIDCAuthenticatorClaims(t *testing.T) {
	authn := &OIDCAuthenticator{
		verify: func(ctx context.Context, rawToken string) (map[string]any, error) {
			if rawToken != "good" {
				return nil, errors.New("bad signature")
			}
			return map[string]any{
				"sub":           "user-1",
				"email":         "op@example.com",
				"organizations": []any{"org1", " org2 ", 7},
				"roles":         "Operator,viewer",
			}, nil
		},
		orgsClaim:  "organizations",
		rolesClaim: "roles",
	}

	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	req.Header.Set("Authorization", "Bearer bad")
	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected verification error")
	}

	req.Header.Set("Authorization", "Bearer good")
	id, err := authn.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if id.Subject != "user-1" || id.Actor() != "op@example.com" {
		t.Fatalf("unexpected identity %#v", id)
	}
	if len(id.Organizations) != 2 || id.Organizations[1] != "ORG2" {
		t.Fatalf("unexpected organizations %#v", id.Organizations)
	}
	if !id.CanCommit() {
		t.Fatalf("expected operator role from csv claim, got %#v", id.Roles)
	}
}

func TestNewSelectsMode(t *testing.T) {
	authn, err := New(context.Background(), config.AuthConfig{Mode: "disabled"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	id, _ := authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !id.Unrestricted {
		t.Fatalf("disabled mode should be unrestricted")
	}

	authn, err = New(context.Background(), config.AuthConfig{Mode: "dev", DevSubject: "dev", DevOrganizations: []string{"org1"}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	id, _ = authn.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !id.CanAccess("ORG1") || id.CanAccess("ORG2") || !id.CanCommit() {
		t.Fatalf("unexpected dev identity %#v", id)
	}

	if _, err := New(context.Background(), config.AuthConfig{Mode: "basic"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

type staticAuthenticator struct {
	identity Identity
	err      error
}

func (s staticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return s.identity, s.err
}

func TestMiddlewareWrap(t *testing.T) {
	var seen Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	mw := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz"},
	}
	rec := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("health should skip auth, got %d", rec.Code)
	}

	mw.Authenticator = staticAuthenticator{identity: Identity{Subject: "alice"}}
	rec = httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions", nil))
	if rec.Code != http.StatusNoContent || seen.Subject != "alice" {
		t.Fatalf("expected identity in context, got %d %#v", rec.Code, seen)
	}
}

func TestScopedLookup(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, org := range []string{"ORG1", "ORG2"} {
		if err := store.UpsertOrganization(ctx, domain.Organization{Code: org}); err != nil {
			t.Fatalf("UpsertOrganization: %v", err)
		}
	}
	entities := []domain.ReferenceEntity{
		{ID: "c1", Kind: domain.EntityClient, Label: "Acme", OrganizationCode: "ORG1"},
		{ID: "c2", Kind: domain.EntityClient, Label: "Other", OrganizationCode: "ORG2"},
		{ID: "i1", Kind: domain.EntityLineItem, Label: "Paper"},
	}
	for _, e := range entities {
		if err := store.UpsertEntity(ctx, e); err != nil {
			t.Fatalf("UpsertEntity: %v", err)
		}
	}

	lookup := NewScopedLookup(store)
	scoped := ContextWithIdentity(ctx, Identity{Organizations: []string{"ORG1"}})

	got, err := lookup.ListCandidates(scoped, domain.EntityClient, "ORG1", domain.DirectionAny)
	if err != nil || len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("unexpected candidates %v, %v", got, err)
	}

	_, err = lookup.ListCandidates(scoped, domain.EntityClient, "ORG2", domain.DirectionAny)
	var lookupErr *domain.LookupError
	if !errors.As(err, &lookupErr) || !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden LookupError, got %v", err)
	}

	if _, err := lookup.ListCandidates(ctx, domain.EntityClient, "ORG1", domain.DirectionAny); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("missing identity must be forbidden, got %v", err)
	}

	if _, err := lookup.GetEntity(scoped, domain.EntityClient, "c2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign entity, got %v", err)
	}
	if _, err := lookup.GetEntity(scoped, domain.EntityLineItem, "i1"); err != nil {
		t.Fatalf("shared catalog items are visible: %v", err)
	}
}
