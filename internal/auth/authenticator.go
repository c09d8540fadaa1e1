package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/vanshika/wastelca/internal/config"
)

// ErrUnauthenticated is returned when a request carries no credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// New builds the authenticator selected by cfg.Mode.
func New(ctx context.Context, cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "oidc":
		return NewOIDCAuthenticator(ctx, cfg)
	case "dev":
		return NewDevAuthenticator(cfg), nil
	case "disabled", "":
		return DisabledAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// DisabledAuthenticator lets every request through with an unrestricted identity.
type DisabledAuthenticator struct{}

func (DisabledAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous", Unrestricted: true}, nil
}

// DevAuthenticator returns a fixed identity for local development.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg config.AuthConfig) *DevAuthenticator {
	orgs := cfg.DevOrganizations
	if len(orgs) == 0 {
		orgs = []string{"*"}
	}
	return &DevAuthenticator{
		identity: Identity{
			Subject:       cfg.DevSubject,
			Organizations: normalizeOrganizations(orgs),
			Roles:         []string{RoleOperator},
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

type verifyFunc func(ctx context.Context, rawToken string) (map[string]any, error)

// OIDCAuthenticator verifies bearer ID tokens against an issuer.
type OIDCAuthenticator struct {
	verify     verifyFunc
	orgsClaim  string
	rolesClaim string
}

// NewOIDCAuthenticator discovers the issuer and builds a token verifier.
func NewOIDCAuthenticator(ctx context.Context, cfg config.AuthConfig) (*OIDCAuthenticator, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc auth requires issuer url and client id")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return &OIDCAuthenticator{
		verify: func(ctx context.Context, rawToken string) (map[string]any, error) {
			idToken, err := verifier.Verify(ctx, rawToken)
			if err != nil {
				return nil, err
			}
			var claims map[string]any
			if err := idToken.Claims(&claims); err != nil {
				return nil, err
			}
			return claims, nil
		},
		orgsClaim:  cfg.OrganizationsClaim,
		rolesClaim: cfg.RolesClaim,
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := a.verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return Identity{
		Subject:       subject,
		Email:         email,
		Organizations: normalizeOrganizations(stringListClaim(claims, a.orgsClaim)),
		Roles:         lowerAll(stringListClaim(claims, a.rolesClaim)),
	}, nil
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// stringListClaim accepts a JSON array of strings or a comma separated string.
func stringListClaim(claims map[string]any, key string) []string {
	v, ok := claims[key]
	if !ok {
		return nil
	}
	var out []string
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range typed {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(typed, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func normalizeOrganizations(orgs []string) []string {
	out := make([]string, 0, len(orgs))
	for _, org := range orgs {
		if org = strings.ToUpper(strings.TrimSpace(org)); org != "" {
			out = append(out, org)
		}
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}
