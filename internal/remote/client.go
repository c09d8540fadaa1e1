// Package remote is an HTTP client for the reconciliation API. It implements
// the engine's store interfaces so a Resolver, QueryService or Aggregator can
// run against a remote server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/vanshika/wastelca/internal/api"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
)

// Options configure a Client.
type Options struct {
	BaseURL string
	// TokenSource supplies bearer tokens. Nil sends unauthenticated requests.
	TokenSource oauth2.TokenSource
	// HTTPClient is the base transport; http.DefaultClient when nil.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the reconciliation API. Requests are never retried.
type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.TokenSource != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, opts.TokenSource)
	}
	if opts.Timeout > 0 {
		withTimeout := *httpClient
		withTimeout.Timeout = opts.Timeout
		httpClient = &withTimeout
	}
	return &Client{base: base, http: httpClient}, nil
}

// StaticToken returns a token source for a fixed bearer token.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// ClientCredentials returns a token source using the OAuth2 client
// credentials grant. Tokens are cached until they expire.
func ClientCredentials(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return cfg.TokenSource(ctx)
}

var (
	_ reconcile.CandidateLookup  = (*Client)(nil)
	_ reconcile.TransactionStore = (*Client)(nil)
	_ reconcile.SlotCounter      = (*Client)(nil)
	_ reconcile.BatchTrigger     = (*Client)(nil)
)

// ListCandidates implements reconcile.CandidateLookup.
func (c *Client) ListCandidates(ctx context.Context, kind domain.EntityKind, organizationCode string, direction domain.Direction) ([]domain.ReferenceEntity, error) {
	query := url.Values{}
	query.Set(api.ParamOrganization, organizationCode)
	query.Set(api.ParamKind, string(kind))
	if direction != domain.DirectionAny {
		query.Set(api.ParamDirection, string(direction))
	}

	var resp api.CandidatesDTO
	if err := c.do(ctx, http.MethodGet, "/candidates", query, nil, &resp); err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == api.CodeNoPermission || apiErr.Code == api.CodeUnknownOrganization) {
			return nil, &domain.LookupError{Kind: kind, OrganizationCode: organizationCode, Err: err}
		}
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	out := make([]domain.ReferenceEntity, 0, len(resp.Items))
	for _, item := range resp.Items {
		entity, err := item.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// GetEntity implements reconcile.CandidateLookup.
func (c *Client) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.ReferenceEntity, error) {
	var resp api.EntityDTO
	path := escapePath("entities", string(kind), id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		if isNotFound(err) {
			return domain.ReferenceEntity{}, fmt.Errorf("%w: %s %s (%v)", domain.ErrEntityNotFound, kind, id, err)
		}
		return domain.ReferenceEntity{}, fmt.Errorf("get entity: %w", err)
	}
	return resp.ToDomain()
}

// QueryTransactions implements reconcile.TransactionStore.
func (c *Client) QueryTransactions(ctx context.Context, filter domain.TransactionFilter, page domain.PageRequest) (domain.TransactionPage, error) {
	var resp api.TransactionPageDTO
	if err := c.do(ctx, http.MethodGet, "/transactions", api.EncodeFilter(filter, page.Page, page.PageSize), nil, &resp); err != nil {
		return domain.TransactionPage{}, fmt.Errorf("query transactions: %w", err)
	}
	return resp.ToDomain()
}

// GetTransaction implements reconcile.TransactionStore.
func (c *Client) GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error) {
	var resp api.TransactionDTO
	if err := c.do(ctx, http.MethodGet, escapePath("transactions", id), nil, nil, &resp); err != nil {
		if isNotFound(err) {
			return domain.TransactionRecord{}, fmt.Errorf("%w: %s (%v)", domain.ErrTransactionNotFound, id, err)
		}
		return domain.TransactionRecord{}, fmt.Errorf("get transaction: %w", err)
	}
	return resp.ToDomain()
}

// ReplaceSlot implements reconcile.TransactionStore. Failures are
// *domain.CommitError, except authorization failures which are
// *domain.LookupError; anything that is not a definite rejection by the
// server is a Transport failure.
func (c *Client) ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	body := api.CommitRequest{CandidateID: commit.CandidateID, ExpectedRevision: commit.ExpectedRevision}
	path := escapePath("transactions", commit.TransactionID, "slots", string(commit.Slot))

	var resp api.TransactionDTO
	if err := c.do(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		if isAuthorizationFailure(err) {
			return domain.TransactionRecord{}, &domain.LookupError{
				Kind: commit.Slot.EntityKind(),
				Op:   "commit " + string(commit.Slot) + " on " + commit.TransactionID,
				Err:  err,
			}
		}
		return domain.TransactionRecord{}, domain.NewCommitError(commitReason(err), commit, err)
	}
	record, err := resp.ToDomain()
	if err != nil {
		return domain.TransactionRecord{}, domain.NewCommitError(domain.CommitTransport, commit, err)
	}
	return record, nil
}

// CountSlots implements reconcile.SlotCounter.
func (c *Client) CountSlots(ctx context.Context, scope domain.Scope) (domain.SlotCounts, error) {
	var resp api.CountsDTO
	query := api.EncodeScope([]string{scope.OrganizationCode}, scope.Year, scope.Month)
	if err := c.do(ctx, http.MethodGet, "/status/counts", query, nil, &resp); err != nil {
		return domain.SlotCounts{}, fmt.Errorf("count slots: %w", err)
	}
	return resp.ToDomain(), nil
}

// Trigger implements reconcile.BatchTrigger. The server records its own
// identity as the job actor.
func (c *Client) Trigger(ctx context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, error) {
	body := api.BatchRequestDTO{OrganizationCode: req.OrganizationCode, Year: req.Year, Month: req.Month}
	var resp api.BatchJobDTO
	if err := c.do(ctx, http.MethodPost, escapePath("batch", string(op)), nil, body, &resp); err != nil {
		return domain.BatchJob{}, fmt.Errorf("trigger %s: %w", op, err)
	}
	return resp.ToDomain(), nil
}

// Job implements reconcile.BatchTrigger.
func (c *Client) Job(ctx context.Context, id string) (domain.BatchJob, error) {
	var resp api.BatchJobDTO
	if err := c.do(ctx, http.MethodGet, escapePath("batch", "jobs", id), nil, nil, &resp); err != nil {
		if isNotFound(err) {
			return domain.BatchJob{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return domain.BatchJob{}, fmt.Errorf("get job: %w", err)
	}
	return resp.ToDomain(), nil
}

// History lists the audit events of a transaction.
func (c *Client) History(ctx context.Context, transactionID string) ([]api.CommitEventDTO, error) {
	var resp api.HistoryDTO
	if err := c.do(ctx, http.MethodGet, escapePath("transactions", transactionID, "history"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return resp.Items, nil
}

// escapePath joins segments into an escaped absolute path.
func escapePath(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// do sends a request to path, which must already be escaped.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := *c.base
	rawPath := strings.TrimRight(c.base.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	target.Path = unescaped
	target.RawPath = rawPath
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := reconcile.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &api.APIError{Status: resp.StatusCode}
	var body api.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func isNotFound(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && apiErr.Code == api.CodeNotFound
}

// isAuthorizationFailure reports a rejected credential or a caller that may
// not commit, as opposed to a rejected candidate.
func isAuthorizationFailure(err error) bool {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// commitReason classifies a failed commit response. Only definite
// rejections are reported as such.
func commitReason(err error) domain.CommitReason {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return domain.CommitTransport
	}
	switch apiErr.Status {
	case http.StatusConflict:
		return domain.CommitConflict
	case http.StatusNotFound:
		if apiErr.Code == api.CodeSlotNotApplicable {
			return domain.CommitInvalidCandidate
		}
		return domain.CommitNotFound
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return domain.CommitInvalidCandidate
	default:
		return domain.CommitTransport
	}
}
