package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vanshika/wastelca/internal/domain"
)

// QueryCounter derives SlotCounts from a QueryService, so aggregate numbers
// come from the exact record set the query returns.
type QueryCounter struct {
	queries *QueryService
}

// NewQueryCounter builds a counter over queries.
func NewQueryCounter(queries *QueryService) *QueryCounter {
	return &QueryCounter{queries: queries}
}

// CountSlots runs one count query per dimension.
func (c *QueryCounter) CountSlots(ctx context.Context, scope domain.Scope) (domain.SlotCounts, error) {
	base := scope.Filter()

	total, err := c.queries.Count(ctx, base)
	if err != nil {
		return domain.SlotCounts{}, err
	}
	complete := base
	complete.Overall = domain.StatusComplete
	done, err := c.queries.Count(ctx, complete)
	if err != nil {
		return domain.SlotCounts{}, err
	}

	counts := domain.SlotCounts{Total: total, Complete: done}
	for _, kind := range domain.AllSlotKinds() {
		resolved, err := c.queries.Count(ctx, base.WithSlotStatus(kind, domain.StatusComplete))
		if err != nil {
			return domain.SlotCounts{}, err
		}
		unresolved, err := c.queries.Count(ctx, base.WithSlotStatus(kind, domain.StatusIncomplete))
		if err != nil {
			return domain.SlotCounts{}, err
		}
		counts.Slots = append(counts.Slots, domain.SlotProgress{Kind: kind, Resolved: resolved, Total: resolved + unresolved})
	}
	return counts, nil
}

// AggregatorOptions tune an Aggregator.
type AggregatorOptions struct {
	// Parallelism bounds concurrent summaries in SummarizeMany.
	Parallelism int
	// PollInterval is how often RunBatch checks job progress.
	PollInterval time.Duration
}

// Aggregator computes scope-level completion summaries and keeps open status
// views current.
type Aggregator struct {
	counter  SlotCounter
	batches  BatchTrigger
	logger   *slog.Logger
	parallel int
	poll     time.Duration

	mu    sync.Mutex
	views map[domain.Scope]*StatusView
}

// StatusView is a summary kept current by the Aggregator while open.
type StatusView struct {
	scope domain.Scope

	mu          sync.RWMutex
	refs        int
	status      domain.AggregateStatus
	err         error
	refreshedAt time.Time
	refreshes   int
}

// Scope returns the scope the view covers.
func (v *StatusView) Scope() domain.Scope { return v.scope }

// Status returns the last computed summary and the error of the last refresh.
func (v *StatusView) Status() (domain.AggregateStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status, v.err
}

// Refreshes reports how many times the view was recomputed.
func (v *StatusView) Refreshes() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshes
}

// RefreshedAt returns when the view was last recomputed.
func (v *StatusView) RefreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt
}

// NewAggregator builds an Aggregator. batches may be nil when no batch
// operations are available.
func NewAggregator(counter SlotCounter, batches BatchTrigger, logger *slog.Logger, opts AggregatorOptions) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Aggregator{
		counter:  counter,
		batches:  batches,
		logger:   logger.With("component", "aggregator"),
		parallel: opts.Parallelism,
		poll:     opts.PollInterval,
		views:    make(map[domain.Scope]*StatusView),
	}
}

// Summarize computes the aggregate status for one organization and optional period.
func (a *Aggregator) Summarize(ctx context.Context, organizationCode string, year, month int) (domain.AggregateStatus, error) {
	scope := normalizeScope(domain.Scope{OrganizationCode: organizationCode, Year: year, Month: month})
	if err := scope.Filter().Validate(); err != nil {
		return domain.AggregateStatus{}, &domain.QueryError{Op: "summarize", Err: err}
	}
	return a.summarize(ctx, scope)
}

func (a *Aggregator) summarize(ctx context.Context, scope domain.Scope) (domain.AggregateStatus, error) {
	counts, err := a.counter.CountSlots(ctx, scope)
	if err != nil {
		return domain.AggregateStatus{}, asQueryError("summarize", err)
	}
	return domain.AggregateStatus{
		Scope:    scope,
		Total:    counts.Total,
		Complete: counts.Complete,
		Slots:    counts.Slots,
		State:    domain.Classify(counts),
	}, nil
}

// SummarizeMany summarizes several organizations for the same period.
// Results are sorted by organization code; duplicates are dropped.
func (a *Aggregator) SummarizeMany(ctx context.Context, organizationCodes []string, year, month int) ([]domain.AggregateStatus, error) {
	orgs := dedupeOrganizations(organizationCodes)
	results := make([]domain.AggregateStatus, len(orgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallel)
	for i, org := range orgs {
		g.Go(func() error {
			status, err := a.Summarize(gctx, org, year, month)
			if err != nil {
				return fmt.Errorf("summarize %s: %w", org, err)
			}
			results[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// OpenView summarizes scope and keeps it current until closed. Opening the
// same scope twice shares one view.
func (a *Aggregator) OpenView(ctx context.Context, scope domain.Scope) (*StatusView, error) {
	scope = normalizeScope(scope)
	status, err := a.Summarize(ctx, scope.OrganizationCode, scope.Year, scope.Month)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	view, ok := a.views[scope]
	if !ok {
		view = &StatusView{scope: scope}
		a.views[scope] = view
	}
	a.mu.Unlock()

	view.mu.Lock()
	view.refs++
	view.status = status
	view.err = nil
	view.refreshedAt = time.Now()
	view.refreshes++
	view.mu.Unlock()
	return view, nil
}

// CloseView releases one reference to the view of scope.
func (a *Aggregator) CloseView(scope domain.Scope) {
	scope = normalizeScope(scope)
	a.mu.Lock()
	defer a.mu.Unlock()

	view, ok := a.views[scope]
	if !ok {
		return
	}
	view.mu.Lock()
	view.refs--
	remaining := view.refs
	view.mu.Unlock()
	if remaining <= 0 {
		delete(a.views, scope)
	}
}

// View returns the open view of scope, if any.
func (a *Aggregator) View(scope domain.Scope) (*StatusView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.views[normalizeScope(scope)]
	return v, ok
}

// RecordChanged refreshes every open view whose scope covers record.
func (a *Aggregator) RecordChanged(ctx context.Context, record domain.TransactionRecord) error {
	org := strings.ToUpper(record.OrganizationCode)
	return a.refreshWhere(ctx, func(s domain.Scope) bool {
		return s.Covers(org, record.Year(), record.Month())
	})
}

// RecordScopeChanged refreshes every open view overlapping scope.
func (a *Aggregator) RecordScopeChanged(ctx context.Context, scope domain.Scope) error {
	scope = normalizeScope(scope)
	return a.refreshWhere(ctx, func(s domain.Scope) bool {
		return scopesOverlap(s, scope)
	})
}

func (a *Aggregator) refreshWhere(ctx context.Context, match func(domain.Scope) bool) error {
	a.mu.Lock()
	var targets []*StatusView
	for scope, view := range a.views {
		if match(scope) {
			targets = append(targets, view)
		}
	}
	a.mu.Unlock()

	var errs []error
	for _, view := range targets {
		status, err := a.summarize(ctx, view.scope)
		view.mu.Lock()
		if err == nil {
			view.status = status
		}
		view.err = err
		view.refreshedAt = time.Now()
		view.refreshes++
		view.mu.Unlock()
		if err != nil {
			a.logger.Warn("status view refresh failed", "organization", view.scope.OrganizationCode, "year", view.scope.Year, "month", view.scope.Month, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trigger starts a batch operation and returns the accepted job.
func (a *Aggregator) Trigger(ctx context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, error) {
	if a.batches == nil {
		return domain.BatchJob{}, errors.New("batch operations are not configured")
	}
	req.OrganizationCode = strings.ToUpper(strings.TrimSpace(req.OrganizationCode))
	if err := req.Validate(); err != nil {
		return domain.BatchJob{}, fmt.Errorf("invalid batch request: %w", err)
	}
	job, err := a.batches.Trigger(ctx, op, req)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("trigger %s: %w", op, err)
	}
	a.logger.Info("batch accepted", "operation", op, "job", job.ID, "organization", req.OrganizationCode, "year", req.Year, "month", req.Month)
	return job, nil
}

// RunBatch triggers op, waits for the job to finish and re-summarizes the
// scope. A failed job is returned together with a non-nil error; the summary
// is still computed.
func (a *Aggregator) RunBatch(ctx context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, domain.AggregateStatus, error) {
	job, err := a.Trigger(ctx, op, req)
	if err != nil {
		return domain.BatchJob{}, domain.AggregateStatus{}, err
	}

	job, err = a.Wait(ctx, job.ID)
	if err != nil {
		return job, domain.AggregateStatus{}, err
	}

	scope := job.Request.Scope()
	if scope.OrganizationCode == "" {
		scope = req.Scope()
	}
	if err := a.RecordScopeChanged(ctx, scope); err != nil {
		a.logger.Warn("refresh after batch failed", "job", job.ID, "error", err)
	}
	status, err := a.Summarize(ctx, scope.OrganizationCode, scope.Year, scope.Month)
	if err != nil {
		return job, domain.AggregateStatus{}, err
	}
	if job.Status == domain.JobFailed {
		return job, status, fmt.Errorf("batch %s %s failed: %s", op, job.ID, job.Error)
	}
	return job, status, nil
}

// Wait polls a job until it reaches a terminal status or ctx ends.
func (a *Aggregator) Wait(ctx context.Context, jobID string) (domain.BatchJob, error) {
	if a.batches == nil {
		return domain.BatchJob{}, errors.New("batch operations are not configured")
	}
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		job, err := a.batches.Job(ctx, jobID)
		if err != nil {
			return domain.BatchJob{}, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func normalizeScope(s domain.Scope) domain.Scope {
	s.OrganizationCode = strings.ToUpper(strings.TrimSpace(s.OrganizationCode))
	return s
}

func scopesOverlap(a, b domain.Scope) bool {
	if a.OrganizationCode != "" && b.OrganizationCode != "" && a.OrganizationCode != b.OrganizationCode {
		return false
	}
	if a.Year > 0 && b.Year > 0 && a.Year != b.Year {
		return false
	}
	if a.Month > 0 && b.Month > 0 && a.Month != b.Month {
		return false
	}
	return true
}

func dedupeOrganizations(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
