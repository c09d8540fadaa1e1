package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
	"github.com/vanshika/wastelca/internal/service"
	"github.com/vanshika/wastelca/internal/sheet"
)

// Stat keys reported by the built-in operations.
const (
	StatRows        = "rows"
	StatCreated     = "created"
	StatSkipped     = "skipped"
	StatExamined    = "examined"
	StatMatched     = "matched"
	StatNeedsReview = "needs_review"
	StatFailed      = "failed"
)

// ImportSource opens the import workbook of an organization and period.
type ImportSource interface {
	Open(ctx context.Context, org string, year, month int) (io.ReadCloser, error)
}

// ImportOperation loads a workbook from source and ingests its rows. Rows
// for records that already exist are skipped.
func ImportOperation(source ImportSource, ingestor *service.BulkIngestor) Operation {
	return func(ctx context.Context, req domain.BatchRequest) (map[string]int64, error) {
		rc, err := source.Open(ctx, req.OrganizationCode, req.Year, req.Month)
		if err != nil {
			return nil, fmt.Errorf("open import: %w", err)
		}
		defer rc.Close()

		inputs, err := sheet.ParseTransactions(rc, req.OrganizationCode)
		if err != nil {
			return nil, fmt.Errorf("parse import: %w", err)
		}
		stats := map[string]int64{StatRows: int64(len(inputs))}
		for i := range inputs {
			if !strings.EqualFold(strings.TrimSpace(inputs[i].OrganizationCode), req.OrganizationCode) {
				return stats, fmt.Errorf("row %d belongs to organization %q, import is for %q", i+1, inputs[i].OrganizationCode, req.OrganizationCode)
			}
		}

		result, err := ingestor.IngestTransactions(ctx, inputs)
		stats[StatCreated] = result.Created
		stats[StatSkipped] = result.Skipped
		if err != nil {
			return stats, fmt.Errorf("ingest import: %w", err)
		}
		return stats, nil
	}
}

// AutoMapper links unresolved slots to their best candidate when the match
// is unambiguous.
type AutoMapper struct {
	Queries   *reconcile.QueryService
	Lookup    reconcile.CandidateLookup
	Resolver  *reconcile.Resolver
	Threshold float64
	Logger    *slog.Logger
}

// Operation returns the automap batch operation.
func (m *AutoMapper) Operation() Operation {
	return m.Run
}

// Run walks every incomplete record in scope. Records are collected before
// committing so commits do not shift the pages being read.
func (m *AutoMapper) Run(ctx context.Context, req domain.BatchRequest) (map[string]int64, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actor := req.Actor
	if actor == "" {
		actor = "automap"
	}

	filter := req.Scope().Filter()
	filter.Overall = domain.StatusIncomplete
	var records []domain.TransactionRecord
	if err := m.Queries.All(ctx, filter, 200, func(rec domain.TransactionRecord) error {
		records = append(records, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	stats := map[string]int64{StatExamined: int64(len(records)), StatMatched: 0, StatNeedsReview: 0, StatFailed: 0}
	lookup := reconcile.NewSessionLookup(m.Lookup)
	for _, rec := range records {
		for _, state := range rec.Slots.Slots() {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if state.Resolved {
				continue
			}
			candidates, err := lookup.ListCandidates(ctx, state.Kind.EntityKind(), rec.OrganizationCode, reconcile.CandidateDirection(rec, state.Kind))
			if err != nil {
				return stats, err
			}
			best, ok := reconcile.PickUnambiguous(reconcile.RankCandidates(rec, candidates), m.Threshold)
			if !ok {
				stats[StatNeedsReview]++
				continue
			}
			updated, err := m.Resolver.CommitWith(ctx, domain.SlotCommit{
				TransactionID:    rec.ID,
				Slot:             state.Kind,
				CandidateID:      best.Entity.ID,
				ExpectedRevision: rec.Revision,
				Actor:            actor,
			})
			if err == nil {
				stats[StatMatched]++
				rec.Revision = updated.Revision
				continue
			}
			reason, ok := domain.CommitReasonOf(err)
			if !ok || reason == domain.CommitTransport {
				return stats, err
			}
			logger.Warn("automap commit rejected", "transaction", rec.ID, "slot", state.Kind, "candidate", best.Entity.ID, "reason", reason, "error", err)
			stats[StatFailed]++
			if reason == domain.CommitConflict {
				break
			}
		}
	}
	return stats, nil
}

// CalculationClient posts a scope to the external calculation service.
type CalculationClient struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

type calculationRequest struct {
	OrganizationCode string `json:"organizationCode"`
	Year             int    `json:"year"`
	Month            int    `json:"month,omitempty"`
}

type calculationResponse struct {
	Stats map[string]int64 `json:"stats"`
}

// Operation returns the calculate batch operation.
func (c *CalculationClient) Operation() Operation {
	return c.Run
}

// Run sends the request. Any 2xx status is success; a JSON body with a
// "stats" object is passed through.
func (c *CalculationClient) Run(ctx context.Context, req domain.BatchRequest) (map[string]int64, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, errors.New("calculation endpoint is not configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(calculationRequest{OrganizationCode: req.OrganizationCode, Year: req.Year, Month: req.Month})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build calculation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calculation request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("calculation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded calculationResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &decoded) == nil && decoded.Stats != nil {
		return decoded.Stats, nil
	}
	return map[string]int64{}, nil
}
