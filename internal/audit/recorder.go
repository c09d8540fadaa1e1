package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
)

// ErrIntegrity is returned when a stored event no longer matches its hash.
var ErrIntegrity = errors.New("audit event integrity check failed")

const recordTimeout = 5 * time.Second

const insertEventSQL = `
INSERT INTO commit_events (
    occurred_at, actor, request_id, transaction_id, organization_code, slot,
    previous_candidate_id, candidate_id, candidate_label, revision, integrity_sha256
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const historySQL = `
SELECT id, occurred_at, actor, request_id, transaction_id, organization_code, slot,
       previous_candidate_id, candidate_id, candidate_label, revision, integrity_sha256
FROM commit_events
WHERE transaction_id = $1
ORDER BY occurred_at, id`

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Recorder writes commit events. It is a reconcile.CommitObserver.
type Recorder struct {
	db     execQuerier
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder over an open database.
func NewRecorder(db *sql.DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger.With("component", "audit"), now: time.Now}
}

// Validate checks the fields every stored event needs.
func Validate(event domain.CommitEvent) error {
	switch {
	case strings.TrimSpace(event.TransactionID) == "":
		return errors.New("transaction id is required")
	case !event.Slot.Valid():
		return fmt.Errorf("unknown slot %q", event.Slot)
	case strings.TrimSpace(event.CandidateID) == "":
		return errors.New("candidate id is required")
	case event.Revision <= 0:
		return fmt.Errorf("revision must be positive, got %d", event.Revision)
	case event.CandidateID == event.PreviousCandidateID:
		return errors.New("event does not change the slot")
	}
	return nil
}

// Record stores one event. A zero OccurredAt is set to now.
func (r *Recorder) Record(ctx context.Context, event domain.CommitEvent) error {
	if err := Validate(event); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	event.OccurredAt = event.OccurredAt.UTC().Truncate(time.Microsecond)
	if event.Actor == "" {
		event.Actor = "unknown"
	}

	_, err := r.db.ExecContext(ctx, insertEventSQL,
		event.OccurredAt,
		event.Actor,
		event.RequestID,
		event.TransactionID,
		event.OrganizationCode,
		string(event.Slot),
		event.PreviousCandidateID,
		event.CandidateID,
		event.CandidateLabel,
		event.Revision,
		IntegrityHash(event),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// SlotCommitted records the event detached from the caller's cancellation.
// Failures are logged; the commit itself already happened.
func (r *Recorder) SlotCommitted(ctx context.Context, event domain.CommitEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.Record(ctx, event); err != nil {
		r.logger.Error("audit record failed",
			"error", err,
			"transaction", event.TransactionID,
			"slot", event.Slot,
			"request_id", event.RequestID,
		)
	}
}

// History returns the events of one transaction in commit order. Every row is
// checked against its stored hash.
func (r *Recorder) History(ctx context.Context, transactionID string) ([]domain.CommitEvent, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, errors.New("transaction id is required")
	}
	rows, err := r.db.QueryContext(ctx, historySQL, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	events := make([]domain.CommitEvent, 0)
	for rows.Next() {
		var (
			event     domain.CommitEvent
			slot      string
			integrity string
		)
		if err := rows.Scan(
			&event.ID,
			&event.OccurredAt,
			&event.Actor,
			&event.RequestID,
			&event.TransactionID,
			&event.OrganizationCode,
			&slot,
			&event.PreviousCandidateID,
			&event.CandidateID,
			&event.CandidateLabel,
			&event.Revision,
			&integrity,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Slot = domain.SlotKind(slot)
		event.OccurredAt = event.OccurredAt.UTC()
		if IntegrityHash(event) != integrity {
			return nil, fmt.Errorf("%w: event %d", ErrIntegrity, event.ID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// IntegrityHash is the SHA-256 over the event's content fields. The database id
// is not part of it.
func IntegrityHash(event domain.CommitEvent) string {
	fields := []string{
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
		event.Actor,
		event.RequestID,
		event.TransactionID,
		event.OrganizationCode,
		string(event.Slot),
		event.PreviousCandidateID,
		event.CandidateID,
		event.CandidateLabel,
		strconv.FormatInt(event.Revision, 10),
	}
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
