package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var march2024 = time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)

// scenarioStore builds ORG1 with three records carrying {line_item, client}:
// T1 fully resolved, T2 missing client, T3 missing both.
func scenarioStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()

	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "ORG1"}))
	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "ORG2"}))
	for _, e := range []domain.ReferenceEntity{
		{ID: "item-1", Kind: domain.EntityLineItem, Label: "Mixed Paper"},
		{ID: "item-2", Kind: domain.EntityLineItem, Label: "Scrap Metal"},
		{ID: "client-1", Kind: domain.EntityClient, Label: "Acme Recycling", OrganizationCode: "ORG1", Direction: domain.DirectionInbound},
		{ID: "client-2", Kind: domain.EntityClient, Label: "Acme Recovery", OrganizationCode: "ORG1", Direction: domain.DirectionInbound},
		{ID: "99", Kind: domain.EntityClient, Label: "Foreign Client", OrganizationCode: "ORG2", Direction: domain.DirectionInbound},
		{ID: "sec-1", Kind: domain.EntitySecondaryClient, Label: "Sub Hauler", OrganizationCode: "ORG1"},
		{ID: "veh-1", Kind: domain.EntityVehicle, Label: "TRUCK 01", OrganizationCode: "ORG1"},
	} {
		require.NoError(t, s.UpsertEntity(ctx, e))
	}

	for i, id := range []string{"T1", "T2", "T3"} {
		_, err := s.CreateTransaction(ctx, domain.TransactionRecord{
			ID:               id,
			OrganizationCode: "ORG1",
			Direction:        domain.DirectionInbound,
			DocumentNumber:   fmt.Sprintf("INV-%03d", i+1),
			OccurredOn:       march2024,
			Descriptors:      []string{"mixed paper", "acme recycling"},
			Slots:            domain.NewMappingSlotSet(domain.SlotLineItem, domain.SlotClient),
		})
		require.NoError(t, err)
	}
	mustReplace(t, s, "T1", domain.SlotLineItem, "item-1")
	mustReplace(t, s, "T1", domain.SlotClient, "client-1")
	mustReplace(t, s, "T2", domain.SlotLineItem, "item-1")
	return s
}

// fullSlotStore has one outbound record carrying every slot kind.
func fullSlotStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "ORG1"}))
	for _, e := range []domain.ReferenceEntity{
		{ID: "item-a", Kind: domain.EntityLineItem, Label: "Cardboard"},
		{ID: "item-b", Kind: domain.EntityLineItem, Label: "Plastic Film"},
		{ID: "client-a", Kind: domain.EntityClient, Label: "Blue Disposal", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
		{ID: "client-b", Kind: domain.EntityClient, Label: "Green Disposal", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
		{ID: "sec-a", Kind: domain.EntitySecondaryClient, Label: "Hauler A", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
		{ID: "sec-b", Kind: domain.EntitySecondaryClient, Label: "Hauler B", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
		{ID: "veh-a", Kind: domain.EntityVehicle, Label: "TRUCK 01", OrganizationCode: "ORG1"},
		{ID: "veh-b", Kind: domain.EntityVehicle, Label: "TRUCK 02", OrganizationCode: "ORG1"},
	} {
		require.NoError(t, s.UpsertEntity(ctx, e))
	}
	_, err := s.CreateTransaction(ctx, domain.TransactionRecord{
		ID:               "OUT-1",
		OrganizationCode: "ORG1",
		Direction:        domain.DirectionOutbound,
		DocumentNumber:   "DSP-1",
		OccurredOn:       march2024,
		Slots:            domain.NewMappingSlotSet(domain.AllSlotKinds()...),
	})
	require.NoError(t, err)
	return s
}

func mustReplace(t *testing.T, s *memstore.Store, txID string, slot domain.SlotKind, candidate string) {
	t.Helper()
	_, err := s.ReplaceSlot(context.Background(), domain.SlotCommit{TransactionID: txID, Slot: slot, CandidateID: candidate})
	require.NoError(t, err)
}

// laggingStore serves GetTransaction from a snapshot taken before any commit,
// like a read replica that has not caught up.
type laggingStore struct {
	*memstore.Store
	mu       sync.Mutex
	snapshot map[string]domain.TransactionRecord
}

func (l *laggingStore) GetTransaction(ctx context.Context, id string) (domain.TransactionRecord, error) {
	l.mu.Lock()
	rec, ok := l.snapshot[id]
	l.mu.Unlock()
	if ok {
		return rec.Clone(), nil
	}
	rec, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return rec, err
	}
	l.mu.Lock()
	l.snapshot[id] = rec.Clone()
	l.mu.Unlock()
	return rec, nil
}

// failingStore fails ReplaceSlot with err until it is cleared.
type failingStore struct {
	*memstore.Store
	mu  sync.Mutex
	err error
}

func (f *failingStore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *failingStore) ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return f.Store.ReplaceSlot(ctx, commit)
}

// gatedStore holds ReplaceSlot until release is closed. entered is closed
// when the first commit reaches the store.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(s *memstore.Store) *gatedStore {
	return &gatedStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) ReplaceSlot(ctx context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.ReplaceSlot(ctx, commit)
}

// countingLookup counts ListCandidates calls.
type countingLookup struct {
	*memstore.Store
	mu    sync.Mutex
	calls int
}

func (c *countingLookup) ListCandidates(ctx context.Context, kind domain.EntityKind, org string, dir domain.Direction) ([]domain.ReferenceEntity, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Store.ListCandidates(ctx, kind, org, dir)
}

// fakeBatches completes each job after a fixed number of polls.
type fakeBatches struct {
	mu      sync.Mutex
	jobs    map[string]domain.BatchJob
	polls   map[string]int
	after   int
	fail    bool
	onDone  func(domain.BatchJob)
	counter int
}

func newFakeBatches(after int) *fakeBatches {
	return &fakeBatches{jobs: map[string]domain.BatchJob{}, polls: map[string]int{}, after: after}
}

func (f *fakeBatches) Trigger(_ context.Context, op domain.BatchOperation, req domain.BatchRequest) (domain.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	job := domain.BatchJob{
		ID:         fmt.Sprintf("job-%d", f.counter),
		Operation:  op,
		Request:    req,
		Status:     domain.JobAccepted,
		AcceptedAt: time.Now(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeBatches) Job(_ context.Context, id string) (domain.BatchJob, error) {
	f.mu.Lock()
	job, ok := f.jobs[id]
	if !ok {
		f.mu.Unlock()
		return domain.BatchJob{}, domain.ErrJobNotFound
	}
	f.polls[id]++
	var done func(domain.BatchJob)
	if !job.Status.Terminal() && f.polls[id] > f.after {
		job.Status = domain.JobSucceeded
		if f.fail {
			job.Status = domain.JobFailed
			job.Error = "calculation endpoint returned 500"
		}
		f.jobs[id] = job
		done = f.onDone
	} else if !job.Status.Terminal() {
		job.Status = domain.JobRunning
		f.jobs[id] = job
	}
	f.mu.Unlock()
	if done != nil {
		done(job)
	}
	return job, nil
}
