package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/memstore"
	"github.com/vanshika/wastelca/internal/reconcile"
	"github.com/vanshika/wastelca/internal/service"
)

var occurred = time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)

func automapStore(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "ORG1"}))
	for _, e := range []domain.ReferenceEntity{
		{ID: "item-1", Kind: domain.EntityLineItem, Label: "Mixed Paper"},
		{ID: "item-2", Kind: domain.EntityLineItem, Label: "Scrap Metal"},
		{ID: "client-1", Kind: domain.EntityClient, Label: "Acme Recycling", OrganizationCode: "ORG1", Direction: domain.DirectionInbound},
	} {
		require.NoError(t, s.UpsertEntity(ctx, e))
	}
	records := map[string][]string{
		"T1": {"mixed paper", "acme recycling"},
		"T2": {"qqqq"},
	}
	for id, descriptors := range records {
		_, err := s.CreateTransaction(ctx, domain.TransactionRecord{
			ID:               id,
			OrganizationCode: "ORG1",
			Direction:        domain.DirectionInbound,
			DocumentNumber:   "INV-" + id,
			OccurredOn:       occurred,
			Descriptors:      descriptors,
			Slots:            domain.NewMappingSlotSet(domain.SlotLineItem, domain.SlotClient),
			Revision:         1,
		})
		require.NoError(t, err)
	}
	return s
}

func newAutoMapper(store *memstore.Store) *AutoMapper {
	return &AutoMapper{
		Queries:   reconcile.NewQueryService(store),
		Lookup:    store,
		Resolver:  reconcile.NewResolver(store, store, discardLogger()),
		Threshold: 0.85,
		Logger:    discardLogger(),
	}
}

func TestAutoMapperCommitsUnambiguousMatches(t *testing.T) {
	store := automapStore(t)
	ctx := context.Background()

	stats, err := newAutoMapper(store).Run(ctx, march)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats[StatExamined])
	require.Equal(t, int64(2), stats[StatMatched])
	require.Equal(t, int64(2), stats[StatNeedsReview])
	require.Equal(t, int64(0), stats[StatFailed])

	t1, err := store.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	require.True(t, t1.Complete())
	item, _ := t1.Slots.Get(domain.SlotLineItem)
	require.Equal(t, "item-1", item.CandidateID)

	t2, err := store.GetTransaction(ctx, "T2")
	require.NoError(t, err)
	require.Equal(t, 0, t2.Slots.ResolvedCount())

	again, err := newAutoMapper(store).Run(ctx, march)
	require.NoError(t, err)
	require.Equal(t, int64(1), again[StatExamined], "complete records are not revisited")
	require.Equal(t, int64(0), again[StatMatched])
}

func TestAutoMapperThresholdOne(t *testing.T) {
	store := automapStore(t)
	mapper := newAutoMapper(store)
	mapper.Threshold = 1.01

	stats, err := mapper.Run(context.Background(), march)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats[StatMatched])
	require.Equal(t, int64(4), stats[StatNeedsReview])
}

// deniedStore rejects every commit the way a remote store does for a caller
// without the commit role.
type deniedStore struct {
	*memstore.Store
	calls int
}

func (d *deniedStore) ReplaceSlot(_ context.Context, commit domain.SlotCommit) (domain.TransactionRecord, error) {
	d.calls++
	return domain.TransactionRecord{}, &domain.LookupError{Kind: commit.Slot.EntityKind(), Err: domain.ErrForbidden}
}

func TestAutoMapperStopsOnAuthorizationFailure(t *testing.T) {
	store := &deniedStore{Store: automapStore(t)}
	mapper := newAutoMapper(store.Store)
	mapper.Resolver = reconcile.NewResolver(store, store, discardLogger())

	stats, err := mapper.Run(context.Background(), march)
	require.ErrorIs(t, err, domain.ErrForbidden)
	var lookupErr *domain.LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Equal(t, "ORG1", lookupErr.OrganizationCode)
	require.Equal(t, 1, store.calls)
	require.Equal(t, int64(0), stats[StatFailed])
	require.Equal(t, int64(0), stats[StatMatched])
}

func TestRunBatchRefreshesOpenViews(t *testing.T) {
	store := automapStore(t)
	ctx := context.Background()

	var agg *reconcile.Aggregator
	runner := NewRunner(discardLogger(), Options{
		Workers: 1,
		OnComplete: func(ctx context.Context, job domain.BatchJob) {
			_ = agg.RecordScopeChanged(ctx, job.Request.Scope())
		},
	})
	runner.Register(domain.BatchAutoMap, newAutoMapper(store).Operation())
	agg = reconcile.NewAggregator(store, runner, discardLogger(), reconcile.AggregatorOptions{PollInterval: 5 * time.Millisecond})
	runner.Start(ctx)
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	view, err := agg.OpenView(ctx, march.Scope())
	require.NoError(t, err)
	before, _ := view.Status()
	require.Equal(t, int64(0), before.Complete)

	job, status, err := agg.RunBatch(ctx, domain.BatchAutoMap, march)
	require.NoError(t, err)
	require.Equal(t, domain.JobSucceeded, job.Status)
	require.Equal(t, int64(1), status.Complete)
	require.Equal(t, domain.StateNeedsAttention, status.State)

	after, err := view.Status()
	require.NoError(t, err)
	require.Equal(t, int64(1), after.Complete)
}

type fakeSource struct {
	data []byte
	err  error
	keys []string
}

func (f *fakeSource) Open(_ context.Context, org string, year, month int) (io.ReadCloser, error) {
	f.keys = append(f.keys, org)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func importWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheetName := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheetName, cell, &values))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestImportOperation(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.UpsertOrganization(ctx, domain.Organization{Code: "ORG1"}))
	ingestor := service.NewBulkIngestor(service.NewIngestService(store, config.DefaultSlotProfiles()), 2)

	source := &fakeSource{data: importWorkbook(t, [][]any{
		{"Document", "Date", "Descriptor", "Weight", "Direction"},
		{"INV-1", "2024-03-01", "Mixed paper", "10", "inbound"},
		{"INV-1", "2024-03-02", "Cardboard", "4.5", "inbound"},
		{"INV-2", "2024-03-05", "Glass", "2", "outbound"},
	})}
	op := ImportOperation(source, ingestor)

	stats, err := op(ctx, march)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats[StatRows])
	require.Equal(t, int64(3), stats[StatCreated])
	require.Equal(t, []string{"ORG1"}, source.keys)

	page, err := store.QueryTransactions(ctx, domain.TransactionFilter{OrganizationCode: "ORG1"}, domain.PageRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.TotalCount)
	for _, rec := range page.Records {
		require.Equal(t, 0, rec.Slots.ResolvedCount(), "imported records start unresolved")
	}

	stats, err = op(ctx, march)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats[StatCreated])
	require.Equal(t, int64(3), stats[StatSkipped])
}

func TestImportOperationErrors(t *testing.T) {
	store := memstore.New()
	ingestor := service.NewBulkIngestor(service.NewIngestService(store, config.DefaultSlotProfiles()), 1)
	missing := errors.New("import file not found")

	_, err := ImportOperation(&fakeSource{err: missing}, ingestor)(context.Background(), march)
	require.ErrorIs(t, err, missing)

	foreign := &fakeSource{data: importWorkbook(t, [][]any{
		{"Organization", "Document", "Date"},
		{"ORG2", "INV-1", "2024-03-01"},
	})}
	_, err = ImportOperation(foreign, ingestor)(context.Background(), march)
	require.ErrorContains(t, err, "ORG2")
}

func TestCalculationClient(t *testing.T) {
	var received calculationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if received.OrganizationCode == "BROKEN" {
			http.Error(w, "calculation failed", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"stats": map[string]int64{"calculated": 7}})
	}))
	t.Cleanup(srv.Close)

	client := &CalculationClient{URL: srv.URL, Client: srv.Client(), Timeout: time.Second}
	stats, err := client.Run(context.Background(), march)
	require.NoError(t, err)
	require.Equal(t, int64(7), stats["calculated"])
	require.Equal(t, calculationRequest{OrganizationCode: "ORG1", Year: 2024, Month: 3}, received)

	_, err = client.Run(context.Background(), domain.BatchRequest{OrganizationCode: "BROKEN", Year: 2024})
	require.ErrorContains(t, err, "500")

	_, err = (&CalculationClient{}).Run(context.Background(), march)
	require.Error(t, err)
}
