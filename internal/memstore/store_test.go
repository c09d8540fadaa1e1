package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanshika/wastelca/internal/domain"
)

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "org1", Name: "Org One"}))
	require.NoError(t, s.UpsertOrganization(ctx, domain.Organization{Code: "ORG2", Name: "Org Two"}))

	entities := []domain.ReferenceEntity{
		{ID: "c-in", Kind: domain.EntityClient, Label: "Acme Recycling", OrganizationCode: "ORG1", Direction: domain.DirectionInbound},
		{ID: "c-out", Kind: domain.EntityClient, Label: "Blue Disposal", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
		{ID: "c-other", Kind: domain.EntityClient, Label: "Other Org Client", OrganizationCode: "ORG2"},
		{ID: "li-shared", Kind: domain.EntityLineItem, Label: "Cardboard"},
		{ID: "li-org2", Kind: domain.EntityLineItem, Label: "Glass", OrganizationCode: "ORG2"},
		{ID: "v-1", Kind: domain.EntityVehicle, Label: "TRUCK-01", OrganizationCode: "ORG1"},
		{ID: "v-2", Kind: domain.EntityVehicle, Label: "TRUCK-02", OrganizationCode: "ORG1", Direction: domain.DirectionInbound},
		{ID: "v-3", Kind: domain.EntityVehicle, Label: "TRUCK-03", OrganizationCode: "ORG1"},
		{ID: "v-out", Kind: domain.EntityVehicle, Label: "TRAILER-09", OrganizationCode: "ORG1", Direction: domain.DirectionOutbound},
	}
	for _, e := range entities {
		require.NoError(t, s.UpsertEntity(ctx, e))
	}

	for i := 0; i < 5; i++ {
		_, err := s.CreateTransaction(ctx, domain.TransactionRecord{
			ID:               fmt.Sprintf("T%d", i),
			OrganizationCode: "ORG1",
			Direction:        domain.DirectionInbound,
			DocumentNumber:   fmt.Sprintf("DOC-%d", 4-i),
			OccurredOn:       time.Date(2024, time.March, 1+i, 0, 0, 0, 0, time.UTC),
			Slots:            domain.NewMappingSlotSet(domain.SlotLineItem, domain.SlotClient, domain.SlotVehicle),
		})
		require.NoError(t, err)
	}
	return s
}

func TestListCandidatesScoping(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	clients, err := s.ListCandidates(ctx, domain.EntityClient, "org1", domain.DirectionInbound)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, "c-in", clients[0].ID)

	items, err := s.ListCandidates(ctx, domain.EntityLineItem, "ORG1", domain.DirectionAny)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "li-shared", items[0].ID)

	vehicles, err := s.ListCandidates(ctx, domain.EntityVehicle, "ORG1", domain.DirectionInbound)
	require.NoError(t, err)
	require.Len(t, vehicles, 3)
	for _, v := range vehicles {
		require.NotEqual(t, "v-out", v.ID)
	}

	_, err = s.ListCandidates(ctx, domain.EntityClient, "NOPE", domain.DirectionAny)
	var lookupErr *domain.LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.ErrorIs(t, err, domain.ErrUnknownOrganization)
}

func TestCreateTransactionKeepsExisting(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	_, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T0", Slot: domain.SlotClient, CandidateID: "c-in"})
	require.NoError(t, err)

	created, err := s.CreateTransaction(ctx, domain.TransactionRecord{
		ID:               "T0",
		OrganizationCode: "ORG1",
		Slots:            domain.NewMappingSlotSet(domain.SlotClient),
	})
	require.NoError(t, err)
	require.False(t, created)

	rec, err := s.GetTransaction(ctx, "T0")
	require.NoError(t, err)
	state, _ := rec.Slots.Get(domain.SlotClient)
	require.True(t, state.Resolved)
}

func TestReplaceSlot(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	rec, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotLineItem, CandidateID: "li-shared"})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Revision)

	again, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotLineItem, CandidateID: "li-shared"})
	require.NoError(t, err)
	require.Equal(t, rec.Revision, again.Revision)

	_, err = s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotLineItem, CandidateID: "li-org2"})
	reason, ok := domain.CommitReasonOf(err)
	require.True(t, ok)
	require.Equal(t, domain.CommitInvalidCandidate, reason)

	_, err = s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotClient, CandidateID: "c-out"})
	reason, _ = domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitInvalidCandidate, reason)

	_, err = s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotVehicle, CandidateID: "v-out"})
	reason, _ = domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitInvalidCandidate, reason)

	_, err = s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotClient, CandidateID: "c-in", ExpectedRevision: 1})
	reason, _ = domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitConflict, reason)

	_, err = s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "missing", Slot: domain.SlotClient, CandidateID: "c-in"})
	reason, _ = domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitNotFound, reason)
	require.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}

func TestConcurrentReplaceSlot(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	labels := map[string]string{"v-1": "TRUCK-01", "v-2": "TRUCK-02", "v-3": "TRUCK-03"}
	candidates := []string{"v-1", "v-2", "v-3"}

	const writers = 24
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		revisions = map[int64]string{}
		writeErrs []error
	)
	stop := make(chan struct{})
	readErrs := make(chan error, 4)

	for r := 0; r < 4; r++ {
		go func() {
			for {
				select {
				case <-stop:
					readErrs <- nil
					return
				default:
				}
				rec, err := s.GetTransaction(ctx, "T1")
				if err != nil {
					readErrs <- err
					return
				}
				state, _ := rec.Slots.Get(domain.SlotVehicle)
				if !state.Resolved {
					if state.CandidateID != "" || state.CandidateLabel != "" {
						readErrs <- fmt.Errorf("unresolved slot carries %+v", state)
						return
					}
					continue
				}
				if label, ok := labels[state.CandidateID]; !ok || label != state.CandidateLabel {
					readErrs <- fmt.Errorf("torn slot state %+v", state)
					return
				}
			}
		}()
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := candidates[i%len(candidates)]
			rec, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotVehicle, CandidateID: id})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				writeErrs = append(writeErrs, err)
				return
			}
			state, _ := rec.Slots.Get(domain.SlotVehicle)
			revisions[rec.Revision] = state.CandidateID
		}(i)
	}
	wg.Wait()
	close(stop)
	for r := 0; r < 4; r++ {
		require.NoError(t, <-readErrs)
	}
	require.Empty(t, writeErrs)

	final, err := s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	state, _ := final.Slots.Get(domain.SlotVehicle)
	require.True(t, state.Resolved)
	require.Contains(t, candidates, state.CandidateID)
	require.Equal(t, labels[state.CandidateID], state.CandidateLabel)

	// every real change bumps the revision exactly once; no-ops reuse one
	require.Equal(t, int64(1+len(revisions)), final.Revision)
	for rev := int64(2); rev <= final.Revision; rev++ {
		require.Contains(t, revisions, rev)
	}
	require.Equal(t, revisions[final.Revision], state.CandidateID, "the last change wins")
}

func TestQueryTransactionsOrderAndPaging(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	page1, err := s.QueryTransactions(ctx, domain.TransactionFilter{OrganizationCode: "ORG1"}, domain.PageRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), page1.TotalCount)
	require.Len(t, page1.Records, 2)
	require.Equal(t, "DOC-0", page1.Records[0].DocumentNumber)
	require.Equal(t, "DOC-1", page1.Records[1].DocumentNumber)

	page3, err := s.QueryTransactions(ctx, domain.TransactionFilter{OrganizationCode: "ORG1"}, domain.PageRequest{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page3.Records, 1)

	beyond, err := s.QueryTransactions(ctx, domain.TransactionFilter{OrganizationCode: "ORG1"}, domain.PageRequest{Page: 9, PageSize: 2})
	require.NoError(t, err)
	require.Empty(t, beyond.Records)
	require.Equal(t, int64(5), beyond.TotalCount)
}

func TestCountSlotsMatchesQuery(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	_, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T2", Slot: domain.SlotVehicle, CandidateID: "v-1"})
	require.NoError(t, err)

	counts, err := s.CountSlots(ctx, domain.Scope{OrganizationCode: "ORG1", Year: 2024, Month: 3})
	require.NoError(t, err)
	require.Equal(t, int64(5), counts.Total)

	for _, p := range counts.Slots {
		res, err := s.QueryTransactions(ctx,
			domain.TransactionFilter{OrganizationCode: "ORG1", Year: 2024, Month: 3}.WithSlotStatus(p.Kind, domain.StatusComplete),
			domain.PageRequest{Page: 1, PageSize: 50})
		require.NoError(t, err)
		require.Equal(t, p.Resolved, res.TotalCount, "slot %s", p.Kind)
	}
}

func TestCanceledContext(t *testing.T) {
	s := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReplaceSlot(ctx, domain.SlotCommit{TransactionID: "T1", Slot: domain.SlotVehicle, CandidateID: "v-1"})
	reason, _ := domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitTransport, reason)

	rec, err := s.GetTransaction(context.Background(), "T1")
	require.NoError(t, err)
	state, _ := rec.Slots.Get(domain.SlotVehicle)
	require.False(t, state.Resolved)
}
