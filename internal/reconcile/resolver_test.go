package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
)

func TestCommitThenGetSlotEveryKind(t *testing.T) {
	store := fullSlotStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	candidates := map[domain.SlotKind]string{
		domain.SlotLineItem:        "item-a",
		domain.SlotClient:          "client-a",
		domain.SlotSecondaryClient: "sec-a",
		domain.SlotVehicle:         "veh-a",
	}
	for _, kind := range domain.AllSlotKinds() {
		require.NoError(t, resolver.Commit(ctx, "OUT-1", kind, candidates[kind]), "commit %s", kind)

		state, err := resolver.GetSlot(ctx, "OUT-1", kind)
		require.NoError(t, err)
		require.True(t, state.Resolved)
		require.Equal(t, candidates[kind], state.CandidateID)
		require.NotEmpty(t, state.CandidateLabel)
	}

	record, err := resolver.GetRecord(ctx, "OUT-1")
	require.NoError(t, err)
	require.True(t, record.Complete())
}

func TestCommitIsIdempotent(t *testing.T) {
	store := fullSlotStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	var events []domain.CommitEvent
	resolver.Observe(reconcile.CommitObserverFunc(func(_ context.Context, e domain.CommitEvent) {
		events = append(events, e)
	}))
	ctx := context.Background()

	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotVehicle, "veh-a"))
	once, err := resolver.GetRecord(ctx, "OUT-1")
	require.NoError(t, err)

	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotVehicle, "veh-a"))
	twice, err := resolver.GetRecord(ctx, "OUT-1")
	require.NoError(t, err)

	require.Equal(t, once.Revision, twice.Revision)
	require.Equal(t, once.Slots.Slots(), twice.Slots.Slots())
	require.Len(t, events, 1)
}

func TestCommitReplacesPreviousCandidate(t *testing.T) {
	store := fullSlotStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	var events []domain.CommitEvent
	resolver.Observe(reconcile.CommitObserverFunc(func(_ context.Context, e domain.CommitEvent) {
		events = append(events, e)
	}))
	ctx := context.Background()

	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotClient, "client-a"))
	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotClient, "client-b"))

	state, err := resolver.GetSlot(ctx, "OUT-1", domain.SlotClient)
	require.NoError(t, err)
	require.Equal(t, domain.ResolvedTo(domain.SlotClient, "client-b", "Green Disposal"), state)

	record, err := resolver.GetRecord(ctx, "OUT-1")
	require.NoError(t, err)
	for _, s := range record.Slots.Slots() {
		require.NotEqual(t, "client-a", s.CandidateID)
	}

	require.Len(t, events, 2)
	require.Equal(t, "client-a", events[1].PreviousCandidateID)
	require.Equal(t, "client-b", events[1].CandidateID)
}

func TestCommitCandidateFromOtherOrganization(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	err := resolver.Commit(ctx, "T2", domain.SlotClient, "99")
	require.Error(t, err)
	var commitErr *domain.CommitError
	require.ErrorAs(t, err, &commitErr)
	require.Equal(t, domain.CommitInvalidCandidate, commitErr.Reason)

	state, err := resolver.GetSlot(ctx, "T2", domain.SlotClient)
	require.NoError(t, err)
	require.Equal(t, domain.Unresolved(domain.SlotClient), state)
}

func TestCommitVehicleWithOtherDirection(t *testing.T) {
	store := fullSlotStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, domain.ReferenceEntity{
		ID: "veh-in", Kind: domain.EntityVehicle, Label: "TRUCK 09", OrganizationCode: "ORG1", Direction: domain.DirectionInbound,
	}))
	resolver := reconcile.NewResolver(store, store, discardLogger())

	err := resolver.Commit(ctx, "OUT-1", domain.SlotVehicle, "veh-in")
	reason, ok := domain.CommitReasonOf(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, domain.CommitInvalidCandidate, reason)

	state, err := resolver.GetSlot(ctx, "OUT-1", domain.SlotVehicle)
	require.NoError(t, err)
	require.Equal(t, domain.Unresolved(domain.SlotVehicle), state)

	vehicles, err := store.ListCandidates(ctx, domain.EntityVehicle, "ORG1", reconcile.CandidateDirection(domain.TransactionRecord{Direction: domain.DirectionOutbound}, domain.SlotVehicle))
	require.NoError(t, err)
	for _, v := range vehicles {
		require.NotEqual(t, "veh-in", v.ID, "inbound vehicles are not offered for outbound records")
	}
	require.Len(t, vehicles, 2)

	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotVehicle, "veh-a"), "vehicles without a direction fit any record")
}

func TestCommitValidation(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	tests := []struct {
		name   string
		txID   string
		slot   domain.SlotKind
		cand   string
		reason domain.CommitReason
	}{
		{name: "wrong kind", txID: "T3", slot: domain.SlotLineItem, cand: "client-1", reason: domain.CommitInvalidCandidate},
		{name: "unknown candidate", txID: "T3", slot: domain.SlotClient, cand: "nope", reason: domain.CommitInvalidCandidate},
		{name: "slot not carried", txID: "T3", slot: domain.SlotVehicle, cand: "veh-1", reason: domain.CommitInvalidCandidate},
		{name: "empty candidate", txID: "T3", slot: domain.SlotClient, cand: "", reason: domain.CommitInvalidCandidate},
		{name: "unknown transaction", txID: "T404", slot: domain.SlotClient, cand: "client-1", reason: domain.CommitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resolver.Commit(ctx, tt.txID, tt.slot, tt.cand)
			reason, ok := domain.CommitReasonOf(err)
			require.True(t, ok, "expected CommitError, got %v", err)
			require.Equal(t, tt.reason, reason)
		})
	}

	record, err := resolver.GetRecord(ctx, "T3")
	require.NoError(t, err)
	require.Equal(t, 0, record.Slots.ResolvedCount())
}

func TestCommitConflictOnStaleRevision(t *testing.T) {
	store := fullSlotStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	opened, err := resolver.GetRecord(ctx, "OUT-1")
	require.NoError(t, err)
	require.NoError(t, resolver.Commit(ctx, "OUT-1", domain.SlotLineItem, "item-a"))

	_, err = resolver.CommitWith(ctx, domain.SlotCommit{
		TransactionID:    "OUT-1",
		Slot:             domain.SlotVehicle,
		CandidateID:      "veh-a",
		ExpectedRevision: opened.Revision,
	})
	reason, _ := domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitConflict, reason)

	state, err := resolver.GetSlot(ctx, "OUT-1", domain.SlotVehicle)
	require.NoError(t, err)
	require.False(t, state.Resolved)
}

func TestReadYourWritesOnLaggingStore(t *testing.T) {
	store := &laggingStore{Store: scenarioStore(t), snapshot: map[string]domain.TransactionRecord{}}
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	before, err := resolver.GetSlot(ctx, "T3", domain.SlotClient)
	require.NoError(t, err)
	require.False(t, before.Resolved)

	require.NoError(t, resolver.Commit(ctx, "T3", domain.SlotClient, "client-2"))
	after, err := resolver.GetSlot(ctx, "T3", domain.SlotClient)
	require.NoError(t, err)
	require.Equal(t, "client-2", after.CandidateID)

	require.NoError(t, resolver.Commit(ctx, "T3", domain.SlotLineItem, "item-2"))
	record, err := resolver.GetRecord(ctx, "T3")
	require.NoError(t, err)
	require.True(t, record.Complete())
}

func TestCommitTransportFailure(t *testing.T) {
	store := &failingStore{Store: scenarioStore(t)}
	store.setErr(errors.New("connection reset"))
	resolver := reconcile.NewResolver(store, store, discardLogger())

	err := resolver.Commit(context.Background(), "T2", domain.SlotClient, "client-1")
	reason, _ := domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitTransport, reason)
}

func TestCommitEventCarriesRequestID(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	var got domain.CommitEvent
	resolver.Observe(reconcile.CommitObserverFunc(func(_ context.Context, e domain.CommitEvent) { got = e }))

	ctx := reconcile.WithRequestID(context.Background(), "req-42")
	_, err := resolver.CommitWith(ctx, domain.SlotCommit{TransactionID: "T2", Slot: domain.SlotClient, CandidateID: "client-1", Actor: "ops@example.com"})
	require.NoError(t, err)
	require.Equal(t, "req-42", got.RequestID)
	require.Equal(t, "ops@example.com", got.Actor)
	require.Equal(t, "ORG1", got.OrganizationCode)
	require.Equal(t, "Acme Recycling", got.CandidateLabel)
}
