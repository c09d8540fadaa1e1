package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/reconcile"
)

func TestWorkflowHappyPath(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	agg := reconcile.NewAggregator(store, nil, discardLogger(), reconcile.AggregatorOptions{})
	ctx := context.Background()

	view, err := agg.OpenView(ctx, domain.Scope{OrganizationCode: "ORG1", Year: 2024, Month: 3})
	require.NoError(t, err)

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{
		Resolver:   resolver,
		Lookup:     store,
		Aggregator: agg,
		Logger:     discardLogger(),
	}, "T2", domain.SlotClient)
	require.NoError(t, err)

	// unresolved slot skips Viewing
	snap := wf.Snapshot()
	require.Equal(t, reconcile.Picking, snap.State)
	require.Len(t, snap.Candidates, 2)
	require.Equal(t, "client-1", snap.Candidates[0].Entity.ID)

	require.ErrorIs(t, wf.Confirm(ctx), reconcile.ErrNoCandidateSelected)
	require.Equal(t, reconcile.Picking, wf.State())

	require.ErrorIs(t, wf.Select("99"), reconcile.ErrUnknownCandidate)
	require.NoError(t, wf.Select("client-1"))
	require.NoError(t, wf.Confirm(ctx))

	snap = wf.Snapshot()
	require.Equal(t, reconcile.Viewing, snap.State)
	require.Equal(t, "client-1", snap.Current.CandidateID)
	require.True(t, snap.Record.Complete())
	require.NoError(t, snap.Err)

	status, err := view.Status()
	require.NoError(t, err)
	require.Equal(t, int64(2), status.Complete)
	require.Equal(t, 2, view.Refreshes())
}

func TestWorkflowResolvedSlotOpensInViewing(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{Resolver: resolver, Lookup: store}, "T1", domain.SlotClient)
	require.NoError(t, err)
	require.Equal(t, reconcile.Viewing, wf.State())
	require.ErrorIs(t, wf.Select("client-2"), reconcile.ErrInvalidTransition)
	require.ErrorIs(t, wf.Confirm(ctx), reconcile.ErrInvalidTransition)

	require.NoError(t, wf.Edit(ctx))
	require.Equal(t, reconcile.Picking, wf.State())
	require.NoError(t, wf.Select("client-2"))
	require.NoError(t, wf.Confirm(ctx))

	state, err := resolver.GetSlot(ctx, "T1", domain.SlotClient)
	require.NoError(t, err)
	require.Equal(t, "client-2", state.CandidateID)
}

func TestWorkflowFailureKeepsSelection(t *testing.T) {
	store := &failingStore{Store: scenarioStore(t)}
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{Resolver: resolver, Lookup: store}, "T3", domain.SlotLineItem)
	require.NoError(t, err)
	require.NoError(t, wf.Select("item-2"))

	store.setErr(errors.New("upstream unavailable"))
	err = wf.Confirm(ctx)
	require.Error(t, err)

	snap := wf.Snapshot()
	require.Equal(t, reconcile.Picking, snap.State)
	require.NotNil(t, snap.Selected)
	require.Equal(t, "item-2", snap.Selected.ID)
	reason, _ := domain.CommitReasonOf(snap.Err)
	require.Equal(t, domain.CommitTransport, reason)
	require.False(t, snap.NeedsRefresh)

	// retry without re-picking
	store.setErr(nil)
	require.NoError(t, wf.Confirm(ctx))
	require.Equal(t, reconcile.Viewing, wf.State())
}

func TestWorkflowAbandonedCommitNeedsRefresh(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())

	wf, err := reconcile.OpenWorkflow(context.Background(), reconcile.WorkflowDeps{Resolver: resolver, Lookup: store}, "T3", domain.SlotClient)
	require.NoError(t, err)
	require.NoError(t, wf.Select("client-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = wf.Confirm(ctx)
	require.ErrorIs(t, err, reconcile.ErrOutcomeUnknown)

	snap := wf.Snapshot()
	require.Equal(t, reconcile.Picking, snap.State)
	require.True(t, snap.NeedsRefresh)
	require.ErrorIs(t, wf.Confirm(context.Background()), reconcile.ErrRefreshRequired)

	require.NoError(t, wf.Refresh(context.Background()))
	require.NoError(t, wf.Confirm(context.Background()))
	require.Equal(t, reconcile.Viewing, wf.State())
}

func TestWorkflowCancelledDuringCommitRefreshesViews(t *testing.T) {
	store := scenarioStore(t)
	gated := newGatedStore(store)
	resolver := reconcile.NewResolver(gated, store, discardLogger())
	agg := reconcile.NewAggregator(store, nil, discardLogger(), reconcile.AggregatorOptions{})
	ctx := context.Background()

	view, err := agg.OpenView(ctx, domain.Scope{OrganizationCode: "ORG1", Year: 2024, Month: 3})
	require.NoError(t, err)

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{Resolver: resolver, Lookup: store, Aggregator: agg}, "T2", domain.SlotClient)
	require.NoError(t, err)
	require.NoError(t, wf.Select("client-1"))

	done := make(chan error, 1)
	go func() { done <- wf.Confirm(ctx) }()
	<-gated.entered
	wf.Cancel()
	close(gated.release)
	require.NoError(t, <-done)
	require.Equal(t, reconcile.Closed, wf.State())

	state, err := resolver.GetSlot(ctx, "T2", domain.SlotClient)
	require.NoError(t, err)
	require.True(t, state.Resolved)

	status, err := view.Status()
	require.NoError(t, err)
	require.Equal(t, int64(2), status.Complete)
	for _, p := range status.Slots {
		if p.Kind == domain.SlotClient {
			require.Equal(t, int64(2), p.Resolved)
		}
	}
}

func TestWorkflowConflict(t *testing.T) {
	store := fullSlotStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{Resolver: resolver, Lookup: store, DetectConflicts: true}, "OUT-1", domain.SlotVehicle)
	require.NoError(t, err)
	require.NoError(t, wf.Select("veh-a"))

	// another operator changes the record meanwhile
	other := reconcile.NewResolver(store, store, discardLogger())
	require.NoError(t, other.Commit(ctx, "OUT-1", domain.SlotVehicle, "veh-b"))

	err = wf.Confirm(ctx)
	reason, _ := domain.CommitReasonOf(err)
	require.Equal(t, domain.CommitConflict, reason)
	require.True(t, wf.Snapshot().NeedsRefresh)

	require.NoError(t, wf.Refresh(ctx))
	require.Equal(t, "veh-b", wf.Snapshot().Current.CandidateID)
	require.NoError(t, wf.Confirm(ctx))
	require.Equal(t, "veh-a", wf.Snapshot().Current.CandidateID)
}

func TestWorkflowCancel(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	ctx := context.Background()

	wf, err := reconcile.OpenWorkflow(ctx, reconcile.WorkflowDeps{Resolver: resolver, Lookup: store}, "T3", domain.SlotClient)
	require.NoError(t, err)
	require.NoError(t, wf.Select("client-1"))
	wf.Cancel()

	require.Equal(t, reconcile.Closed, wf.State())
	require.ErrorIs(t, wf.Confirm(ctx), reconcile.ErrInvalidTransition)

	state, err := resolver.GetSlot(ctx, "T3", domain.SlotClient)
	require.NoError(t, err)
	require.False(t, state.Resolved)
}

func TestOpenWorkflowErrors(t *testing.T) {
	store := scenarioStore(t)
	resolver := reconcile.NewResolver(store, store, discardLogger())
	deps := reconcile.WorkflowDeps{Resolver: resolver, Lookup: store}

	_, err := reconcile.OpenWorkflow(context.Background(), deps, "T1", domain.SlotVehicle)
	require.ErrorIs(t, err, domain.ErrSlotNotApplicable)

	_, err = reconcile.OpenWorkflow(context.Background(), deps, "missing", domain.SlotClient)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
