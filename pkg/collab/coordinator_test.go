package collab_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlikkAI/reporunner-collab/pkg/collab"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/file"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
	"github.com/KlikkAI/reporunner-collab/pkg/testutil"
	"github.com/KlikkAI/reporunner-collab/pkg/transform"
)

type fixture struct {
	coordinator *collab.Coordinator
	sessions    *session.Manager
	recorder    *testutil.EventRecorder
	sessionID   string
}

func setupCoordinator(t *testing.T) *fixture {
	t.Helper()

	recorder := testutil.NewEventRecorder()
	persistence := file.NewPersistence(t.TempDir())
	logger := slog.Default()

	sessions := session.NewManager(persistence, nil, recorder, logger)
	engine := transform.NewEngine(transform.PriorityServer, logger)

	coordinator, err := collab.NewCoordinator(sessions, engine, persistence, recorder, nil, logger)
	require.NoError(t, err)

	t.Cleanup(coordinator.Close)

	ctx := context.Background()

	joined, err := sessions.Join(ctx, "wf-1", session.User{ID: "user-1"}, nil)
	require.NoError(t, err)

	_, err = sessions.Join(ctx, "wf-1", session.User{ID: "bob"}, nil)
	require.NoError(t, err)

	return &fixture{
		coordinator: coordinator,
		sessions:    sessions,
		recorder:    recorder,
		sessionID:   joined.Session.ID,
	}
}

func TestCoordinator_SubmitAppliesAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	op := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeAdd),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithPosition(100, 100),
		testutil.WithAfter(map[string]any{"name": "Fetch", "type": "http.request"}),
	)

	result, err := f.coordinator.Submit(ctx, op)
	require.NoError(t, err)

	assert.Equal(t, models.OperationStatusApplied, result.Operation.Status)
	assert.Equal(t, int64(1), result.Operation.Sequence)
	assert.Equal(t, f.sessionID, result.Operation.SessionID)
	assert.False(t, result.RequiresManualResolution)
	assert.Equal(t, int64(1), result.DocumentVersion)

	applied := f.recorder.ByType(events.OperationAppliedEvent)
	require.Len(t, applied, 1)
	assert.Equal(t, "wf-1", applied[0].Room)

	snapshot, err := f.coordinator.Resync(ctx, "wf-1")
	require.NoError(t, err)
	assert.Contains(t, snapshot.Document.Nodes, "node-1")
	assert.Equal(t, int64(1), snapshot.Sequence)
}

func TestCoordinator_SequencesAreMonotonic(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		op := testutil.CreateTestOperation(
			testutil.WithType(models.OperationNodeAdd),
			testutil.WithTarget(models.TargetNode, "node-"+string(rune('0'+i))),
			testutil.WithAfter(map[string]any{"name": "n"}),
		)
		op.BaseSequence = i - 1

		result, err := f.coordinator.Submit(ctx, op)
		require.NoError(t, err)
		assert.Equal(t, i, result.Operation.Sequence)
	}
}

func TestCoordinator_ResubmitIsIdempotent(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	op := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeAdd),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"name": "Fetch"}),
	)

	first, err := f.coordinator.Submit(ctx, op)
	require.NoError(t, err)

	second, err := f.coordinator.Submit(ctx, op.Clone())
	require.NoError(t, err)

	assert.Equal(t, first.Operation.Sequence, second.Operation.Sequence)
	assert.Len(t, f.recorder.ByType(events.OperationAppliedEvent), 1)
}

func TestCoordinator_ConcurrentEditsAreTransformed(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	seed := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeAdd),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"name": "Fetch"}),
	)

	_, err := f.coordinator.Submit(ctx, seed)
	require.NoError(t, err)

	// Both edits are based on sequence 1 and race on the same node.
	rename := testutil.CreateTestOperation(
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"name": "Fetch v2"}),
	)
	rename.BaseSequence = 1

	disable := testutil.CreateTestOperation(
		testutil.WithAuthor("bob"),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"disabled": true}),
	)
	disable.BaseSequence = 1

	_, err = f.coordinator.Submit(ctx, rename)
	require.NoError(t, err)

	result, err := f.coordinator.Submit(ctx, disable)
	require.NoError(t, err)

	// Disjoint paths merge: both edits survive in the document.
	assert.False(t, result.RequiresManualResolution)
	require.Len(t, result.Operation.Transformations, 1)

	snapshot, err := f.coordinator.Resync(ctx, "wf-1")
	require.NoError(t, err)

	node := snapshot.Document.Nodes["node-1"]
	require.NotNil(t, node)
	assert.Equal(t, "Fetch v2", node.Name)
	assert.True(t, node.Disabled)
}

func TestCoordinator_ManualConflictStaysPending(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	for _, id := range []string{"node-1", "node-2"} {
		op := testutil.CreateTestOperation(
			testutil.WithType(models.OperationNodeAdd),
			testutil.WithTarget(models.TargetNode, id),
			testutil.WithAfter(map[string]any{"name": id}),
		)
		_, err := f.coordinator.Submit(ctx, op)
		require.NoError(t, err)
	}

	deletion := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeDelete),
		testutil.WithTarget(models.TargetNode, "node-2"),
	)
	deletion.BaseSequence = 2

	_, err := f.coordinator.Submit(ctx, deletion)
	require.NoError(t, err)

	// The edge was drawn before its endpoint vanished.
	edgeAdd := testutil.CreateTestOperation(
		testutil.WithType(models.OperationEdgeAdd),
		testutil.WithTarget(models.TargetEdge, "edge-1"),
		testutil.WithAfter(map[string]any{"source": "node-1", "target": "node-2"}),
	)
	edgeAdd.BaseSequence = 2

	result, err := f.coordinator.Submit(ctx, edgeAdd)
	require.NoError(t, err)

	assert.True(t, result.RequiresManualResolution)
	assert.Equal(t, models.OperationStatusPending, result.Operation.Status)

	// Pending operations never touch the document.
	snapshot, err := f.coordinator.Resync(ctx, "wf-1")
	require.NoError(t, err)
	assert.NotContains(t, snapshot.Document.Edges, "edge-1")
	require.Len(t, snapshot.PendingOperations, 1)
	assert.Equal(t, result.Operation.ID, snapshot.PendingOperations[0].ID)
}

func TestCoordinator_ViewerCannotSubmit(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	_, err := f.sessions.Join(ctx, "wf-1", session.User{ID: "carol"},
		&session.Config{Role: models.RoleViewer})
	require.NoError(t, err)

	op := testutil.CreateTestOperation(
		testutil.WithAuthor("carol"),
		testutil.WithTarget(models.TargetNode, "node-1"),
	)

	_, err = f.coordinator.Submit(ctx, op)
	require.ErrorIs(t, err, session.ErrViewerCannotEdit)

	rejected := f.recorder.ByType(events.OperationRejectedEvent)
	require.Len(t, rejected, 1)
	assert.Equal(t, "carol", rejected[0].Event.(events.OperationRejected).AuthorID)
}

func TestCoordinator_NonParticipantCannotSubmit(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)

	op := testutil.CreateTestOperation(
		testutil.WithAuthor("stranger"),
		testutil.WithTarget(models.TargetNode, "node-1"),
	)

	_, err := f.coordinator.Submit(context.Background(), op)
	require.ErrorIs(t, err, session.ErrNotParticipant)
}

func TestCoordinator_InvalidOperationRejected(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.Operation)
	}{
		{
			name:   "missing target id",
			mutate: func(o *models.Operation) { o.Target.ID = "" },
		},
		{
			name:   "unknown type",
			mutate: func(o *models.Operation) { o.Type = "node_rename" },
		},
		{
			name:   "property update without path",
			mutate: func(o *models.Operation) { o.Type = models.OperationPropertyUpdate },
		},
		{
			name: "edge add without endpoints",
			mutate: func(o *models.Operation) {
				o.Type = models.OperationEdgeAdd
				o.Target.Type = models.TargetEdge
				o.Data.After = map[string]any{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := testutil.CreateTestOperation(testutil.WithTarget(models.TargetNode, "node-1"))
			tt.mutate(op)

			_, err := f.coordinator.Submit(ctx, op)
			require.Error(t, err)
			assert.True(t, collab.IsValidationError(err))
		})
	}
}

func TestCoordinator_NoActiveSession(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)

	op := testutil.CreateTestOperation(testutil.WithTarget(models.TargetNode, "node-1"))
	op.WorkflowID = "wf-other"

	_, err := f.coordinator.Submit(context.Background(), op)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCoordinator_ClosedRejectsSubmissions(t *testing.T) {
	t.Parallel()

	f := setupCoordinator(t)
	f.coordinator.Close()

	op := testutil.CreateTestOperation(testutil.WithTarget(models.TargetNode, "node-1"))

	_, err := f.coordinator.Submit(context.Background(), op)
	require.ErrorIs(t, err, collab.ErrClosed)
}
