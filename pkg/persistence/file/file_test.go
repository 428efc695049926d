package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/file"
	"github.com/KlikkAI/reporunner-collab/pkg/testutil"
)

func TestSessionRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	session := testutil.CreateTestSession()
	require.NoError(t, p.SessionRepository().Save(ctx, session))

	loaded, err := p.SessionRepository().GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.WorkflowID, loaded.WorkflowID)
	require.Len(t, loaded.Participants, 1)
	assert.Equal(t, "user-1", loaded.Participants[0].UserID)
}

func TestSessionRepository_GetMissingReturnsNil(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())

	loaded, err := p.SessionRepository().GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSessionRepository_GetActiveByWorkflow(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	endedAt := time.Now().UTC().Add(-time.Hour)
	ended := testutil.CreateTestSession(func(s *models.CollaborationSession) {
		s.IsActive = false
		s.EndedAt = &endedAt
	})
	require.NoError(t, p.SessionRepository().Save(ctx, ended))

	active, err := p.SessionRepository().GetActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	current := testutil.CreateTestSession()
	require.NoError(t, p.SessionRepository().Save(ctx, current))

	active, err = p.SessionRepository().GetActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, current.ID, active.ID)

	// Other workflows are not affected.
	other, err := p.SessionRepository().GetActiveByWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSessionRepository_ListByWorkflowNewestFirst(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	older := testutil.CreateTestSession(func(s *models.CollaborationSession) {
		s.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
		s.IsActive = false
	})
	newer := testutil.CreateTestSession()

	require.NoError(t, p.SessionRepository().Save(ctx, older))
	require.NoError(t, p.SessionRepository().Save(ctx, newer))

	sessions, err := p.SessionRepository().ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

func TestOperationRepository_ListBySession(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		op := testutil.CreateTestOperation(testutil.WithSequences(i, 0))
		op.SessionID = "session-1"
		op.Status = models.OperationStatusApplied

		if i == 3 {
			op.Status = models.OperationStatusPending
		}

		require.NoError(t, p.OperationRepository().Save(ctx, op))
	}

	result, err := p.OperationRepository().ListBySession(ctx, "session-1", persistence.ListOperationsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.TotalCount)
	require.Len(t, result.Operations, 5)

	// Server order, oldest first.
	for i, op := range result.Operations {
		assert.Equal(t, int64(i+1), op.Sequence)
	}

	// Status filter.
	pending := models.OperationStatusPending
	result, err = p.OperationRepository().ListBySession(ctx, "session-1", persistence.ListOperationsOptions{
		Status: &pending,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)

	// Pagination.
	result, err = p.OperationRepository().ListBySession(ctx, "session-1", persistence.ListOperationsOptions{
		Page:  2,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, result.Operations, 2)
	assert.Equal(t, int64(3), result.Operations[0].Sequence)

	// Past the end.
	result, err = p.OperationRepository().ListBySession(ctx, "session-1", persistence.ListOperationsOptions{
		Page:  9,
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Operations)
}

func TestOperationRepository_ListByWorkflowTimeRange(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	now := time.Now().UTC()

	old := testutil.CreateTestOperation(testutil.WithSequences(1, 0))
	old.CreatedAt = now.Add(-48 * time.Hour)
	require.NoError(t, p.OperationRepository().Save(ctx, old))

	recent := testutil.CreateTestOperation(testutil.WithSequences(2, 0))
	recent.CreatedAt = now
	require.NoError(t, p.OperationRepository().Save(ctx, recent))

	ops, err := p.OperationRepository().ListByWorkflow(ctx, "wf-1", now.Add(-24*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, recent.ID, ops[0].ID)

	// Zero bounds mean unbounded.
	ops, err = p.OperationRepository().ListByWorkflow(ctx, "wf-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}
