package session_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/file"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
	"github.com/KlikkAI/reporunner-collab/pkg/testutil"
)

func setupManager(t *testing.T) (*session.Manager, *testutil.EventRecorder) {
	t.Helper()

	recorder := testutil.NewEventRecorder()
	persistence := file.NewPersistence(t.TempDir())
	manager := session.NewManager(persistence, nil, recorder, slog.Default())

	return manager, recorder
}

func TestManager_FirstJoinCreatesSessionWithOwner(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	assert.True(t, result.IsNewSession)
	assert.Equal(t, 1, result.ParticipantCount)
	assert.Equal(t, "alice", result.Session.CreatedBy)
	assert.True(t, result.Session.IsActive)

	participant := result.Session.FindParticipant("alice")
	require.NotNil(t, participant)
	assert.Equal(t, models.RoleOwner, participant.Role)
}

func TestManager_SecondJoinAttachesToExistingSession(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	first, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	second, err := manager.Join(ctx, "wf-1", session.User{ID: "bob"}, nil)
	require.NoError(t, err)

	assert.False(t, second.IsNewSession)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 2, second.ParticipantCount)

	bob := second.Session.FindParticipant("bob")
	require.NotNil(t, bob)
	assert.Equal(t, models.RoleEditor, bob.Role)
}

func TestManager_RejoinReplacesStaleEntry(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	_, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, &session.Config{ConnectionID: "conn-1"})
	require.NoError(t, err)

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, &session.Config{ConnectionID: "conn-2"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ParticipantCount)
	require.Len(t, result.Session.Participants, 1)
	assert.Equal(t, "conn-2", result.Session.Participants[0].ConnectionID)
}

func TestManager_JoinFullSession(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	settings := models.DefaultSessionSettings()
	settings.MaxParticipants = 2

	_, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, &session.Config{Settings: &settings})
	require.NoError(t, err)

	_, err = manager.Join(ctx, "wf-1", session.User{ID: "bob"}, nil)
	require.NoError(t, err)

	_, err = manager.Join(ctx, "wf-1", session.User{ID: "carol"}, nil)
	require.ErrorIs(t, err, session.ErrSessionFull)
	assert.True(t, session.IsCapacityError(err))
}

func TestManager_JoinDisallowedRole(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	settings := models.SessionSettings{
		AllowedRoles:    []models.ParticipantRole{models.RoleOwner, models.RoleEditor},
		MaxParticipants: 10,
	}

	_, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, &session.Config{Settings: &settings})
	require.NoError(t, err)

	_, err = manager.Join(ctx, "wf-1", session.User{ID: "bob"}, &session.Config{Role: models.RoleViewer})
	require.ErrorIs(t, err, session.ErrRoleNotAllowed)
}

func TestManager_LastLeaveEndsSession(t *testing.T) {
	t.Parallel()

	manager, recorder := setupManager(t)
	ctx := context.Background()

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	require.NoError(t, manager.Leave(ctx, result.Session.ID, "alice"))

	_, err = manager.GetActive(ctx, "wf-1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	ended := recorder.ByType(events.SessionEndedEvent)
	require.Len(t, ended, 1)
	assert.Equal(t, "wf-1", ended[0].Room)
}

func TestManager_EndIsTerminal(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	ended, err := manager.End(ctx, result.Session.ID, "alice")
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.EndedAt)

	// Ending twice is a conflict.
	_, err = manager.End(ctx, result.Session.ID, "alice")
	require.ErrorIs(t, err, session.ErrSessionEnded)

	// The next join creates a fresh session.
	next, err := manager.Join(ctx, "wf-1", session.User{ID: "bob"}, nil)
	require.NoError(t, err)
	assert.True(t, next.IsNewSession)
	assert.NotEqual(t, result.Session.ID, next.Session.ID)
}

func TestManager_UpdateSettings(t *testing.T) {
	t.Parallel()

	manager, recorder := setupManager(t)
	ctx := context.Background()

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	updated, err := manager.UpdateSettings(ctx, result.Session.ID, models.SessionSettings{
		AllowedRoles:    []models.ParticipantRole{models.RoleOwner},
		MaxParticipants: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Settings.MaxParticipants)

	require.Len(t, recorder.ByType(events.SessionSettingsUpdatedEvent), 1)

	// Settings cannot change after the session ends.
	_, err = manager.End(ctx, result.Session.ID, "alice")
	require.NoError(t, err)

	_, err = manager.UpdateSettings(ctx, result.Session.ID, models.SessionSettings{
		AllowedRoles:    []models.ParticipantRole{models.RoleOwner},
		MaxParticipants: 5,
	})
	require.ErrorIs(t, err, session.ErrSessionEnded)
	assert.True(t, session.IsConflictError(err))
}

func TestManager_UpdateSettingsValidation(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	_, err := manager.UpdateSettings(ctx, "any", models.SessionSettings{MaxParticipants: 0})
	require.ErrorIs(t, err, session.ErrInvalidSettings)
}

func TestManager_JoinValidation(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	_, err := manager.Join(ctx, "", session.User{ID: "alice"}, nil)
	require.ErrorIs(t, err, session.ErrMissingWorkflowID)

	_, err = manager.Join(ctx, "wf-1", session.User{}, nil)
	require.ErrorIs(t, err, session.ErrMissingUser)

	_, err = manager.Join(ctx, "wf-1", session.User{ID: "alice"}, &session.Config{Role: "admin"})
	// The first join creates the session with the user as owner, so the
	// invalid role only matters for subsequent joins.
	require.NoError(t, err)

	_, err = manager.Join(ctx, "wf-1", session.User{ID: "bob"}, &session.Config{Role: "admin"})
	require.ErrorIs(t, err, session.ErrInvalidRole)
}

func TestManager_LeaveUnknownParticipant(t *testing.T) {
	t.Parallel()

	manager, _ := setupManager(t)
	ctx := context.Background()

	result, err := manager.Join(ctx, "wf-1", session.User{ID: "alice"}, nil)
	require.NoError(t, err)

	err = manager.Leave(ctx, result.Session.ID, "stranger")
	require.ErrorIs(t, err, session.ErrNotParticipant)
}
