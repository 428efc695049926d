package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlikkAI/reporunner-collab/pkg/collab"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence/file"
	"github.com/KlikkAI/reporunner-collab/pkg/presence"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
	"github.com/KlikkAI/reporunner-collab/pkg/testutil"
	"github.com/KlikkAI/reporunner-collab/pkg/transform"
	"github.com/KlikkAI/reporunner-collab/pkg/web"
)

type testApp struct {
	app      *fiber.App
	sessions *session.Manager
	presence *presence.Tracker
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	recorder := testutil.NewEventRecorder()
	persistence := file.NewPersistence(t.TempDir())
	logger := slog.Default()

	sessions := session.NewManager(persistence, nil, recorder, logger)
	engine := transform.NewEngine(transform.PriorityServer, logger)

	coordinator, err := collab.NewCoordinator(sessions, engine, persistence, recorder, nil, logger)
	require.NoError(t, err)

	t.Cleanup(coordinator.Close)

	tracker := presence.NewTracker(recorder, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(sessions, coordinator, tracker, persistence, validate)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testApp{
		app:      app,
		sessions: sessions,
		presence: tracker,
	}
}

func (f *testApp) request(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()

	var body []byte

	if str, ok := payload.(string); ok {
		body = []byte(str)
	} else if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T

	err := json.NewDecoder(resp.Body).Decode(&out)
	require.NoError(t, err)

	return out
}

func (f *testApp) join(t *testing.T, workflowID, userID string, cfg *session.Config) *models.CollaborationSession {
	t.Helper()

	result, err := f.sessions.Join(context.Background(), workflowID, session.User{ID: userID}, cfg)
	require.NoError(t, err)

	return result.Session
}

func TestAPIHandlers_JoinSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, result session.JoinResult)
	}{
		{
			name: "first join creates a session",
			requestBody: web.JoinSessionRequest{
				UserID:   "alice",
				UserName: "Alice",
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, result session.JoinResult) {
				t.Helper()
				assert.True(t, result.IsNewSession)
				assert.Equal(t, "wf-1", result.Session.WorkflowID)
				assert.Equal(t, "alice", result.Session.CreatedBy)
				assert.Equal(t, 1, result.ParticipantCount)
			},
		},
		{
			name: "validation error - missing user id",
			requestBody: web.JoinSessionRequest{
				UserName: "Alice",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - unknown role",
			requestBody: web.JoinSessionRequest{
				UserID: "alice",
				Role:   "superuser",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setupTestApp(t)

			resp := f.request(t, http.MethodPost, "/sessions/wf-1/join", tt.requestBody)

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil {
				tt.validateResult(t, decodeBody[session.JoinResult](t, resp))
			} else {
				_ = resp.Body.Close()
			}
		})
	}
}

func TestAPIHandlers_JoinExistingSessionReturnsOK(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.join(t, "wf-1", "alice", nil)

	resp := f.request(t, http.MethodPost, "/sessions/wf-1/join", web.JoinSessionRequest{UserID: "bob"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[session.JoinResult](t, resp)
	assert.False(t, result.IsNewSession)
	assert.Equal(t, 2, result.ParticipantCount)
}

func TestAPIHandlers_GetActiveSession(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)

	resp := f.request(t, http.MethodGet, "/sessions/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	created := f.join(t, "wf-1", "alice", nil)

	resp = f.request(t, http.MethodGet, "/sessions/wf-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	active := decodeBody[models.CollaborationSession](t, resp)
	assert.Equal(t, created.ID, active.ID)
}

func TestAPIHandlers_LeaveSession(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	created := f.join(t, "wf-1", "alice", nil)

	resp := f.request(t, http.MethodPost, "/sessions/"+created.ID+"/leave",
		web.LeaveSessionRequest{UserID: "alice"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	// Unknown session.
	resp = f.request(t, http.MethodPost, "/sessions/missing/leave",
		web.LeaveSessionRequest{UserID: "alice"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// Missing user ID.
	resp = f.request(t, http.MethodPost, "/sessions/"+created.ID+"/leave",
		web.LeaveSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_UpdateSessionSettings(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	created := f.join(t, "wf-1", "alice", nil)

	resp := f.request(t, http.MethodPatch, "/sessions/"+created.ID+"/settings",
		web.UpdateSettingsRequest{
			AllowedRoles:    []models.ParticipantRole{models.RoleOwner, models.RoleEditor},
			MaxParticipants: 5,
		})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.CollaborationSession](t, resp)
	assert.Equal(t, 5, updated.Settings.MaxParticipants)

	// Empty role list fails struct validation.
	resp = f.request(t, http.MethodPatch, "/sessions/"+created.ID+"/settings",
		web.UpdateSettingsRequest{MaxParticipants: 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_EndSession(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	created := f.join(t, "wf-1", "alice", nil)

	resp := f.request(t, http.MethodPost, "/sessions/"+created.ID+"/end",
		web.EndSessionRequest{EndedBy: "alice"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ended := decodeBody[models.CollaborationSession](t, resp)
	assert.False(t, ended.IsActive)
	assert.NotNil(t, ended.EndedAt)

	// Ending twice conflicts.
	resp = f.request(t, http.MethodPost, "/sessions/"+created.ID+"/end",
		web.EndSessionRequest{EndedBy: "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_SubmitOperation(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.join(t, "wf-1", "user-1", nil)

	op := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeAdd),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"name": "Fetch"}),
	)

	resp := f.request(t, http.MethodPost, "/workflows/wf-1/operations", op)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	result := decodeBody[collab.SubmitResult](t, resp)
	assert.Equal(t, models.OperationStatusApplied, result.Operation.Status)
	assert.Equal(t, int64(1), result.Operation.Sequence)
}

func TestAPIHandlers_SubmitOperationErrors(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.join(t, "wf-1", "user-1", nil)
	f.join(t, "wf-1", "carol", &session.Config{Role: models.RoleViewer})

	// Malformed operation.
	invalid := testutil.CreateTestOperation()
	invalid.Target.ID = ""

	resp := f.request(t, http.MethodPost, "/workflows/wf-1/operations", invalid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Viewers may not edit.
	viewerOp := testutil.CreateTestOperation(
		testutil.WithAuthor("carol"),
		testutil.WithTarget(models.TargetNode, "node-1"),
	)

	resp = f.request(t, http.MethodPost, "/workflows/wf-1/operations", viewerOp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// No active session for the workflow.
	orphan := testutil.CreateTestOperation(testutil.WithTarget(models.TargetNode, "node-1"))

	resp = f.request(t, http.MethodPost, "/workflows/wf-9/operations", orphan)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_GetDocument(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.join(t, "wf-1", "user-1", nil)

	op := testutil.CreateTestOperation(
		testutil.WithType(models.OperationNodeAdd),
		testutil.WithTarget(models.TargetNode, "node-1"),
		testutil.WithAfter(map[string]any{"name": "Fetch"}),
	)

	resp := f.request(t, http.MethodPost, "/workflows/wf-1/operations", op)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.request(t, http.MethodGet, "/workflows/wf-1/document", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snapshot := decodeBody[collab.Snapshot](t, resp)
	assert.Equal(t, int64(1), snapshot.Sequence)
	assert.Contains(t, snapshot.Document.Nodes, "node-1")
}

func TestAPIHandlers_ListSessionOperations(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	created := f.join(t, "wf-1", "user-1", nil)

	for i := 1; i <= 3; i++ {
		op := testutil.CreateTestOperation(
			testutil.WithType(models.OperationNodeAdd),
			testutil.WithTarget(models.TargetNode, fmt.Sprintf("node-%d", i)),
			testutil.WithAfter(map[string]any{"name": "Fetch"}),
		)

		resp := f.request(t, http.MethodPost, "/workflows/wf-1/operations", op)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := f.request(t, http.MethodGet, "/sessions/"+created.ID+"/operations?page=1&limit=2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decodeBody[struct {
		Operations []*models.Operation `json:"operations"`
		TotalCount int64               `json:"total_count"`
	}](t, resp)
	assert.Equal(t, int64(3), listing.TotalCount)
	assert.Len(t, listing.Operations, 2)

	// Unparseable pagination.
	resp = f.request(t, http.MethodGet, "/sessions/"+created.ID+"/operations?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_GetPresence(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.presence.Join(context.Background(), "wf-1", "alice", "conn-1")

	resp := f.request(t, http.MethodGet, "/workflows/wf-1/presence", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Users []*models.UserPresence `json:"users"`
		Stats presence.Stats         `json:"stats"`
	}](t, resp)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "alice", body.Users[0].UserID)
	assert.Equal(t, 1, body.Stats.Total)
}

func TestAPIHandlers_GetAnalytics(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)
	f.join(t, "wf-1", "alice", nil)

	resp := f.request(t, http.MethodGet, "/workflows/wf-1/collaboration-analytics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	analytics := decodeBody[session.Analytics](t, resp)
	assert.Equal(t, 1, analytics.TotalSessions)
	assert.True(t, analytics.HasActiveSession)

	// Malformed date range.
	resp = f.request(t, http.MethodGet, "/workflows/wf-1/collaboration-analytics?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	f := setupTestApp(t)

	resp := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
}
