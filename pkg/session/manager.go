package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
)

// User identifies the person joining a session.
type User struct {
	ID   string `json:"id"   validate:"required"`
	Name string `json:"name"`
}

// Config carries optional join-time configuration.
type Config struct {
	Role         models.ParticipantRole  `json:"role,omitempty"`
	Settings     *models.SessionSettings `json:"settings,omitempty"`
	ConnectionID string                  `json:"connection_id,omitempty"`
}

// JoinResult is the outcome of a join call.
type JoinResult struct {
	Session          *models.CollaborationSession `json:"session"`
	IsNewSession     bool                         `json:"is_new_session"`
	ParticipantCount int                          `json:"participant_count"`
}

// RoleResolver looks up a user's role for a workflow. It sits in front of the
// platform's permission service; the engine only consumes the answer.
type RoleResolver interface {
	Resolve(ctx context.Context, userID, workflowID string) (models.ParticipantRole, error)
}

// StaticRoleResolver always answers with the same role. Used when no
// permission service is wired, and in tests.
type StaticRoleResolver struct {
	Role models.ParticipantRole
}

func (r StaticRoleResolver) Resolve(_ context.Context, _, _ string) (models.ParticipantRole, error) {
	return r.Role, nil
}

// Manager owns session lifecycle and membership. All mutations of one
// session are serialized through a per-key critical section; different
// sessions proceed independently.
type Manager struct {
	persistence persistence.Persistence
	roles       RoleResolver
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(
	persistence persistence.Persistence,
	roles RoleResolver,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Manager {
	if roles == nil {
		roles = StaticRoleResolver{Role: models.RoleEditor}
	}

	return &Manager{
		persistence: persistence,
		roles:       roles,
		publisher:   publisher,
		logger:      logger.With("module", "session"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing mutations for a key. Join locks on the
// workflow so two first-joins cannot both create an active session; the
// remaining mutations lock on the session ID.
func (m *Manager) lock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}

	return l
}

// Join attaches a user to the workflow's active session, creating one with
// the user as owner when none exists. Rejoining replaces the stale
// participant entry instead of duplicating it.
func (m *Manager) Join(ctx context.Context, workflowID string, user User, cfg *Config) (*JoinResult, error) {
	if workflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	if user.ID == "" {
		return nil, ErrMissingUser
	}

	l := m.lock("workflow:" + workflowID)
	l.Lock()
	defer l.Unlock()

	repo := m.persistence.SessionRepository()

	active, err := repo.GetActiveByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	if active == nil {
		return m.createSession(ctx, workflowID, user, cfg)
	}

	return m.attachParticipant(ctx, active, user, cfg)
}

func (m *Manager) createSession(ctx context.Context, workflowID string, user User, cfg *Config) (*JoinResult, error) {
	settings := models.DefaultSessionSettings()
	if cfg != nil && cfg.Settings != nil {
		settings = *cfg.Settings
	}

	if settings.MaxParticipants <= 0 {
		return nil, ErrInvalidSettings
	}

	connectionID := ""
	if cfg != nil {
		connectionID = cfg.ConnectionID
	}

	now := time.Now().UTC()
	session := &models.CollaborationSession{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CreatedBy:  user.ID,
		IsActive:   true,
		Settings:   settings,
		CreatedAt:  now,
		Participants: []*models.Participant{{
			UserID:       user.ID,
			ConnectionID: connectionID,
			Role:         models.RoleOwner,
			JoinedAt:     now,
			IsActive:     true,
		}},
	}

	if err := m.persistence.SessionRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.InfoContext(ctx, "Created collaboration session",
		"session_id", session.ID, "workflow_id", workflowID, "owner", user.ID)

	return &JoinResult{
		Session:          session,
		IsNewSession:     true,
		ParticipantCount: 1,
	}, nil
}

func (m *Manager) attachParticipant(
	ctx context.Context,
	session *models.CollaborationSession,
	user User,
	cfg *Config,
) (*JoinResult, error) {
	role, err := m.resolveRole(ctx, user.ID, session.WorkflowID, cfg)
	if err != nil {
		return nil, err
	}

	if !session.Settings.AllowsRole(role) {
		return nil, ErrRoleNotAllowed
	}

	connectionID := ""
	if cfg != nil {
		connectionID = cfg.ConnectionID
	}

	existing := session.FindParticipant(user.ID)
	if existing != nil {
		// Rejoin: replace the stale entry with a fresh connection.
		existing.ConnectionID = connectionID
		existing.IsActive = true
		existing.JoinedAt = time.Now().UTC()
	} else {
		if session.AtCapacity() {
			return nil, ErrSessionFull
		}

		session.Participants = append(session.Participants, &models.Participant{
			UserID:       user.ID,
			ConnectionID: connectionID,
			Role:         role,
			JoinedAt:     time.Now().UTC(),
			IsActive:     true,
		})
	}

	if err := m.persistence.SessionRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &JoinResult{
		Session:          session,
		IsNewSession:     false,
		ParticipantCount: session.ActiveParticipantCount(),
	}, nil
}

func (m *Manager) resolveRole(
	ctx context.Context,
	userID, workflowID string,
	cfg *Config,
) (models.ParticipantRole, error) {
	if cfg != nil && cfg.Role != "" {
		if !cfg.Role.Valid() {
			return "", ErrInvalidRole
		}

		return cfg.Role, nil
	}

	role, err := m.roles.Resolve(ctx, userID, workflowID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve role: %w", err)
	}

	if !role.Valid() {
		role = models.RoleEditor
	}

	return role, nil
}

// Leave detaches a user from a session. When the last participant leaves,
// the session ends implicitly.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	l := m.lock("session:" + sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := m.getExisting(ctx, sessionID)
	if err != nil {
		return err
	}

	participant := session.FindParticipant(userID)
	if participant == nil || !participant.IsActive {
		return ErrNotParticipant
	}

	participant.IsActive = false

	if session.IsActive && session.ActiveParticipantCount() == 0 {
		m.endLocked(ctx, session, "")
	}

	if err := m.persistence.SessionRepository().Save(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// UpdateSettings replaces a session's settings. Rejected once the session
// has ended.
func (m *Manager) UpdateSettings(
	ctx context.Context,
	sessionID string,
	settings models.SessionSettings,
) (*models.CollaborationSession, error) {
	if settings.MaxParticipants <= 0 || len(settings.AllowedRoles) == 0 {
		return nil, ErrInvalidSettings
	}

	l := m.lock("session:" + sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := m.getExisting(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsActive {
		return nil, ErrSessionEnded
	}

	session.Settings = settings

	if err := m.persistence.SessionRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.publish(ctx, session.WorkflowID, events.SessionSettingsUpdated{
		BaseEvent: events.NewBaseEvent(events.SessionSettingsUpdatedEvent, session.WorkflowID),
		SessionID: session.ID,
		Settings:  settings,
	})

	return session, nil
}

// End terminates a session. Ending is terminal: the session can never be
// reactivated, and the next join creates a new one.
func (m *Manager) End(ctx context.Context, sessionID, endedBy string) (*models.CollaborationSession, error) {
	l := m.lock("session:" + sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := m.getExisting(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsActive {
		return nil, ErrSessionEnded
	}

	m.endLocked(ctx, session, endedBy)

	for _, p := range session.Participants {
		p.IsActive = false
	}

	if err := m.persistence.SessionRepository().Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// endLocked flips the session to its terminal state and announces it. The
// caller holds the session lock and saves afterwards.
func (m *Manager) endLocked(ctx context.Context, session *models.CollaborationSession, endedBy string) {
	now := time.Now().UTC()
	session.IsActive = false
	session.EndedAt = &now

	m.logger.InfoContext(ctx, "Ended collaboration session",
		"session_id", session.ID, "workflow_id", session.WorkflowID)

	m.publish(ctx, session.WorkflowID, events.SessionEnded{
		BaseEvent: events.NewBaseEvent(events.SessionEndedEvent, session.WorkflowID),
		SessionID: session.ID,
		EndedBy:   endedBy,
		EndedAt:   now,
	})
}

// GetActive returns the active session for a workflow, or ErrSessionNotFound.
func (m *Manager) GetActive(ctx context.Context, workflowID string) (*models.CollaborationSession, error) {
	if workflowID == "" {
		return nil, ErrMissingWorkflowID
	}

	session, err := m.persistence.SessionRepository().GetActiveByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Participant returns the active participant entry for a user, or
// ErrNotParticipant when the user is not attached to the session.
func (m *Manager) Participant(ctx context.Context, sessionID, userID string) (*models.Participant, error) {
	session, err := m.getExisting(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	participant := session.FindParticipant(userID)
	if participant == nil || !participant.IsActive {
		return nil, ErrNotParticipant
	}

	return participant, nil
}

// ListOperations pages through a session's operation audit trail.
func (m *Manager) ListOperations(
	ctx context.Context,
	sessionID string,
	opts persistence.ListOperationsOptions,
) (*persistence.OperationListResult, error) {
	if _, err := m.getExisting(ctx, sessionID); err != nil {
		return nil, err
	}

	return m.persistence.OperationRepository().ListBySession(ctx, sessionID, opts)
}

func (m *Manager) getExisting(ctx context.Context, sessionID string) (*models.CollaborationSession, error) {
	session, err := m.persistence.SessionRepository().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session == nil {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

func (m *Manager) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, workflowID, "", event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish session event",
			"workflow_id", workflowID, "event", event.GetType(), "error", err)
	}
}
