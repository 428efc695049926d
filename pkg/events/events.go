// Package events defines event types and structures for collaboration broadcasts.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

type EventType string

// Topic carries every collaboration event; consumers filter by room metadata.
const Topic = "reporunner.collab.events"

const (
	RoomMetadataKey      = "room"       // Workflow ID scoping the event
	EventTypeMetadataKey = "event_type" //
	OriginMetadataKey    = "origin"     // Connection ID of the sender, excluded on fan-out
)

const (
	// Document mutation events.
	OperationAppliedEvent  EventType = "operation.applied"
	OperationRejectedEvent EventType = "operation.rejected"

	// Presence events.
	CursorMovedEvent      EventType = "cursor_move"
	SelectionChangedEvent EventType = "selection_change"
	AreaChangedEvent      EventType = "area_change"
	StatusChangedEvent    EventType = "status_change"
	UserJoinedEvent       EventType = "user_join"
	UserLeftEvent         EventType = "user_leave"

	// Session lifecycle events.
	SessionEndedEvent           EventType = "session.ended"
	SessionSettingsUpdatedEvent EventType = "session.settings.updated"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// OperationApplied announces that a (possibly transformed) operation was
// merged into the canonical document.
type OperationApplied struct {
	BaseEvent

	Operation                *models.Operation `json:"operation"`
	Conflicts                []models.Conflict `json:"conflicts,omitempty"`
	RequiresManualResolution bool              `json:"requires_manual_resolution"`
	DocumentVersion          int64             `json:"document_version"`
}

func (e OperationApplied) GetType() EventType {
	return OperationAppliedEvent
}

// OperationRejected announces that a submitted operation was refused.
type OperationRejected struct {
	BaseEvent

	OperationID string `json:"operation_id"`
	AuthorID    string `json:"author_id"`
	Reason      string `json:"reason"`
}

func (e OperationRejected) GetType() EventType {
	return OperationRejectedEvent
}

type CursorMoved struct {
	BaseEvent

	UserID string         `json:"user_id"`
	Cursor *models.Cursor `json:"cursor"`
	Color  string         `json:"color"`
}

func (e CursorMoved) GetType() EventType {
	return CursorMovedEvent
}

type SelectionChanged struct {
	BaseEvent

	UserID    string            `json:"user_id"`
	Selection *models.Selection `json:"selection"`
	Color     string            `json:"color"`
}

func (e SelectionChanged) GetType() EventType {
	return SelectionChangedEvent
}

type AreaChanged struct {
	BaseEvent

	UserID     string             `json:"user_id"`
	ActiveArea *models.ActiveArea `json:"active_area"`
}

func (e AreaChanged) GetType() EventType {
	return AreaChangedEvent
}

type StatusChanged struct {
	BaseEvent

	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
}

func (e StatusChanged) GetType() EventType {
	return StatusChangedEvent
}

type UserJoined struct {
	BaseEvent

	UserID   string                 `json:"user_id"`
	Presence *models.UserPresence   `json:"presence,omitempty"`
	Role     models.ParticipantRole `json:"role,omitempty"`
}

func (e UserJoined) GetType() EventType {
	return UserJoinedEvent
}

type UserLeft struct {
	BaseEvent

	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"` // "disconnect", "inactive", "session_ended"
}

func (e UserLeft) GetType() EventType {
	return UserLeftEvent
}

type SessionEnded struct {
	BaseEvent

	SessionID string    `json:"session_id"`
	EndedBy   string    `json:"ended_by,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

func (e SessionEnded) GetType() EventType {
	return SessionEndedEvent
}

type SessionSettingsUpdated struct {
	BaseEvent

	SessionID string                 `json:"session_id"`
	Settings  models.SessionSettings `json:"settings"`
}

func (e SessionSettingsUpdated) GetType() EventType {
	return SessionSettingsUpdatedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
