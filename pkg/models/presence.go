package models

import "time"

// PresenceStatus is the activity level of a collaborator, degraded over time
// by the idle sweep.
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
	PresenceAway   PresenceStatus = "away"
)

// ActiveAreaType names the editor surface a user is currently working in.
type ActiveAreaType string

const (
	AreaCanvas        ActiveAreaType = "canvas"
	AreaPropertyPanel ActiveAreaType = "property_panel"
	AreaNodePanel     ActiveAreaType = "node_panel"
	AreaToolbar       ActiveAreaType = "toolbar"
)

// Viewport is the visible canvas region reported with a cursor.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Cursor is a user's pointer location on the canvas.
type Cursor struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	NodeID    string    `json:"node_id,omitempty"`
	EdgeID    string    `json:"edge_id,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BoundingBox is the rectangle enclosing a selection.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Selection is the set of elements a user currently has selected.
type Selection struct {
	NodeIDs     []string     `json:"node_ids"`
	EdgeIDs     []string     `json:"edge_ids"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
}

// ActiveArea describes which part of the editor a user is focused on.
type ActiveArea struct {
	Type    ActiveAreaType `json:"type" validate:"required,oneof=canvas property_panel node_panel toolbar"`
	Details map[string]any `json:"details,omitempty"`
}

// UserPresence is ephemeral per-user, per-workflow visual state. It is
// broadcast to collaborators but never persisted as document history.
type UserPresence struct {
	UserID           string         `json:"user_id"`
	WorkflowID       string         `json:"workflow_id"`
	ConnectionID     string         `json:"connection_id"`
	Cursor           *Cursor        `json:"cursor,omitempty"`
	Selection        *Selection     `json:"selection,omitempty"`
	ActiveArea       *ActiveArea    `json:"active_area,omitempty"`
	Status           PresenceStatus `json:"status"`
	Color            string         `json:"color"`
	LastActivity     time.Time      `json:"last_activity"`
	SessionStartTime time.Time      `json:"session_start_time"`
}
