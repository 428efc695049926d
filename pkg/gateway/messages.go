package gateway

import (
	"encoding/json"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// Inbound message types accepted from clients.
const (
	MessageOperation       = "operation"
	MessageCursorMove      = "cursor_move"
	MessageSelectionChange = "selection_change"
	MessageAreaChange      = "area_change"
	MessageStatusChange    = "status_change"
	MessageResync          = "resync"
)

// Outbound message types produced by the server. Broadcast frames reuse the
// event type string of the event they carry.
const (
	MessageAck      = "ack"
	MessageError    = "error"
	MessageSnapshot = "snapshot"
	MessageWelcome  = "welcome"
)

// ClientMessage is the envelope for every inbound frame.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the envelope for every outbound frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type cursorPayload struct {
	Cursor *models.Cursor `json:"cursor"`
}

type selectionPayload struct {
	Selection *models.Selection `json:"selection"`
}

type areaPayload struct {
	ActiveArea *models.ActiveArea `json:"active_area"`
}

type statusPayload struct {
	Status models.PresenceStatus `json:"status"`
}

type errorPayload struct {
	Message string `json:"message"`
}
