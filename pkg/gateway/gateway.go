// Package gateway exposes the realtime websocket endpoint: one connection per
// collaborator, fanned into per-workflow rooms fed by the event bus.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KlikkAI/reporunner-collab/pkg/collab"
	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/presence"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the editor origin; authentication happens
	// at the session join, not the socket handshake.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub routes websocket traffic: inbound frames to the collaboration services,
// bus events back out to every room member except the originator.
type Hub struct {
	sessions    *session.Manager
	coordinator *collab.Coordinator
	presence    *presence.Tracker
	logger      *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func NewHub(
	sessions *session.Manager,
	coordinator *collab.Coordinator,
	presenceTracker *presence.Tracker,
	logger *slog.Logger,
) *Hub {
	return &Hub{
		sessions:    sessions,
		coordinator: coordinator,
		presence:    presenceTracker,
		logger:      logger.With("module", "gateway"),
		rooms:       make(map[string]map[string]*client),
	}
}

// BindEvents subscribes the hub to every broadcastable event type. Each event
// fans out to the workflow's room, skipping the originating connection.
func (h *Hub) BindEvents(bus eventbus.EventSubscriber) {
	broadcastable := []events.EventType{
		events.OperationAppliedEvent,
		events.OperationRejectedEvent,
		events.CursorMovedEvent,
		events.SelectionChangedEvent,
		events.AreaChangedEvent,
		events.StatusChangedEvent,
		events.UserJoinedEvent,
		events.UserLeftEvent,
		events.SessionEndedEvent,
		events.SessionSettingsUpdatedEvent,
	}

	for _, eventType := range broadcastable {
		messageType := string(eventType)

		_ = bus.Handle(eventType, func(_ context.Context, room, origin string, event any) error {
			h.broadcast(room, origin, ServerMessage{Type: messageType, Payload: event})

			return nil
		})
	}
}

// HandleConnection upgrades the request, joins the user to the workflow's
// session and presence room, and starts the connection's pumps.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	userID := r.URL.Query().Get("user_id")
	userName := r.URL.Query().Get("user_name")
	role := models.ParticipantRole(r.URL.Query().Get("role"))

	if workflowID == "" || userID == "" {
		http.Error(w, "workflow_id and user_id are required", http.StatusBadRequest)

		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)

		return
	}

	connectionID := uuid.New().String()

	result, err := h.sessions.Join(r.Context(), workflowID,
		session.User{ID: userID, Name: userName},
		&session.Config{Role: role, ConnectionID: connectionID})
	if err != nil {
		h.logger.Warn("Rejected websocket join",
			"workflow_id", workflowID, "user_id", userID, "error", err)
		_ = conn.WriteJSON(ServerMessage{Type: MessageError, Payload: errorPayload{Message: err.Error()}})
		conn.Close()

		return
	}

	c := &client{
		hub:          h,
		conn:         conn,
		connectionID: connectionID,
		userID:       userID,
		workflowID:   workflowID,
		sessionID:    result.Session.ID,
		send:         make(chan ServerMessage, sendBufferSize),
	}

	h.mu.Lock()

	room, ok := h.rooms[workflowID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[workflowID] = room
	}

	room[connectionID] = c

	h.mu.Unlock()

	userPresence := h.presence.Join(r.Context(), workflowID, userID, connectionID)

	h.logger.Info("Collaborator connected",
		"workflow_id", workflowID, "user_id", userID, "connection_id", connectionID)

	go c.writePump()

	c.enqueue(ServerMessage{Type: MessageWelcome, Payload: map[string]any{
		"session":       result.Session,
		"presence":      userPresence,
		"collaborators": h.presence.Get(workflowID),
	}})

	c.readPump()
}

func (h *Hub) handleInbound(c *client, msg ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case MessageOperation:
		h.handleOperation(ctx, c, msg.Payload)
	case MessageCursorMove:
		var payload cursorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(c, "invalid cursor payload")

			return
		}

		if err := h.presence.UpdateCursor(ctx, c.workflowID, c.userID, payload.Cursor); err != nil {
			h.sendError(c, err.Error())
		}
	case MessageSelectionChange:
		var payload selectionPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(c, "invalid selection payload")

			return
		}

		if err := h.presence.UpdateSelection(ctx, c.workflowID, c.userID, payload.Selection); err != nil {
			h.sendError(c, err.Error())
		}
	case MessageAreaChange:
		var payload areaPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(c, "invalid active area payload")

			return
		}

		if err := h.presence.UpdateActiveArea(ctx, c.workflowID, c.userID, payload.ActiveArea); err != nil {
			h.sendError(c, err.Error())
		}
	case MessageStatusChange:
		var payload statusPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.sendError(c, "invalid status payload")

			return
		}

		if err := h.presence.SetStatus(ctx, c.workflowID, c.userID, payload.Status); err != nil {
			h.sendError(c, err.Error())
		}
	case MessageResync:
		snapshot, err := h.coordinator.Resync(ctx, c.workflowID)
		if err != nil {
			h.sendError(c, err.Error())

			return
		}

		c.enqueue(ServerMessage{Type: MessageSnapshot, Payload: snapshot})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleOperation(ctx context.Context, c *client, payload json.RawMessage) {
	var op models.Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		h.sendError(c, "invalid operation payload")

		return
	}

	op.WorkflowID = c.workflowID
	op.SessionID = c.sessionID
	op.AuthorID = c.userID

	result, err := h.coordinator.Submit(ctx, &op)
	if err != nil {
		h.sendError(c, err.Error())

		return
	}

	c.enqueue(ServerMessage{Type: MessageAck, Payload: result})
}

// broadcast delivers a frame to every connection in the room except origin.
func (h *Hub) broadcast(workflowID, origin string, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connectionID, c := range h.rooms[workflowID] {
		if connectionID == origin {
			continue
		}

		if !c.enqueue(msg) {
			h.logger.Warn("Dropped frame for slow consumer",
				"workflow_id", workflowID, "connection_id", connectionID, "type", msg.Type)
		}
	}
}

// disconnect detaches a connection from its room, presence, and session.
func (h *Hub) disconnect(c *client) {
	h.mu.Lock()

	room, ok := h.rooms[c.workflowID]
	if ok {
		if _, present := room[c.connectionID]; !present {
			h.mu.Unlock()

			return
		}

		delete(room, c.connectionID)

		if len(room) == 0 {
			delete(h.rooms, c.workflowID)
		}
	}

	close(c.send)

	h.mu.Unlock()

	ctx := context.Background()

	h.presence.Leave(ctx, c.workflowID, c.userID, "disconnect")

	if err := h.sessions.Leave(ctx, c.sessionID, c.userID); err != nil && !session.IsNotFoundError(err) {
		h.logger.Warn("Failed to detach participant",
			"session_id", c.sessionID, "user_id", c.userID, "error", err)
	}

	h.logger.Info("Collaborator disconnected",
		"workflow_id", c.workflowID, "user_id", c.userID, "connection_id", c.connectionID)
}

func (h *Hub) sendError(c *client, message string) {
	c.enqueue(ServerMessage{Type: MessageError, Payload: errorPayload{Message: message}})
}
