// Package web provides HTTP handlers and REST API endpoints for collaboration management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/KlikkAI/reporunner-collab/pkg/collab"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
	"github.com/KlikkAI/reporunner-collab/pkg/presence"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
)

type APIHandlers struct {
	sessions    *session.Manager
	coordinator *collab.Coordinator
	presence    *presence.Tracker
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	sessions *session.Manager,
	coordinator *collab.Coordinator,
	presenceTracker *presence.Tracker,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		sessions:    sessions,
		coordinator: coordinator,
		presence:    presenceTracker,
		persistence: persistence,
		validator:   validator,
	}
}

// RegisterRoutes attaches every collaboration endpoint to the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Get("/sessions/:workflowId", h.GetActiveSession)
	app.Post("/sessions/:workflowId/join", h.JoinSession)
	app.Post("/sessions/:sessionId/leave", h.LeaveSession)
	app.Patch("/sessions/:sessionId/settings", h.UpdateSessionSettings)
	app.Post("/sessions/:sessionId/end", h.EndSession)
	app.Get("/sessions/:sessionId/operations", h.ListSessionOperations)

	app.Post("/workflows/:workflowId/operations", h.SubmitOperation)
	app.Get("/workflows/:workflowId/document", h.GetDocument)
	app.Get("/workflows/:workflowId/presence", h.GetPresence)
	app.Get("/workflows/:workflowId/collaboration-analytics", h.GetAnalytics)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Collaboration API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Collaboration API is unhealthy: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetActiveSession(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	active, err := h.sessions.GetActive(c.Context(), workflowID)
	if err != nil {
		if session.IsNotFoundError(err) {
			return notFound(c, "No active session for workflow")
		}

		return handleServiceError(c, err)
	}

	return c.JSON(active)
}

func (h *APIHandlers) JoinSession(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req JoinSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.sessions.Join(c.Context(), workflowID,
		session.User{ID: req.UserID, Name: req.UserName},
		&session.Config{
			Role:         req.Role,
			Settings:     req.Settings,
			ConnectionID: req.ConnectionID,
		})
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if result.IsNewSession {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(result)
}

func (h *APIHandlers) LeaveSession(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	var req LeaveSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.sessions.Leave(c.Context(), sessionID, req.UserID); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateSessionSettings(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	var req UpdateSettingsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.sessions.UpdateSettings(c.Context(), sessionID, models.SessionSettings{
		AllowedRoles:    req.AllowedRoles,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) EndSession(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	var req EndSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	ended, err := h.sessions.End(c.Context(), sessionID, req.EndedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ended)
}

func (h *APIHandlers) ListSessionOperations(c fiber.Ctx) error {
	sessionID := c.Params("sessionId")
	if sessionID == "" {
		return badRequest(c, "Session ID is required")
	}

	opts, err := h.parseListOperationsOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.sessions.ListOperations(c.Context(), sessionID, *opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"operations":  result.Operations,
		"total_count": result.TotalCount,
		"pagination": fiber.Map{
			"page":  result.Page,
			"limit": result.Limit,
		},
	})
}

// parseListOperationsOptions parses and validates query parameters for the
// operation audit trail.
func (h *APIHandlers) parseListOperationsOptions(c fiber.Ctx) (*persistence.ListOperationsOptions, error) {
	opts := &persistence.ListOperationsOptions{}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		opts.Page = page
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.OperationStatus(statusStr)
		opts.Status = &status
	}

	return opts, nil
}

func (h *APIHandlers) SubmitOperation(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var op models.Operation
	if err := c.Bind().JSON(&op); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	op.WorkflowID = workflowID

	result, err := h.coordinator.Submit(c.Context(), &op)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetDocument(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	snapshot, err := h.coordinator.Resync(c.Context(), workflowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) GetPresence(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	return c.JSON(fiber.Map{
		"users": h.presence.Get(workflowID),
		"stats": h.presence.Stats(workflowID),
	})
}

func (h *APIHandlers) GetAnalytics(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		return badRequest(c, "Invalid date range: "+err.Error())
	}

	analytics, err := h.sessions.Analytics(c.Context(), workflowID, from, to)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(analytics)
}

// parseDateRange reads from/to query parameters as RFC 3339 timestamps,
// defaulting to the trailing 30 days.
func parseDateRange(c fiber.Ctx) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}

		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}

		to = parsed
	}

	return from, to, nil
}
