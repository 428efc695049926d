// Package main provides the collaboration server implementation.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/KlikkAI/reporunner-collab/pkg/collab"
	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/gateway"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
	"github.com/KlikkAI/reporunner-collab/pkg/presence"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
	"github.com/KlikkAI/reporunner-collab/pkg/transform"
	"github.com/KlikkAI/reporunner-collab/pkg/web"
)

type Server struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus

	sessions    *session.Manager
	coordinator *collab.Coordinator
	presence    *presence.Tracker
	hub         *gateway.Hub

	app      *fiber.App
	wsServer *http.Server
}

func NewServer(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	priority transform.Priority,
	tracer trace.Tracer,
) (*Server, error) {
	sessions := session.NewManager(persistence, nil, eventBus, logger)
	engine := transform.NewEngine(priority, logger)

	coordinator, err := collab.NewCoordinator(sessions, engine, persistence, eventBus, tracer, logger)
	if err != nil {
		return nil, err
	}

	presenceTracker := presence.NewTracker(eventBus, logger)
	hub := gateway.NewHub(sessions, coordinator, presenceTracker, logger)
	hub.BindEvents(eventBus)

	return &Server{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		sessions:    sessions,
		coordinator: coordinator,
		presence:    presenceTracker,
		hub:         hub,
	}, nil
}

func (s *Server) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		s.sessions,
		s.coordinator,
		s.presence,
		s.persistence,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Reporunner Collaboration API")
	})

	handlers.RegisterRoutes(app)

	return app
}

// Start runs the REST API and the websocket gateway, and begins consuming
// bus events and sweeping idle presence. It blocks until the API listener
// stops.
func (s *Server) Start(ctx context.Context, port, wsPort int) error {
	if err := s.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	s.presence.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleConnection)

	s.wsServer = &http.Server{
		Addr:              ":" + strconv.Itoa(wsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("Starting websocket gateway", "port", wsPort)

		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Websocket gateway stopped", "error", err)
		}
	}()

	s.app = s.App()

	s.logger.Info("Starting collaboration API", "port", port)

	return s.app.Listen(":" + strconv.Itoa(port))
}

// Shutdown drains in order: no new connections, then workers, then the bus,
// then storage. An operation in flight finishes its persist and broadcast.
func (s *Server) Shutdown(ctx context.Context) {
	if s.wsServer != nil {
		if err := s.wsServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shut down websocket gateway", "error", err)
		}
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			s.logger.Error("Failed to shut down API", "error", err)
		}
	}

	s.presence.Stop()
	s.coordinator.Close()

	if err := s.eventBus.Close(); err != nil {
		s.logger.Error("Failed to close event bus", "error", err)
	}

	if err := s.persistence.Close(ctx); err != nil {
		s.logger.Error("Failed to close persistence", "error", err)
	}
}
