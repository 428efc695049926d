package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/KlikkAI/reporunner-collab/pkg/cmd"
	"github.com/KlikkAI/reporunner-collab/pkg/log"
	"github.com/KlikkAI/reporunner-collab/pkg/otelhelper"
	"github.com/KlikkAI/reporunner-collab/pkg/transform"
)

const (
	defaultPort   = 9092
	defaultWSPort = 9093

	shutdownTimeout = 30 * time.Second
)

func main() {
	logger := log.WithModule("collab-server")

	command := &cli.Command{
		Name:                  "collab-server",
		Usage:                 "Real-time collaborative editing for workflow graphs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the REST API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "ws-port",
				Usage:   "Port to run the websocket gateway on",
				Value:   defaultWSPort,
				Sources: cli.EnvVars("WS_PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "conflict-priority",
				Usage:   "Conflict resolution priority (server, client)",
				Value:   "server",
				Sources: cli.EnvVars("CONFLICT_PRIORITY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing collaboration server")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

			var tracer trace.Tracer

			if command.Bool("tracing") {
				t, err := otelhelper.NewTracer(ctx, "collab-server")
				if err != nil {
					return err
				}

				tracer = t
			}

			server, err := NewServer(
				logger,
				persistence,
				eventBus,
				transform.Priority(command.String("conflict-priority")),
				tracer,
			)
			if err != nil {
				return err
			}

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				<-sigChan

				logger.Info("Shutting down collaboration server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				server.Shutdown(shutdownCtx)
			}()

			return server.Start(ctx, command.Int("port"), command.Int("ws-port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
