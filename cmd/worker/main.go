// Package main provides the entry point for the OSINT research Temporal worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"

	"github.com/helixir/osint-research-service/internal/app"
	"github.com/helixir/osint-research-service/internal/config"
	"github.com/helixir/osint-research-service/internal/database"
	"github.com/helixir/osint-research-service/internal/events"
	"github.com/helixir/osint-research-service/internal/observability"
	"github.com/helixir/osint-research-service/internal/repository"
	"github.com/helixir/osint-research-service/internal/research"
	"github.com/helixir/osint-research-service/internal/temporal"
	"github.com/helixir/osint-research-service/internal/temporal/activities"
	"github.com/helixir/osint-research-service/internal/temporal/resilience"
	"github.com/helixir/osint-research-service/internal/temporal/workflows"
)

const serviceName = "osint-research-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := app.NewLogger(cfg.Logging)
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("osint-research-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories.
	sessionRepo := repository.NewPgSessionRepository(db)
	auditRepo := repository.NewPgAuditRepository(db)
	reportRepo := repository.NewPgReportRepository(db)

	metrics := observability.NewMetrics("osint_research")

	// LLM collaborators and web search.
	collaborators, err := app.NewCollaborators(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("create collaborators: %w", err)
	}
	for op, model := range collaborators.Models {
		logger.Info().Str("operation", op).Str("model", model).Msg("model routed")
	}

	// Audit trail: PostgreSQL is authoritative, Kafka gets a copy.
	var auditSink research.AuditSink = auditRepo
	var publisher activities.EventPublisher
	if cfg.Kafka.Enabled {
		writerCfg := events.WriterConfig{
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}

		auditStream := events.NewAuditStream(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, writerCfg))
		defer closeWith(logger, "audit stream", auditStream.Close)
		auditSink = app.NewAuditSink(auditRepo, logger, auditStream)

		eventWriter := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, writerCfg)
		defer closeWith(logger, "event writer", eventWriter.Close)
		publisher = events.NewPublisher(eventWriter, events.NewEmitter(events.EmitterConfig{
			ServiceName: serviceName,
		}))

		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("audit_topic", cfg.Kafka.AuditTopic).
			Str("events_topic", cfg.Kafka.EventsTopic).
			Msg("kafka streams enabled")
	}

	reports, err := app.NewReportStore(cfg.Research, reportRepo, logger)
	if err != nil {
		return err
	}

	// Create Temporal client.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	// Create WorkerManager.
	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	// Register the research workflow.
	logLevel, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	manager.RegisterResearchWorkflow(workflows.NewResearchWorkflow(workflows.Options{
		Models:    collaborators.Models,
		LogOutput: os.Stdout,
		LogLevel:  logLevel,
	}))

	// Create and register all activity structs. Breakers are shared so a
	// provider outage trips once for every operation that uses it.
	breakers := resilience.NewBreakerRegistry()
	manager.RegisterActivity(activities.NewLLMActivities(
		collaborators.Planner,
		collaborators.Analyzer,
		collaborators.Matcher,
		collaborators.Mapper,
		collaborators.Narrator,
		metrics,
		activities.WithBreakers(breakers),
	))
	manager.RegisterActivity(activities.NewSearchActivities(
		collaborators.Searcher,
		metrics,
		activities.WithSearchBreakers(breakers),
		activities.WithSearchLogger(logger),
	))
	manager.RegisterActivity(activities.NewStatusActivities(sessionRepo, metrics))
	manager.RegisterActivity(activities.NewAuditActivities(auditSink, reports, metrics))
	manager.RegisterActivity(activities.NewEventActivities(publisher))

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Str("search_provider", collaborators.Searcher.Name()).
		Msg("starting temporal worker")

	// Start the worker and block until context is cancelled.
	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}

func closeWith(logger zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error().Err(err).Str("resource", name).Msg("failed to close")
	}
}
