package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/zatekoja/clinicalcoding/internal/adapters/database"
	"github.com/zatekoja/clinicalcoding/internal/adapters/events"
	"github.com/zatekoja/clinicalcoding/internal/adapters/providers/extraction"
	"github.com/zatekoja/clinicalcoding/internal/application/services"
	"github.com/zatekoja/clinicalcoding/internal/domain/providers"
	"github.com/zatekoja/clinicalcoding/internal/domain/repositories"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/openai"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/clients/redis"
	"github.com/zatekoja/clinicalcoding/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcoding/pkg/config"
)

// app holds the wired pipeline and everything that must be closed on exit
type app struct {
	cfg          *config.Config
	logger       *zerolog.Logger
	reports      repositories.ReportRepository
	crosswalk    *services.CrosswalkService
	orchestrator *services.PipelineOrchestrator
	batch        *services.BatchRunner
	closers      []func(context.Context) error
}

// newApp loads configuration and wires adapters and services. withPipeline
// false skips the completion and extraction clients.
func newApp(ctx context.Context, withPipeline bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if pipelineFile != "" {
		if err := cfg.LoadPipelineFile(pipelineFile); err != nil {
			return nil, err
		}
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment, cfg.LogLevel)
	logger := observability.GetLogger()
	a := &app{cfg: cfg, logger: logger}

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry, continuing without export")
		} else {
			a.closers = append(a.closers, shutdown)
			if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
				logger.Warn().Err(err).Msg("failed to start runtime metrics")
			}
			logger.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return pgClient.Close() })

	reportRepo := database.NewReportAdapter(pgClient)
	a.reports = reportRepo
	crosswalk, err := services.NewCrosswalkService(database.NewCrosswalkAdapter(pgClient), cfg.Pipeline.CrosswalkCapacity)
	if err != nil {
		a.close()
		return nil, err
	}
	a.crosswalk = crosswalk

	if !withPipeline {
		return a, nil
	}

	var publisher providers.ProgressPublisher = events.NoopProgressPublisher{}
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, progress events will not be published")
		} else {
			a.closers = append(a.closers, func(context.Context) error { return redisClient.Close() })
			publisher = events.NewRedisProgressPublisher(redisClient.Client())
		}
	}

	completion, err := openai.NewClient(&cfg.OpenAI)
	if err != nil {
		a.close()
		return nil, err
	}
	extractor, err := extraction.NewComprehendAdapter(ctx, &cfg.Extraction)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Pipeline.CrosswalkWarmStart {
		crosswalk.WarmStart(ctx)
	}

	p := cfg.Pipeline
	a.orchestrator = services.NewPipelineOrchestrator(
		reportRepo,
		database.NewEncounterAdapter(pgClient),
		services.NewRelevanceFilterService(completion, p.FilterTimeout),
		services.NewCodeInferenceService(extractor, p.ExtractionTimeout),
		crosswalk,
		services.NewCodingAnalysisService(completion, p.AnalysisTimeout),
		services.NewProgressTracker(reportRepo, publisher),
		p,
	)
	a.batch = services.NewBatchRunner(reportRepo, a.orchestrator, p.BatchConcurrency, p.BatchSize)

	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn().Err(err).Msg("error during shutdown")
		}
	}
}
