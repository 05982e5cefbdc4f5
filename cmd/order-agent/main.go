// cmd/order-agent/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"drivethru-orchestrator/internal/api"
	appaws "drivethru-orchestrator/internal/common/aws"
	"drivethru-orchestrator/internal/common/camunda"
	"drivethru-orchestrator/internal/common/config"
	"drivethru-orchestrator/internal/common/database"
	apperrors "drivethru-orchestrator/internal/common/errors"
	"drivethru-orchestrator/internal/common/logger"
	"drivethru-orchestrator/internal/common/mqtt"
	"drivethru-orchestrator/internal/common/observability"
	"drivethru-orchestrator/internal/conversation/dialogue"
	"drivethru-orchestrator/internal/conversation/intent"
	"drivethru-orchestrator/internal/conversation/menu"
	"drivethru-orchestrator/internal/conversation/repair"
	"drivethru-orchestrator/internal/conversation/resolver"
	"drivethru-orchestrator/internal/conversation/session"
	"drivethru-orchestrator/internal/conversation/sessionlog"
	"drivethru-orchestrator/internal/conversation/upsell"

	pt "drivethru-orchestrator/internal/workers/conversation/process-turn"
	so "drivethru-orchestrator/internal/workers/conversation/submit-order"
)

func jobSpec(taskType string, wcfg config.WorkerConfig) camunda.JobSpec {
	return camunda.JobSpec{
		TaskType:      taskType,
		WorkerName:    "order-agent-" + taskType,
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
	}
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting order agent...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.Observability.ServiceName)
	defer obs.Shutdown()
	if cfg.Observability.JaegerEndpoint != "" {
		if err := obs.WithTracing(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint); err != nil {
			zapLog.Warn("tracing disabled", zap.Error(err))
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := &dependencies{cfg: cfg, zapLog: zapLog}

	// --- Stores ---
	if needsPostgres(cfg) {
		deps.pg = deps.connectPostgres(ctx)
		defer deps.pg.Close()
	}
	if cfg.SessionLog.Elasticsearch {
		deps.es = deps.connectElasticsearch(ctx)
	}
	if cfg.Resolver.CacheEnabled {
		deps.redis = deps.connectRedis(ctx)
		defer deps.redis.Close()
	}

	// --- Catalog ---
	catalog, err := loadCatalog(ctx, cfg, deps.pg)
	if err != nil {
		if _, ok := apperrors.AsStandardError(err); !ok {
			err = apperrors.NewCatalogLoadFailedError(cfg.Catalog.Source, err)
		}
		zapLog.Fatal("catalog load failed", zap.Error(err))
	}
	zapLog.Info("Menu catalog loaded",
		zap.String("source", cfg.Catalog.Source),
		zap.Int("items", catalog.Len()),
	)

	// --- Conversation engine ---
	policy := resolver.Policy{
		ResolvedThreshold:  cfg.Resolver.ResolvedThreshold,
		AmbiguousThreshold: cfg.Resolver.AmbiguousThreshold,
		AmbiguityMargin:    cfg.Resolver.AmbiguityMargin,
		TopK:               cfg.Resolver.TopK,
	}
	if err := policy.Validate(); err != nil {
		zapLog.Fatal("resolver policy invalid", zap.Error(err))
	}
	res := resolver.New(catalog, deps.scorer(log), policy)

	machine := dialogue.NewMachine(catalog, res, dialogue.Config{
		TopK:            cfg.Resolver.TopK,
		ClarifyAttempts: dialogue.DefaultConfig().ClarifyAttempts,
	})
	if cfg.Session.UpsellEnabled {
		machine.WithUpsell(upsell.NewSuggester(catalog, upsell.DefaultRules()))
	}

	normalizer := intent.NewNormalizer(intent.NormalizerConfig{MinConfidence: 0.3})
	classifier := intent.NewClient(&intent.ClientConfig{
		GenAIBaseURL: cfg.APIs.GenAI.BaseURL,
		APIKey:       cfg.APIs.GenAI.APIKey,
		Timeout:      config.GetDuration(cfg.APIs.GenAI.Timeout),
	}, log)

	// --- Turn log ---
	writers := []sessionlog.Writer{sessionlog.NewLogWriter(log)}
	if cfg.SessionLog.Postgres {
		if err := deps.pg.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("postgres schema failed", zap.Error(err))
		}
		writers = append(writers, sessionlog.NewPostgresWriter(deps.pg.DB))
	}
	if cfg.SessionLog.Elasticsearch {
		if err := deps.es.EnsureTurnIndex(ctx, cfg.SessionLog.ElasticsearchIndex); err != nil {
			zapLog.Fatal("elasticsearch index setup failed", zap.Error(err))
		}
		writers = append(writers, sessionlog.NewElasticsearchWriter(deps.es.Client, cfg.SessionLog.ElasticsearchIndex))
	}
	sink := sessionlog.NewSink(cfg.SessionLog.Buffer, log, writers...)

	manager := session.NewManager(session.Config{
		TurnTimeout:      config.GetDuration(cfg.Session.TurnTimeout),
		IdleTTL:          config.GetDuration(cfg.Session.IdleTTL),
		MinASRConfidence: cfg.Session.MinASRConfidence,
		Repair: repair.Config{
			ResolutionEscalateAfter: cfg.Repair.ResolutionEscalateAfter,
			UnknownEscalateAfter:    cfg.Repair.UnknownEscalateAfter,
		},
	}, catalog, machine, normalizer, classifier, log).
		WithSink(sink).
		WithObservability(obs)

	// --- Lane boards and kitchen tickets ---
	var lane *mqtt.Publisher
	if cfg.Integrations.MQTT.Enabled {
		lane = mqtt.NewPublisher(mqtt.PublisherConfig{
			BrokerURL:   cfg.Integrations.MQTT.BrokerURL,
			ClientID:    cfg.Integrations.MQTT.ClientID,
			Username:    cfg.Integrations.MQTT.Username,
			Password:    cfg.Integrations.MQTT.Password,
			TopicPrefix: cfg.Integrations.MQTT.TopicPrefix,
		}, log)
		err = retryWithBackoff(func() error {
			return lane.Connect(ctx)
		}, 5, 2*time.Second, zapLog, "MQTT connection")
		if err != nil {
			zapLog.Fatal("mqtt failed after retries", zap.Error(err))
		}
		manager.WithDirectivePublisher(lane)
		zapLog.Info("MQTT connected successfully")
	}

	var tickets *session.TicketPublisher
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := appaws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		tickets = session.NewTicketPublisher(snsClient, cfg.Integrations.AWS.SNS.TicketTopicARN)
		if lane != nil {
			tickets.WithLane(lane)
		}
	}

	// --- Workflow workers ---
	var workers []*camunda.CamundaWorker
	var zeebe *camunda.Client
	submitByWorkflow := false
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      10 * time.Second,
			RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			RetryConfig:            &camunda.RetryConfig{MaxRetries: 10, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		})
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		if config.IsWorkerEnabled(cfg, pt.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, pt.TaskType)
			handler := pt.NewHandler(&pt.Config{Timeout: config.GetDuration(wcfg.Timeout)}, manager, &processTurnLoggerAdapter{log})
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), jobSpec(pt.TaskType, wcfg), handler, log))
		}

		if tickets != nil && config.IsWorkerEnabled(cfg, so.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, so.TaskType)
			handler := so.NewHandler(&so.Config{Timeout: config.GetDuration(wcfg.Timeout)}, manager, tickets, &submitOrderLoggerAdapter{log})
			workers = append(workers, camunda.NewWorker(zeebe.GetClient(), jobSpec(so.TaskType, wcfg), handler, log))
			submitByWorkflow = true
		}

		for _, w := range workers {
			w.Start()
		}
	}

	// Without the submit-order worker, accepted orders go to the kitchen straight from the turn.
	if tickets != nil && !submitByWorkflow {
		manager.WithAcceptanceNotifier(tickets)
	}

	go manager.Run(ctx, config.GetDuration(cfg.Session.SweepInterval))

	// --- HTTP ---
	server := api.NewServer(manager, log)
	if deps.pg != nil {
		server.WithReadinessCheck("postgres", deps.pg.Ping)
	}
	if deps.redis != nil {
		server.WithReadinessCheck("redis", deps.redis.Ping)
	}
	if deps.es != nil {
		server.WithReadinessCheck("elasticsearch", deps.es.Ping)
	}
	if zeebe != nil {
		server.WithReadinessCheck("zeebe", zeebe.HealthCheck)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if err := manager.Close(shutdownCtx); err != nil {
		zapLog.Error("Error closing sessions", zap.Error(err))
	}
	if err := sink.Close(shutdownCtx); err != nil {
		zapLog.Error("Error flushing turn log", zap.Error(err))
	}
	stop()

	zapLog.Info("Order agent stopped gracefully")
}

// dependencies holds the store connections shared by the engine and the readiness checks.
type dependencies struct {
	cfg    *config.Config
	zapLog *zap.Logger

	pg    *database.PostgresClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient
}

func needsPostgres(cfg *config.Config) bool {
	return cfg.Catalog.Source == "postgres" || cfg.SessionLog.Postgres
}

func (d *dependencies) connectPostgres(ctx context.Context) *database.PostgresClient {
	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(d.cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, d.zapLog, "PostgreSQL connection")
	if err != nil {
		d.zapLog.Fatal("postgres failed after retries", zap.Error(err), zap.String("errorCode", string(apperrors.Normalize(err).Code)))
	}
	d.zapLog.Info("PostgreSQL connected successfully")
	return pg
}

func (d *dependencies) connectElasticsearch(ctx context.Context) *database.ElasticsearchClient {
	var es *database.ElasticsearchClient
	err := retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(d.cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, d.zapLog, "Elasticsearch connection")
	if err != nil {
		d.zapLog.Fatal("elasticsearch failed after retries", zap.Error(err), zap.String("errorCode", string(apperrors.Normalize(err).Code)))
	}
	d.zapLog.Info("Elasticsearch connected successfully")
	return es
}

func (d *dependencies) connectRedis(ctx context.Context) *database.RedisClient {
	var rdb *database.RedisClient
	err := retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(d.cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, d.zapLog, "Redis connection")
	if err != nil {
		d.zapLog.Fatal("redis failed after retries", zap.Error(err), zap.String("errorCode", string(apperrors.Normalize(err).Code)))
	}
	d.zapLog.Info("Redis connected successfully")
	return rdb
}

// scorer builds the similarity scorer, wrapped in the redis cache when one is connected.
func (d *dependencies) scorer(log logger.Logger) resolver.Scorer {
	var scorer resolver.Scorer = resolver.NewLexicalScorer()
	if d.cfg.Resolver.Scorer == "remote" {
		scorer = resolver.NewRemoteScorer(resolver.RemoteConfig{
			BaseURL: d.cfg.APIs.Similarity.BaseURL,
			APIKey:  d.cfg.APIs.Similarity.APIKey,
			Timeout: config.GetDuration(d.cfg.APIs.Similarity.Timeout),
		})
	}
	if d.redis != nil {
		scorer = resolver.NewCachedScorer(scorer, d.redis.Client, config.GetDuration(d.cfg.Resolver.CacheTTL), log)
	}
	return scorer
}

func loadCatalog(ctx context.Context, cfg *config.Config, pg *database.PostgresClient) (*menu.Catalog, error) {
	switch cfg.Catalog.Source {
	case "file":
		return menu.LoadFile(cfg.Catalog.Path)
	case "postgres":
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return menu.LoadPostgres(loadCtx, pg.DB)
	default:
		return menu.LoadDefault()
	}
}

// Logger adapters for workers that have their own Logger interfaces
type processTurnLoggerAdapter struct {
	logger.Logger
}

func (a *processTurnLoggerAdapter) With(fields map[string]interface{}) pt.Logger {
	return &processTurnLoggerAdapter{a.Logger.With(fields)}
}

type submitOrderLoggerAdapter struct {
	logger.Logger
}

func (a *submitOrderLoggerAdapter) With(fields map[string]interface{}) so.Logger {
	return &submitOrderLoggerAdapter{a.Logger.With(fields)}
}
