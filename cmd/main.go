package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/contrib/envconfig"
	"go.temporal.io/sdk/workflow"

	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"headswap/internal"
	"headswap/internal/config"
	"headswap/internal/engine"
	"headswap/internal/graph"
	"headswap/internal/handler"
	"headswap/internal/images"
	"headswap/internal/ledger"
	"headswap/internal/metrics"
	"headswap/internal/storage"
	"headswap/internal/temporal/activities"
	"headswap/internal/temporal/workflows"
	"headswap/pkg/log"
	"headswap/pkg/s3"
)

func main() {

	ctx := context.Background()

	// Load config from file
	cfg, err := config.NewConfig(ctx, os.Getenv("HEADSWAP_CONFIG"))
	if err != nil {
		bootLogger := log.NewWithWriter("info", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := log.New(cfg.Log)

	// Template and node ids are checked once so a mismatched file fails here
	template, err := graph.Load(cfg.Workflow.Template)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load workflow template")
	}
	if err := template.Validate(cfg.Workflow.HeadNode, cfg.Workflow.BodyNode, cfg.Workflow.OutputNode); err != nil {
		logger.Fatal().Err(err).Str("template", cfg.Workflow.Template).Msg("Workflow template does not match configured nodes")
	}
	logger.Info().Str("template", cfg.Workflow.Template).Int("nodes", template.Len()).Msg("Workflow template loaded")

	engineClient := engine.NewClient(engine.Options{
		BaseURL:          cfg.Engine.URL,
		RequestTimeout:   cfg.Engine.RequestTimeout,
		SubmitAttempts:   cfg.Engine.SubmitAttempts,
		SubmitRetryDelay: cfg.Engine.SubmitRetryDelay,
		PollInterval:     cfg.Engine.PollInterval,
		Timeout:          cfg.Engine.Timeout,
		OutputNode:       cfg.Workflow.OutputNode,
	})

	materializer := images.NewMaterializer(images.Options{
		AllowURLs:    cfg.Images.AllowURLs,
		FetchTimeout: cfg.Images.FetchTimeout,
		MaxBytes:     cfg.Images.MaxBytes,
	})

	var archiver handler.Archiver
	if cfg.Storage.Enabled {
		s3Client, err := s3.NewClient(ctx, cfg.Storage.Region, cfg.Storage.Endpoint, cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		archiver = storage.NewS3Archive(s3Client, cfg.Storage.Bucket, cfg.Storage.Prefix)
		logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("Result archive enabled")
	}

	var store ledger.Store
	if cfg.Ledger.Enabled {
		mysqlStore, err := ledger.NewMySQLStore(ctx, cfg.Ledger.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open run ledger")
		}
		defer mysqlStore.Close()
		store = mysqlStore
		logger.Info().Msg("Run ledger enabled")
	}

	h := handler.New(template, engineClient, materializer, handler.Options{
		InputDir:   cfg.Paths.InputDir,
		OutputDir:  cfg.Paths.OutputDir,
		HeadNode:   cfg.Workflow.HeadNode,
		BodyNode:   cfg.Workflow.BodyNode,
		InputField: cfg.Workflow.InputField,
		Archiver:   archiver,

		MaxResultBytes: cfg.Temporal.MaxResultBytes,
		Logger:         logger,
	})

	// Ops endpoints
	opsServer := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           metrics.NewRouter(engineClient.Ping),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", opsServer.Addr).Msg("Ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Ops server stopped")
		}
	}()
	defer opsServer.Shutdown(context.Background())

	clientOptions := envconfig.MustLoadDefaultClientOptions()
	if cfg.Temporal.HostPort != "" {
		clientOptions.HostPort = cfg.Temporal.HostPort
	}
	if cfg.Temporal.Namespace != "" {
		clientOptions.Namespace = cfg.Temporal.Namespace
	}
	clientOptions.Logger = log.NewTemporalAdapter(logger)

	c, err := temporalclient.DialContext(ctx, clientOptions)
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	defer c.Close()
	logger.Info().Str("namespace", clientOptions.Namespace).Str("queue", cfg.Temporal.Queue).Msg("Connected to Temporal")

	// Create worker
	w := worker.New(c, cfg.Temporal.Queue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Temporal.MaxConcurrentActivities,
	})

	w.RegisterWorkflowWithOptions(workflows.HeadSwapWorkflow, workflow.RegisterOptions{Name: internal.WorkflowNameHeadSwap})

	// Create activities instance with dependency injection
	acts := activities.NewActivities(h, store, logger)

	// Register activities
	w.RegisterActivityWithOptions(acts.GenerateActivity, activity.RegisterOptions{Name: internal.ActivityNameGenerate})
	w.RegisterActivityWithOptions(acts.RecordRunActivity, activity.RegisterOptions{Name: internal.ActivityNameRecordRun})
	w.RegisterActivityWithOptions(acts.CleanupJobActivity, activity.RegisterOptions{Name: internal.ActivityNameCleanupJob})

	// Start listening to the Task Queue.
	err = w.Run(worker.InterruptCh())
	if err != nil {
		logger.Error().Err(err).Msg("Unable to start worker")
	}
}
