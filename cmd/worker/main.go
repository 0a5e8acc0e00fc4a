// The worker binary consumes run jobs from the queue and executes the
// inventory-sync pipeline.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/logging"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/metrics"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/observability"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/storage"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/tenantstore"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/worker"
)

func main() {
	settings := config.LoadWorkerSettings()
	logger := logging.New("worker", settings.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.ArtifactBucket == "" || settings.QueueURL == "" ||
		settings.RunsTable == "" || settings.TenantsTable == "" {
		logger.Error("missing required environment",
			"required", "ARTIFACT_BUCKET, SQS_QUEUE_URL, RUNS_TABLE, TENANTS_TABLE")
		os.Exit(1)
	}

	blobs, err := storage.NewS3Store(ctx, storage.S3StoreConfig{
		Bucket: settings.ArtifactBucket,
		Region: os.Getenv("AWS_REGION"),
	})
	if err != nil {
		logger.Error("s3 store init failed", "error", err)
		os.Exit(1)
	}
	jobQueue, err := queue.NewSQSQueue(ctx, settings.QueueURL)
	if err != nil {
		logger.Error("sqs queue init failed", "error", err)
		os.Exit(1)
	}
	runStore, err := runs.NewDynamoStore(ctx, settings.RunsTable)
	if err != nil {
		logger.Error("runs store init failed", "error", err)
		os.Exit(1)
	}
	tenantStore, err := tenantstore.NewDynamoStore(ctx, settings.TenantsTable)
	if err != nil {
		logger.Error("tenant store init failed", "error", err)
		os.Exit(1)
	}

	var sink metrics.Sink = metrics.NopSink{}
	if settings.MetricsEnabled {
		cw, err := metrics.NewCloudWatchSink(ctx, settings.MetricsNamespace, logger)
		if err != nil {
			logger.Error("cloudwatch sink init failed", "error", err)
			os.Exit(1)
		}
		sink = cw
	}

	obsConfig := observability.DefaultConfig()
	obsConfig.Enabled = settings.OTLPEndpoint != ""
	obsConfig.OTLPEndpoint = settings.OTLPEndpoint
	obs, err := observability.New(ctx, obsConfig)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	w := worker.New(worker.Options{
		Blobs:    blobs,
		Runs:     runStore,
		Tenants:  tenantStore,
		Queue:    jobQueue,
		Metrics:  sink,
		Obs:      obs,
		Logger:   logger,
		Settings: settings,
	})

	logger.InfoContext(ctx, "worker started",
		"concurrency", settings.Concurrency,
		"visibility_timeout", settings.VisibilityTimeout.String(),
		"poison_max_receives", settings.PoisonMaxReceives,
	)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
