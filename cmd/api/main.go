// The api binary serves the control surface: tenant configs, run dispatch,
// and artifact access.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/api"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/logging"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/storage"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/tenantstore"
)

func main() {
	settings := config.LoadAPISettings()
	logger := logging.New("api", settings.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.RunsTable == "" || settings.TenantsTable == "" {
		logger.Error("missing required environment", "required", "RUNS_TABLE, TENANTS_TABLE")
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

	var blobs storage.BlobStore
	if settings.ArtifactBucket != "" {
		s3Store, err := storage.NewS3Store(ctx, storage.S3StoreConfig{
			Bucket: settings.ArtifactBucket,
			Region: os.Getenv("AWS_REGION"),
		})
		if err != nil {
			logger.Error("s3 store init failed", "error", err)
			os.Exit(1)
		}
		blobs = s3Store
	}

	var jobQueue queue.JobQueue
	if settings.QueueURL != "" {
		sqsQueue, err := queue.NewSQSQueue(ctx, settings.QueueURL)
		if err != nil {
			logger.Error("sqs queue init failed", "error", err)
			os.Exit(1)
		}
		jobQueue = sqsQueue
	}

	var limiter api.RunLimiter
	if settings.RedisAddr != "" {
		limiter = api.NewRedisRunLimiter(settings.RedisAddr, settings.RunsPerMinute)
	} else {
		limiter = api.NewLocalRunLimiter(settings.RunsPerMinute)
	}

	server := api.New(api.Options{
		Runs:    runStore,
		Tenants: tenantStore,
		Queue:   jobQueue,
		Blobs:   blobs,
		Limiter: limiter,
		APIKeys: settings.APIKeys,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.InfoContext(ctx, "api started", "port", settings.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("api shut down")
}
