// main package for the narrator-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/component-narrator/internal/config"
	"github.com/book-expert/component-narrator/internal/inference"
	"github.com/book-expert/component-narrator/internal/metrics"
	"github.com/book-expert/component-narrator/internal/objectstore"
	"github.com/book-expert/component-narrator/internal/pipeline"
	"github.com/book-expert/component-narrator/internal/server"
	"github.com/book-expert/component-narrator/internal/worker"
)

const (
	bootstrapLogFile = "narrator-service-bootstrap.log"
	serviceLogFile   = "narrator-service.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	narratorMetrics, err := metrics.NewWithRuntime()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	client := inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.Timeout())

	pipes, err := pipeline.Build(cfg, client, narratorMetrics, log)
	if err != nil {
		return err
	}

	log.Info("Catalog loaded with %d components.", pipes.Catalog.Len())

	api := server.New(cfg.Server, cfg.Speech.CacheTTL(), server.Dependencies{
		Catalog:     pipes.Catalog,
		Identifier:  pipes.Ranker,
		Speaker:     pipes.Speaker,
		Streamer:    pipes.Streamer,
		Metrics:     narratorMetrics,
		Health:      pipes.Health,
		ModelsReady: pipes.Models.Ready,
	}, log)

	var natsWorker *worker.NatsWorker

	if cfg.NATS.Enabled() {
		var natsConnection *nats.Conn

		natsWorker, natsConnection, err = newWorker(ctx, cfg, pipes, narratorMetrics, log)
		if err != nil {
			return err
		}
		defer natsConnection.Close()
	} else {
		log.Warn("NATS URL not configured, messaging disabled.")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return api.Run(groupCtx)
	})

	if natsWorker != nil {
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	// Requests that arrive before preload finishes load models on demand.
	go func() {
		preloadErr := pipes.Models.Preload(groupCtx)
		if preloadErr != nil {
			log.Warn("Model preload failed, will retry on first request: %v", preloadErr)
		}
	}()

	log.System("Narrator service started. HTTP API on %s.", cfg.Server.Address)

	return group.Wait()
}

func newWorker(
	ctx context.Context,
	cfg *config.Config,
	pipes *pipeline.Pipelines,
	recorder worker.Recorder,
	log *logger.Logger,
) (*worker.NatsWorker, *nats.Conn, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to open object store: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Identify: cfg.NATS.IdentifySubject, Speech: cfg.NATS.SpeechSubject},
		store,
		pipes.Ranker,
		pipes.Speaker,
		recorder,
		log,
	)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Listening for jobs on subjects %s and %s.", cfg.NATS.IdentifySubject, cfg.NATS.SpeechSubject)

	return natsWorker, natsConnection, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
