// main package for the voice-model-service
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

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model-service/internal/audio"
	"github.com/book-expert/voice-model-service/internal/config"
	"github.com/book-expert/voice-model-service/internal/metrics"
	"github.com/book-expert/voice-model-service/internal/objectstore"
	"github.com/book-expert/voice-model-service/internal/registry"
	"github.com/book-expert/voice-model-service/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "voice-model-service"
	bootstrapLogFile  = "voice-model-service-bootstrap.log"
	serviceLogFile    = "voice-model-service.log"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		bootstrapLog.Error("Invalid configuration: %v", err)

		return fmt.Errorf("invalid configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
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

// serve connects to NATS, wires the components and blocks until ctx is cancelled or one of
// them fails.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	modelStore, err := objectstore.New(jetstreamContext, cfg.NATS.ModelBucket)
	if err != nil {
		return fmt.Errorf("failed to open model store: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio store: %w", err)
	}

	serviceMetrics, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	graphs := registry.New(modelStore, log, serviceMetrics)

	err = graphs.Preload(ctx, cfg.Cart.PreloadKeys)
	if err != nil {
		log.Error("Failed to preload decision graphs: %v", err)

		return err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, workerOptions(cfg), graphs, modelStore, audioStore, serviceMetrics, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return natsWorker.Run(groupCtx)
	})

	if cfg.Metrics.ListenAddress != "" {
		server := &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           serviceMetrics.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		group.Go(func() error {
			log.Info("Serving metrics on %s", cfg.Metrics.ListenAddress)

			serveErr := server.ListenAndServe()
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", serveErr)
			}

			return nil
		})

		group.Go(func() error {
			<-groupCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	log.System("Voice-Model-Service successfully initialized. Evaluations on %s, syntheses on %s, %d graphs preloaded",
		cfg.NATS.EvaluateSubject, cfg.NATS.SynthesizeSubject, len(graphs.Keys()))

	err = group.Wait()
	if err != nil {
		log.Error("Service stopped with error: %v", err)

		return err
	}

	log.System("Voice-Model-Service stopped.")

	return nil
}

func workerOptions(cfg *config.Config) worker.Options {
	quality := audio.NewDefaultQuality(0)
	quality.BitDepth = cfg.Synthesis.BitDepth
	quality.Normalize = cfg.Synthesis.Normalize
	quality.Volume = cfg.Synthesis.Volume
	quality.FadeIn = cfg.Synthesis.FadeInSeconds
	quality.FadeOut = cfg.Synthesis.FadeOutSeconds

	return worker.Options{
		EvaluateSubject:   cfg.NATS.EvaluateSubject,
		SynthesizeSubject: cfg.NATS.SynthesizeSubject,
		Quality:           quality,
		MaxSampleRate:     cfg.Synthesis.MaxSampleRate,
		DefaultMinData:    cfg.Cart.MinData,
		HandleTimeout:     time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second,
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
