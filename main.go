package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tonysebion/medallion-foundry-sub003/checkpoint"
	"github.com/tonysebion/medallion-foundry-sub003/integrity"
	"github.com/tonysebion/medallion-foundry-sub003/loader"
	"github.com/tonysebion/medallion-foundry-sub003/pipeline"
	"github.com/tonysebion/medallion-foundry-sub003/quarantine"
	"github.com/tonysebion/medallion-foundry-sub003/silver"
	"github.com/tonysebion/medallion-foundry-sub003/storage"
	"github.com/tonysebion/medallion-foundry-sub003/watermark"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("LOG_DEV") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}

	watermarks := watermark.NewStore(backend, cfg.State.WatermarkPrefix, logger)
	checkpoints := checkpoint.NewStore(backend, cfg.State.CheckpointPrefix, logger)

	var verifier *integrity.Verifier
	if cfg.Integrity.VerifyInput {
		verifier = integrity.NewVerifier(logger)
	}
	quarantineMgr := quarantine.NewManager(cfg.Integrity.QuarantineEnabled, logger)
	engine := silver.NewEngine(verifier, quarantineMgr, logger)

	db, err := loader.Open(logger)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := pipeline.NewRunner(
		checkpoints,
		watermarks,
		engine,
		db,
		db,
		pipeline.NewLogNotifier(logger),
		pipeline.Config{
			Workers:              cfg.Silver.Workers,
			LeaseTTL:             cfg.LeaseTTL(),
			OutputDir:            cfg.Silver.OutputDir,
			ManifestName:         cfg.Integrity.ManifestName,
			FreshnessSkip:        time.Duration(cfg.Integrity.FreshnessSkipSeconds) * time.Second,
			Environment:          cfg.Service.Environment,
			KeepCheckpoints:      cfg.State.KeepCheckpoints,
			WriteOutputManifests: cfg.Integrity.WriteOutputManifests,
		},
		logger,
	)

	health := NewHealthServer(cfg.Service.Name, cfg.Service.Environment, cfg.Service.HealthPort, logger)
	go func() {
		if err := health.Start(); err != nil {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	logger.Info("medallion foundry starting",
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.Int("datasets", len(cfg.Datasets)),
		zap.Bool("run_once", cfg.Service.RunOnce))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	runCycle := func() {
		tasks, err := cfg.DiscoverTasks()
		if err != nil {
			logger.Error("task discovery failed", zap.Error(err))
			return
		}
		if len(tasks) == 0 {
			logger.Info("no partitions to process")
			return
		}

		summary := runner.Run(ctx, tasks)
		health.RecordRun()
		for _, err := range summary.Errors {
			logger.Error("partition failed", zap.Error(err))
		}
	}

	// Immediate first cycle, then poll.
	runCycle()
	if cfg.Service.RunOnce {
		return nil
	}

	ticker := time.NewTicker(cfg.RunInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle()
		case <-ctx.Done():
			logger.Info("stopping")
			return nil
		}
	}
}

func buildStorage(ctx context.Context, cfg *Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:   cfg.Storage.S3.Bucket,
			Prefix:   cfg.Storage.S3.Prefix,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
	default:
		return storage.NewLocalStore(cfg.Storage.Local.Dir)
	}
}
