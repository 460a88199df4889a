package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mental-cdss/internal/config"
	"mental-cdss/internal/logging"
	mysqlClient "mental-cdss/internal/platform/mysql"
	"mental-cdss/internal/repository"
	"mental-cdss/internal/trainer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.toml (default: $CONFIG_FILE or configs/config.toml)")
	datasetDir := flag.String("dataset", "", "dataset root containing train/<class>/")
	outputPath := flag.String("output", "", "where to write the model artifact")
	epochs := flag.Int("epochs", 0, "number of epochs")
	batchSize := flag.Int("batch-size", 0, "images per batch")
	imageSize := flag.Int("image-size", 0, "square input size in pixels")
	seed := flag.Int64("seed", 0, "shuffle and init seed")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv("CONFIG_FILE", *configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	tc := cfg.Train
	if *datasetDir != "" {
		tc.DatasetDir = *datasetDir
	}
	if *outputPath != "" {
		tc.OutputPath = *outputPath
	}
	if *epochs > 0 {
		tc.Epochs = *epochs
	}
	if *batchSize > 0 {
		tc.BatchSize = *batchSize
	}
	if *imageSize > 0 {
		tc.ImageSize = *imageSize
	}
	if *seed != 0 {
		tc.Seed = *seed
	}

	log := logging.New(cfg.Log.Level)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := trainer.Options{
		DatasetDir:   tc.DatasetDir,
		OutputPath:   tc.OutputPath,
		Classes:      tc.Classes,
		ImageSize:    tc.ImageSize,
		BatchSize:    tc.BatchSize,
		Epochs:       tc.Epochs,
		LearningRate: tc.LearningRate,
		Seed:         tc.Seed,
		Logger:       log,
	}
	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			return err
		}
		defer func() { _ = mysqlClient.Close(db) }()
		opts.Recorder = repository.NewTrainingRunRepository(db)
	}

	res, err := trainer.Train(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Printf("model saved to %s (labels %v, %d images, checksum %s)\n",
		res.OutputPath, res.Labels, res.Samples, res.Checksum)
	return nil
}
