package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"mental-cdss/internal/cnn"
	"mental-cdss/internal/dataset"
	"mental-cdss/internal/inference"
	"mental-cdss/internal/metrics"
	"mental-cdss/internal/model"
	"mental-cdss/internal/modelstore"
	"mental-cdss/internal/vision"
)

// ErrClassCount means the dataset does not hold exactly inference.NumClasses classes.
var ErrClassCount = errors.New("unsupported number of classes")

// Options captures the knobs of one training run.
type Options struct {
	DatasetDir   string
	OutputPath   string
	Classes      []string
	ImageSize    int
	BatchSize    int
	Epochs       int
	LearningRate float64
	Seed         int64
	Logger       logrus.FieldLogger
	Recorder     Recorder
}

// Recorder persists a summary of each run; see repository.TrainingRunRepository.
type Recorder interface {
	Create(run *model.TrainingRun) error
}

type EpochStats struct {
	Epoch        int
	Loss         float64
	Accuracy     float64
	ImagesPerSec float64
}

type Result struct {
	Labels       []string
	Samples      int
	Epochs       []EpochStats
	OutputPath   string
	ManifestPath string
	Checksum     string
}

func (o *Options) normalize() error {
	if o.DatasetDir == "" {
		return errors.New("trainer: dataset dir must be set")
	}
	if o.OutputPath == "" {
		return errors.New("trainer: output path must be set")
	}
	if o.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be > 0 (got %d)", o.Epochs)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("trainer: batch size must be > 0 (got %d)", o.BatchSize)
	}
	if o.ImageSize <= 0 {
		o.ImageSize = vision.DefaultSize
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		o.Logger = logger
	}
	return nil
}

// Train fits the classifier on DatasetDir/train and writes the artifact and
// its manifest to OutputPath. Nothing is written unless every epoch completes.
func Train(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	log := opts.Logger.WithField("component", "trainer")
	run := &model.TrainingRun{
		DatasetDir: opts.DatasetDir,
		ImageSize:  opts.ImageSize,
		BatchSize:  opts.BatchSize,
		Epochs:     opts.Epochs,
		StartedAt:  time.Now(),
	}

	res, err := train(ctx, opts, log, run)
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = model.TrainingRunFailed
		run.Error = err.Error()
	} else {
		run.Status = model.TrainingRunSucceeded
	}
	if opts.Recorder != nil {
		if recErr := opts.Recorder.Create(run); recErr != nil {
			log.WithError(recErr).Warn("record training run failed")
		}
	}
	return res, err
}

func train(ctx context.Context, opts Options, log logrus.FieldLogger, run *model.TrainingRun) (*Result, error) {
	if err := dataset.EnsureLayout(opts.DatasetDir, opts.Classes); err != nil {
		return nil, err
	}
	classes, err := dataset.DiscoverClasses(filepath.Join(opts.DatasetDir, dataset.TrainSubdir))
	if err != nil {
		return nil, err
	}
	if err := dataset.CheckClasses(classes); err != nil {
		return nil, err
	}
	labels := dataset.Names(classes)
	run.SetLabels(labels)
	if len(labels) != inference.NumClasses {
		return nil, fmt.Errorf("%w: found %d class directories %v, need exactly %d", ErrClassCount, len(labels), labels, inference.NumClasses)
	}

	loader, err := dataset.NewLoader(classes, vision.NewPreprocessor(opts.ImageSize), opts.BatchSize, opts.Seed)
	if err != nil {
		return nil, err
	}
	run.Samples = loader.Len()

	net, err := cnn.New(cnn.DefaultArch(opts.ImageSize, len(labels)), labels, opts.Seed)
	if err != nil {
		return nil, err
	}
	net.SetLearningRate(opts.LearningRate)

	log.WithFields(logrus.Fields{
		"classes": labels,
		"images":  loader.Len(),
		"batches": loader.NumBatches(),
		"epochs":  opts.Epochs,
	}).Info("training started")

	res := &Result{Labels: labels, Samples: loader.Len()}
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		stats, err := runEpoch(ctx, net, loader)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		stats.Epoch = epoch
		res.Epochs = append(res.Epochs, stats)
		log.WithFields(logrus.Fields{
			"epoch":          fmt.Sprintf("%d/%d", epoch, opts.Epochs),
			"loss":           fmt.Sprintf("%.4f", stats.Loss),
			"accuracy":       fmt.Sprintf("%.4f", stats.Accuracy),
			"images_per_sec": fmt.Sprintf("%.1f", stats.ImagesPerSec),
		}).Info("epoch finished")
	}

	last := res.Epochs[len(res.Epochs)-1]
	run.FinalLoss, run.FinalAcc = last.Loss, last.Accuracy

	if err := modelstore.WriteAtomic(opts.OutputPath, net.Save); err != nil {
		return nil, fmt.Errorf("save model failed: %w", err)
	}
	sum, err := modelstore.Checksum(opts.OutputPath)
	if err != nil {
		_ = os.Remove(opts.OutputPath)
		return nil, fmt.Errorf("checksum model failed: %w", err)
	}
	manifestPath := modelstore.ManifestPath(opts.OutputPath)
	manifest := &modelstore.Manifest{
		Format:     modelstore.FormatNative,
		Labels:     labels,
		InputShape: []int64{1, int64(opts.ImageSize), int64(opts.ImageSize), vision.Channels},
		Checksum:   sum,
		CreatedAt:  time.Now().UTC(),
		Epochs:     opts.Epochs,
		BatchSize:  opts.BatchSize,
		Loss:       last.Loss,
		Accuracy:   last.Accuracy,
	}
	if err := modelstore.WriteManifest(manifestPath, manifest); err != nil {
		_ = os.Remove(opts.OutputPath)
		return nil, fmt.Errorf("write manifest failed: %w", err)
	}

	run.ArtifactPath, run.Checksum = opts.OutputPath, sum
	res.OutputPath, res.ManifestPath, res.Checksum = opts.OutputPath, manifestPath, sum
	return res, nil
}

func runEpoch(ctx context.Context, net *cnn.Network, loader *dataset.Loader) (EpochStats, error) {
	loader.Reset()
	var window metrics.Window
	for {
		startData := time.Now()
		batch, err := loader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return EpochStats{}, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, correct, err := net.TrainBatch(batch.Inputs, batch.Labels)
		if err != nil {
			return EpochStats{}, err
		}
		window.Record(len(batch.Inputs), correct, loss, dataTime, time.Since(startCompute))
	}
	snap := window.Snapshot()
	return EpochStats{Loss: snap.Loss, Accuracy: snap.Accuracy, ImagesPerSec: snap.ImagesPerSec}, nil
}
