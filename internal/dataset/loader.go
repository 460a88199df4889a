package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"os"

	"mental-cdss/internal/vision"
)

// Sample is one image path and its label index.
type Sample struct {
	Path  string
	Label int
}

// Batch holds flat HWC inputs and their labels.
type Batch struct {
	Inputs [][]float32
	Labels []int
}

// Loader streams shuffled batches from disk. Only the current batch is
// decoded and held in memory.
type Loader struct {
	samples   []Sample
	batchSize int
	pre       *vision.Preprocessor
	rng       *rand.Rand
	order     []int
	pos       int
}

func NewLoader(classes []Class, pre *vision.Preprocessor, batchSize int, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, errors.New("dataset: batch size must be > 0")
	}
	if pre == nil {
		return nil, errors.New("dataset: preprocessor is nil")
	}
	var samples []Sample
	for label, c := range classes {
		for _, f := range c.Files {
			samples = append(samples, Sample{Path: f, Label: label})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no images found", ErrInsufficientTrainingData)
	}
	l := &Loader{
		samples:   samples,
		batchSize: batchSize,
		pre:       pre,
		rng:       rand.New(rand.NewSource(seed)),
	}
	l.Reset()
	return l, nil
}

func (l *Loader) Len() int { return len(l.samples) }

// NumBatches is the number of batches per epoch; the last one may be short.
func (l *Loader) NumBatches() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// Reset reshuffles the sample order and rewinds to the first batch.
func (l *Loader) Reset() {
	l.order = l.rng.Perm(len(l.samples))
	l.pos = 0
}

// Next decodes the next batch. It returns io.EOF once the epoch is exhausted.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if l.pos >= len(l.order) {
		return nil, io.EOF
	}
	end := l.pos + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	imgs := make([]image.Image, 0, end-l.pos)
	labels := make([]int, 0, end-l.pos)
	for _, idx := range l.order[l.pos:end] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := l.samples[idx]
		img, err := load(s.Path)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
		labels = append(labels, s.Label)
	}

	t, err := l.pre.PreprocessBatch(imgs)
	if err != nil {
		return nil, fmt.Errorf("preprocess batch failed: %w", err)
	}
	batch := &Batch{Inputs: make([][]float32, len(imgs)), Labels: labels}
	for i := range imgs {
		batch.Inputs[i] = t.Sample(i)
	}
	l.pos = end
	return batch, nil
}

func load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", path, err)
	}
	defer f.Close()

	img, err := vision.DecodeReader(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", path, err)
	}
	return img, nil
}
