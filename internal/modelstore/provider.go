package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mental-cdss/internal/inference"
)

var (
	ErrArtifactUnavailable = errors.New("model artifact unavailable")
	ErrModelLoad           = errors.New("model load failed")
)

// Model is a loaded classifier that can be handed to inference.NewEngine.
type Model interface {
	inference.Model
	// Labels returns the class order stored with the artifact, or nil.
	Labels() []string
	Close() error
}

type Options struct {
	Path            string
	Source          Source
	DownloadTimeout time.Duration
	ONNXLibPath     string
	Logger          logrus.FieldLogger
}

// Provider resolves the artifact on disk, downloads it when missing and
// loads it once. Later calls return the cached instance.
type Provider struct {
	mu sync.Mutex

	path            string
	source          Source
	downloadTimeout time.Duration
	onnxLibPath     string
	log             logrus.FieldLogger

	model    Model
	manifest *Manifest
	loaded   bool
}

func NewProvider(opts Options) *Provider {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	return &Provider{
		path:            opts.Path,
		source:          opts.Source,
		downloadTimeout: opts.DownloadTimeout,
		onnxLibPath:     opts.ONNXLibPath,
		log:             opts.Logger.WithField("component", "modelstore"),
	}
}

func (p *Provider) Path() string { return p.path }

// Model returns the loaded model, fetching and decoding the artifact on the
// first successful call. A failed attempt leaves the provider unloaded.
func (p *Provider) Model(ctx context.Context) (Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return p.model, nil
	}

	if err := p.ensureArtifact(ctx); err != nil {
		return nil, err
	}

	manifest, err := ReadManifest(ManifestPath(p.path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if manifest != nil && manifest.Checksum != "" {
		sum, err := Checksum(p.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		if sum != manifest.Checksum {
			return nil, fmt.Errorf("%w: checksum %s does not match manifest %s", ErrModelLoad, sum, manifest.Checksum)
		}
	}

	start := time.Now()
	model, err := p.open(manifest)
	if err != nil {
		return nil, err
	}
	if manifest != nil && len(manifest.Labels) > 0 {
		if embedded := model.Labels(); embedded != nil && !slices.Equal(embedded, manifest.Labels) {
			_ = model.Close()
			return nil, fmt.Errorf("%w: artifact labels %v differ from manifest %v", inference.ErrLabelMismatch, embedded, manifest.Labels)
		}
	}

	p.log.WithFields(logrus.Fields{
		"path":        p.path,
		"input_shape": model.InputShape(),
		"classes":     model.OutputWidth(),
		"elapsed":     time.Since(start).String(),
	}).Info("model loaded")

	p.model = model
	p.manifest = manifest
	p.loaded = true
	return model, nil
}

// Manifest returns the sidecar read during load, or nil.
func (p *Provider) Manifest() *Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest
}

func (p *Provider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	p.loaded = false
	return err
}

func (p *Provider) ensureArtifact(ctx context.Context) error {
	info, err := os.Stat(p.path)
	if err == nil {
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrArtifactUnavailable, p.path)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	if p.source == nil {
		return fmt.Errorf("%w: %s not found and no remote source configured", ErrArtifactUnavailable, p.path)
	}

	entry := p.log.WithField("path", p.path)
	if u, ok := p.source.(interface{ URL() string }); ok {
		entry = entry.WithField("url", u.URL())
	}
	entry.Info("model artifact missing, downloading")
	start := time.Now()

	dlCtx, cancel := context.WithTimeout(ctx, p.downloadTimeout)
	defer cancel()
	err = WriteAtomic(p.path, func(w io.Writer) error {
		return p.source.Fetch(dlCtx, w)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}

	p.log.WithFields(logrus.Fields{
		"path":    p.path,
		"elapsed": time.Since(start).String(),
	}).Info("model artifact downloaded")
	return nil
}

func (p *Provider) open(manifest *Manifest) (Model, error) {
	format := FormatNative
	if strings.EqualFold(filepath.Ext(p.path), ".onnx") {
		format = FormatONNX
	}
	var labels []string
	if manifest != nil {
		if manifest.Format != "" {
			format = manifest.Format
		}
		labels = manifest.Labels
	}

	switch format {
	case FormatNative:
		return openNative(p.path)
	case FormatONNX:
		return openONNX(p.path, p.onnxLibPath, labels)
	default:
		return nil, fmt.Errorf("%w: unknown artifact format %q", ErrModelLoad, format)
	}
}
