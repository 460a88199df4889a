package modelstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mental-cdss/internal/cnn"
	"mental-cdss/internal/inference"
	"mental-cdss/internal/logging"
	"mental-cdss/internal/vision"
)

func artifactBytes(t *testing.T, labels []string) []byte {
	t.Helper()
	arch := cnn.DefaultArch(16, len(labels))
	arch.Filters1, arch.Filters2, arch.Hidden = 2, 2, 4
	net, err := cnn.New(arch, labels, 1)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, net.Save(&buf))
	return buf.Bytes()
}

type countingSource struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (s *countingSource) Fetch(ctx context.Context, w io.Writer) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	_, err := w.Write(s.data)
	return err
}

func TestProviderDownloadsOnceAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model", "best_model.bin")
	src := &countingSource{data: artifactBytes(t, []string{"Depresi", "Normal"})}
	p := NewProvider(Options{Path: path, Source: src})

	first, err := p.Model(context.Background())
	require.NoError(t, err)
	second, err := p.Model(context.Background())
	require.NoError(t, err)

	require.Same(t, first, second)
	require.EqualValues(t, 1, src.calls.Load())
	require.FileExists(t, path)
	require.True(t, p.Loaded())
	require.Equal(t, []string{"Depresi", "Normal"}, first.Labels())
}

func TestProviderConcurrentFirstCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_model.bin")
	src := &countingSource{data: artifactBytes(t, []string{"a", "b"})}
	p := NewProvider(Options{Path: path, Source: src})

	var wg sync.WaitGroup
	models := make([]Model, 8)
	for i := range models {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := p.Model(context.Background())
			assert.NoError(t, err)
			models[i] = m
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, src.calls.Load())
	for _, m := range models {
		require.Same(t, models[0], m)
	}
}

func TestProviderLocalArtifactSkipsDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_model.bin")
	require.NoError(t, os.WriteFile(path, artifactBytes(t, []string{"a", "b"}), 0o644))
	src := &countingSource{}

	m, err := NewProvider(Options{Path: path, Source: src}).Model(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 16, 16, 3}, m.InputShape())
	require.Equal(t, 2, m.OutputWidth())
	require.Zero(t, src.calls.Load())
}

func TestProviderUnreachableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srv.Close()

	dir := filepath.Join(t.TempDir(), "model")
	path := filepath.Join(dir, "best_model.bin")
	p := NewProvider(Options{Path: path, Source: NewHTTPSource(srv.URL, time.Second)})

	_, err := p.Model(context.Background())
	require.ErrorIs(t, err, ErrArtifactUnavailable)
	require.NoFileExists(t, path)
	require.False(t, p.Loaded())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProviderBadStatusLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "best_model.bin")
	_, err := NewProvider(Options{Path: path, Source: NewHTTPSource(srv.URL, time.Second)}).Model(context.Background())
	require.ErrorIs(t, err, ErrArtifactUnavailable)
	require.NoFileExists(t, path)
}

func TestProviderHTTPDownload(t *testing.T) {
	data := artifactBytes(t, []string{"a", "b"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "dir", "best_model.bin")
	m, err := NewProvider(Options{
		Path:   path,
		Source: NewHTTPSource(srv.URL, time.Second),
		Logger: logging.NewWithOutput("info", &logs),
	}).Model(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, m.OutputWidth())
	require.Contains(t, logs.String(), srv.URL)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, onDisk)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestProviderMissingWithoutSource(t *testing.T) {
	_, err := NewProvider(Options{Path: filepath.Join(t.TempDir(), "x.bin")}).Model(context.Background())
	require.ErrorIs(t, err, ErrArtifactUnavailable)
}

func TestProviderCorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_model.bin")
	require.NoError(t, os.WriteFile(path, []byte("this is not a network"), 0o644))

	_, err := NewProvider(Options{Path: path}).Model(context.Background())
	require.ErrorIs(t, err, ErrModelLoad)
}

func TestProviderManifestChecks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "best_model.bin")
	require.NoError(t, os.WriteFile(path, artifactBytes(t, []string{"Depresi", "Normal"}), 0o644))
	sum, err := Checksum(path)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, WriteManifest(ManifestPath(path), &Manifest{Format: FormatNative, Labels: []string{"Depresi", "Normal"}, Checksum: sum}))
		p := NewProvider(Options{Path: path})
		_, err := p.Model(context.Background())
		require.NoError(t, err)
		require.Equal(t, sum, p.Manifest().Checksum)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		require.NoError(t, WriteManifest(ManifestPath(path), &Manifest{Format: FormatNative, Checksum: "deadbeef"}))
		_, err := NewProvider(Options{Path: path}).Model(context.Background())
		require.ErrorIs(t, err, ErrModelLoad)
	})

	t.Run("label order differs", func(t *testing.T) {
		require.NoError(t, WriteManifest(ManifestPath(path), &Manifest{Format: FormatNative, Labels: []string{"Normal", "Depresi"}, Checksum: sum}))
		_, err := NewProvider(Options{Path: path}).Model(context.Background())
		require.ErrorIs(t, err, inference.ErrLabelMismatch)
	})

	t.Run("unknown format", func(t *testing.T) {
		require.NoError(t, WriteManifest(ManifestPath(path), &Manifest{Format: "h5"}))
		_, err := NewProvider(Options{Path: path}).Model(context.Background())
		require.ErrorIs(t, err, ErrModelLoad)
	})
}

func TestNativeModelPredict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_model.bin")
	require.NoError(t, os.WriteFile(path, artifactBytes(t, []string{"a", "b"}), 0o644))
	m, err := NewProvider(Options{Path: path}).Model(context.Background())
	require.NoError(t, err)

	tensor := &vision.Tensor{Shape: []int64{1, 16, 16, 3}, Data: make([]float32, 16*16*3)}
	d, err := inference.Diagnose(tensor, m, []string{"a", "b"})
	require.NoError(t, err)
	require.Contains(t, []string{"a", "b"}, d.Label)
}

func TestWriteAtomicFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	err := WriteAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return io.ErrUnexpectedEOF
	})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadManifestMissing(t *testing.T) {
	m, err := ReadManifest(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Nil(t, m)
}
