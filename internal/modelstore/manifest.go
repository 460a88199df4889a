package modelstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	FormatNative = "native"
	FormatONNX   = "onnx"
)

// Manifest is the sidecar written next to an artifact. It pins the label
// order used at training time so serving never relies on a second list.
type Manifest struct {
	Format     string    `json:"format"`
	Labels     []string  `json:"labels"`
	InputShape []int64   `json:"input_shape"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	Epochs     int       `json:"epochs,omitempty"`
	BatchSize  int       `json:"batch_size,omitempty"`
	Loss       float64   `json:"loss,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
}

func ManifestPath(artifactPath string) string {
	return artifactPath + ".manifest.json"
}

// ReadManifest returns nil, nil when no manifest exists.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest failed: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest failed: %w", err)
	}
	return &m, nil
}

func WriteManifest(path string, m *Manifest) error {
	return WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

// Checksum returns the hex blake2b-256 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact failed: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteAtomic writes to a temp file in the target directory and renames it
// into place, so readers never observe a partially written file.
func WriteAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s failed: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file failed: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := write(tmp); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file failed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s failed: %w", path, err)
	}
	return nil
}
