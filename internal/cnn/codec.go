package cnn

import (
	"bufio"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// Magic prefixes every serialized network.
const Magic = "MHCNN1\n"

// ErrCorrupt is returned when an artifact cannot be decoded into a network.
var ErrCorrupt = errors.New("cnn: corrupt or incompatible artifact")

type snapshot struct {
	Arch   Arch
	Labels []string
	Params [][]float32
}

// Save writes architecture, labels and weights to w.
func (n *Network) Save(w io.Writer) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return fmt.Errorf("write header failed: %w", err)
	}
	zw := gzip.NewWriter(w)
	snap := snapshot{Arch: n.arch, Labels: n.labels}
	for _, p := range n.params() {
		snap.Params = append(snap.Params, p.w)
	}
	if err := gob.NewEncoder(zw).Encode(&snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode network failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush network failed: %w", err)
	}
	return nil
}

// Load reads a network previously written by Save.
func Load(r io.Reader) (*Network, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, header); err != nil || string(header) != Magic {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	var snap snapshot
	if err := gob.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// Sizes are checked against the decoded weights before anything is allocated.
	sizes, err := snap.Arch.paramSizes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(snap.Params) != len(sizes) {
		return nil, fmt.Errorf("%w: %d parameter tensors, want %d", ErrCorrupt, len(snap.Params), len(sizes))
	}
	for i, size := range sizes {
		if len(snap.Params[i]) != size {
			return nil, fmt.Errorf("%w: tensor %d has %d values, want %d", ErrCorrupt, i, len(snap.Params[i]), size)
		}
	}

	n, err := build(snap.Arch, snap.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for i, p := range n.params() {
		p.w = snap.Params[i]
	}
	return n, nil
}
