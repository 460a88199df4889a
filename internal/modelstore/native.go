package modelstore

import (
	"fmt"
	"os"

	"mental-cdss/internal/cnn"
	"mental-cdss/internal/vision"
)

// nativeModel serves a network trained by cmd/train.
type nativeModel struct {
	net   *cnn.Network
	shape []int64
}

func openNative(path string) (*nativeModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer f.Close()

	net, err := cnn.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return newNativeModel(net), nil
}

func newNativeModel(net *cnn.Network) *nativeModel {
	a := net.Arch()
	return &nativeModel{
		net:   net,
		shape: []int64{1, int64(a.Height), int64(a.Width), int64(a.Channels)},
	}
}

func (m *nativeModel) InputShape() []int64 { return append([]int64(nil), m.shape...) }
func (m *nativeModel) OutputWidth() int { return m.net.Arch().Classes }
func (m *nativeModel) Labels() []string { return m.net.Labels() }
func (m *nativeModel) Close() error { return nil }

func (m *nativeModel) Predict(t *vision.Tensor) ([]float32, error) {
	return m.net.Predict(t.Sample(0))
}
