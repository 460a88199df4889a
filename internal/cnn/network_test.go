package cnn

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func tinyArch() Arch {
	a := DefaultArch(16, 2)
	a.Filters1, a.Filters2, a.Hidden = 4, 6, 8
	return a
}

// stripes yields two linearly separable classes: bright left half vs bright right half.
func stripes(arch Arch, n int, seed int64) ([][]float32, []int) {
	rng := rand.New(rand.NewSource(seed))
	inputs := make([][]float32, n)
	labels := make([]int, n)
	for s := 0; s < n; s++ {
		label := s % 2
		x := make([]float32, arch.InputSize())
		for y := 0; y < arch.Height; y++ {
			for col := 0; col < arch.Width; col++ {
				bright := (col < arch.Width/2) == (label == 0)
				v := float32(rng.Float64() * 0.2)
				if bright {
					v += 0.8
				}
				for c := 0; c < arch.Channels; c++ {
					x[(y*arch.Width+col)*arch.Channels+c] = v
				}
			}
		}
		inputs[s], labels[s] = x, label
	}
	return inputs, labels
}

func TestArchValidate(t *testing.T) {
	require.NoError(t, DefaultArch(150, 2).Validate())
	require.Error(t, DefaultArch(4, 2).Validate())
	require.Error(t, DefaultArch(150, 1).Validate())
	require.Error(t, DefaultArch(MaxInputDim+1, 2).Validate())
	require.Error(t, DefaultArch(MaxInputDim, 2).Validate(), "dense layer over the parameter cap")

	wide := DefaultArch(150, 2)
	wide.Hidden = maxLayerSize + 1
	require.Error(t, wide.Validate())
}

func TestPredictIsDistribution(t *testing.T) {
	arch := tinyArch()
	n, err := New(arch, []string{"a", "b"}, 1)
	require.NoError(t, err)

	inputs, _ := stripes(arch, 1, 3)
	probs, err := n.Predict(inputs[0])
	require.NoError(t, err)
	require.Len(t, probs, 2)
	require.InDelta(t, 1.0, float64(probs[0]+probs[1]), 1e-5)

	_, err = n.Predict(make([]float32, 5))
	require.Error(t, err)
}

func TestTrainBatchReducesLoss(t *testing.T) {
	arch := tinyArch()
	n, err := New(arch, []string{"left", "right"}, 7)
	require.NoError(t, err)
	n.SetLearningRate(0.01)

	inputs, labels := stripes(arch, 16, 11)
	first, _, err := n.TrainBatch(inputs, labels)
	require.NoError(t, err)

	var last float64
	var correct int
	for i := 0; i < 60; i++ {
		last, correct, err = n.TrainBatch(inputs, labels)
		require.NoError(t, err)
	}
	require.Less(t, last, first)
	require.GreaterOrEqual(t, correct, 12)
}

func TestTrainBatchRejectsBadInput(t *testing.T) {
	n, err := New(tinyArch(), []string{"a", "b"}, 1)
	require.NoError(t, err)

	_, _, err = n.TrainBatch(nil, nil)
	require.Error(t, err)
	_, _, err = n.TrainBatch([][]float32{make([]float32, 3)}, []int{0})
	require.Error(t, err)
	inputs, _ := stripes(tinyArch(), 1, 1)
	_, _, err = n.TrainBatch(inputs, []int{5})
	require.Error(t, err)
}

func TestArgmaxTieBreak(t *testing.T) {
	require.Equal(t, 0, Argmax([]float32{0.5, 0.5}))
	require.Equal(t, 1, Argmax([]float32{0.1, 0.9}))
	require.Equal(t, 1, Argmax([]float32{0.2, 0.4, 0.4}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	arch := tinyArch()
	n, err := New(arch, []string{"Depresi", "Normal"}, 5)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.Save(&buf))

	loaded, err := Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, arch, loaded.Arch())
	require.Equal(t, []string{"Depresi", "Normal"}, loaded.Labels())

	inputs, _ := stripes(arch, 1, 2)
	want, err := n.Predict(inputs[0])
	require.NoError(t, err)
	got, err := loaded.Predict(inputs[0])
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadCorrupt(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a model")))
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Load(bytes.NewReader([]byte(Magic + "garbage")))
	require.ErrorIs(t, err, ErrCorrupt)

	good, err := New(tinyArch(), []string{"a", "b"}, 1)
	require.NoError(t, err)
	goodParams := make([][]float32, 0, 8)
	for _, p := range good.params() {
		goodParams = append(goodParams, p.w)
	}

	tests := []struct {
		name string
		snap snapshot
	}{
		{name: "oversized input", snap: snapshot{Arch: DefaultArch(40000, 2), Labels: []string{"a", "b"}}},
		{name: "missing tensors", snap: snapshot{Arch: tinyArch(), Labels: []string{"a", "b"}, Params: goodParams[:3]}},
		{name: "short tensor", snap: snapshot{Arch: tinyArch(), Labels: []string{"a", "b"}, Params: append(append([][]float32(nil), goodParams[:7]...), []float32{1})}},
		{name: "label count", snap: snapshot{Arch: tinyArch(), Labels: []string{"a"}, Params: goodParams}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(encodeSnapshot(t, tt.snap)))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func encodeSnapshot(t *testing.T, snap snapshot) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(Magic)
	zw := gzip.NewWriter(&buf)
	require.NoError(t, gob.NewEncoder(zw).Encode(&snap))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
