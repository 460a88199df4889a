package cnn

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"math/rand"
)

const (
	// MaxInputDim bounds the input height and width an architecture may declare.
	MaxInputDim = 4096
	// maxLayerSize bounds channels, filters, kernel, pool, hidden and classes.
	maxLayerSize = 4096
	// maxParams bounds the total number of trainable weights (256 MiB of float32).
	maxParams = 1 << 26
)

// Arch describes the fixed two-stage conv/pool classifier.
type Arch struct {
	Height   int
	Width    int
	Channels int
	Filters1 int
	Filters2 int
	Kernel   int
	Pool     int
	Hidden   int
	Classes  int
}

// DefaultArch returns Conv(16)-Pool-Conv(32)-Pool-Dense(64)-Dense(classes)
// over size×size RGB input.
func DefaultArch(size, classes int) Arch {
	return Arch{
		Height:   size,
		Width:    size,
		Channels: 3,
		Filters1: 16,
		Filters2: 32,
		Kernel:   3,
		Pool:     2,
		Hidden:   64,
		Classes:  classes,
	}
}

// InputSize is the number of floats in one HWC sample.
func (a Arch) InputSize() int {
	return a.Height * a.Width * a.Channels
}

func (a Arch) stages() (c1h, c1w, p1h, p1w, c2h, c2w, p2h, p2w int) {
	c1h, c1w = a.Height-a.Kernel+1, a.Width-a.Kernel+1
	p1h, p1w = c1h/a.Pool, c1w/a.Pool
	c2h, c2w = p1h-a.Kernel+1, p1w-a.Kernel+1
	p2h, p2w = c2h/a.Pool, c2w/a.Pool
	return
}

// Validate reports whether every layer of the architecture has a positive,
// bounded size and the total weight count stays under maxParams.
func (a Arch) Validate() error {
	_, err := a.paramSizes()
	return err
}

// paramSizes returns the length of every trainable tensor in params() order.
func (a Arch) paramSizes() ([]int, error) {
	if a.Channels <= 0 || a.Filters1 <= 0 || a.Filters2 <= 0 || a.Kernel <= 0 || a.Pool <= 0 || a.Hidden <= 0 {
		return nil, errors.New("cnn: layer sizes must be > 0")
	}
	if a.Classes < 2 {
		return nil, fmt.Errorf("cnn: need at least 2 classes (got %d)", a.Classes)
	}
	if a.Height <= 0 || a.Width <= 0 || a.Height > MaxInputDim || a.Width > MaxInputDim {
		return nil, fmt.Errorf("cnn: input %dx%d outside 1..%d", a.Height, a.Width, MaxInputDim)
	}
	for _, v := range []int{a.Channels, a.Filters1, a.Filters2, a.Kernel, a.Pool, a.Hidden, a.Classes} {
		if v > maxLayerSize {
			return nil, fmt.Errorf("cnn: layer size %d exceeds %d", v, maxLayerSize)
		}
	}
	_, _, _, _, _, _, p2h, p2w := a.stages()
	if p2h <= 0 || p2w <= 0 {
		return nil, fmt.Errorf("cnn: input %dx%d too small for architecture", a.Height, a.Width)
	}

	sizes := []int{
		mul(a.Kernel, a.Kernel, a.Channels, a.Filters1), a.Filters1,
		mul(a.Kernel, a.Kernel, a.Filters1, a.Filters2), a.Filters2,
		mul(p2h, p2w, a.Filters2, a.Hidden), a.Hidden,
		mul(a.Hidden, a.Classes), a.Classes,
	}
	total := 0
	for _, n := range sizes {
		if n < 0 || n > maxParams-total {
			return nil, fmt.Errorf("cnn: architecture exceeds %d parameters", maxParams)
		}
		total += n
	}
	return sizes, nil
}

// mul multiplies non-negative factors and returns -1 on overflow.
func mul(factors ...int) int {
	out := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(out, uint64(f))
		if hi != 0 || lo > math.MaxInt64 {
			return -1
		}
		out = lo
	}
	return int(out)
}

// Network is a small convolutional classifier with a softmax head.
// Predict is safe for concurrent use; TrainBatch is not.
type Network struct {
	arch   Arch
	labels []string

	conv1  *conv2D
	pool1  *maxPool2D
	conv2  *conv2D
	pool2  *maxPool2D
	dense1 *dense
	dense2 *dense

	opt Adam
}

// New builds a network with Glorot-uniform weights and zero biases.
func New(arch Arch, labels []string, seed int64) (*Network, error) {
	n, err := build(arch, labels)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	k2 := arch.Kernel * arch.Kernel
	n.conv1.w.glorot(rng, k2*arch.Channels, k2*arch.Filters1)
	n.conv2.w.glorot(rng, k2*arch.Filters1, k2*arch.Filters2)
	n.dense1.w.glorot(rng, n.dense1.in, n.dense1.out)
	n.dense2.w.glorot(rng, n.dense2.in, n.dense2.out)
	return n, nil
}

func build(arch Arch, labels []string) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if len(labels) != arch.Classes {
		return nil, fmt.Errorf("cnn: %d labels for %d classes", len(labels), arch.Classes)
	}
	c1h, c1w, p1h, p1w, _, _, p2h, p2w := arch.stages()
	n := &Network{
		arch:   arch,
		labels: append([]string(nil), labels...),
		opt:    DefaultAdam(),
	}
	n.conv1 = newConv2D(arch.Height, arch.Width, arch.Channels, arch.Kernel, arch.Filters1)
	n.pool1 = newMaxPool2D(c1h, c1w, arch.Filters1, arch.Pool)
	n.conv2 = newConv2D(p1h, p1w, arch.Filters1, arch.Kernel, arch.Filters2)
	n.pool2 = newMaxPool2D(n.conv2.outH, n.conv2.outW, arch.Filters2, arch.Pool)
	n.dense1 = newDense(p2h*p2w*arch.Filters2, arch.Hidden, true)
	n.dense2 = newDense(arch.Hidden, arch.Classes, false)
	return n, nil
}

func (n *Network) Arch() Arch { return n.arch }

// Labels returns the class names in output order.
func (n *Network) Labels() []string {
	return append([]string(nil), n.labels...)
}

// SetLearningRate overrides the optimizer step size.
func (n *Network) SetLearningRate(lr float64) {
	if lr > 0 {
		n.opt.LearningRate = lr
	}
}

func (n *Network) params() []*param {
	return []*param{
		n.conv1.w, n.conv1.b,
		n.conv2.w, n.conv2.b,
		n.dense1.w, n.dense1.b,
		n.dense2.w, n.dense2.b,
	}
}

type trace struct {
	x      []float32
	c1, p1 []float32
	i1     []int32
	c2, p2 []float32
	i2     []int32
	h      []float32
	probs  []float32
}

func (n *Network) forward(x []float32) *trace {
	t := &trace{x: x}
	t.c1 = n.conv1.forward(x)
	t.p1, t.i1 = n.pool1.forward(t.c1)
	t.c2 = n.conv2.forward(t.p1)
	t.p2, t.i2 = n.pool2.forward(t.c2)
	t.h = n.dense1.forward(t.p2)
	t.probs = softmax(n.dense2.forward(t.h))
	return t
}

// Predict returns class probabilities for one HWC sample.
func (n *Network) Predict(x []float32) ([]float32, error) {
	if len(x) != n.arch.InputSize() {
		return nil, fmt.Errorf("cnn: input has %d values, want %d", len(x), n.arch.InputSize())
	}
	return n.forward(x).probs, nil
}

func (n *Network) backward(t *trace, label int) {
	// softmax + categorical cross-entropy
	dLogits := append([]float32(nil), t.probs...)
	dLogits[label] -= 1

	dH := make([]float32, len(t.h))
	n.dense2.backward(t.h, nil, dLogits, dH)

	dP2 := make([]float32, len(t.p2))
	n.dense1.backward(t.p2, t.h, dH, dP2)

	dC2 := make([]float32, len(t.c2))
	n.pool2.backward(t.i2, dP2, dC2)

	dP1 := make([]float32, len(t.p1))
	n.conv2.backward(t.p1, t.c2, dC2, dP1)

	dC1 := make([]float32, len(t.c1))
	n.pool1.backward(t.i1, dP1, dC1)

	n.conv1.backward(t.x, t.c1, dC1, nil)
}

// TrainBatch runs one optimizer step over a batch of flat HWC samples and
// returns the mean cross-entropy loss and the number of correct predictions.
func (n *Network) TrainBatch(inputs [][]float32, labels []int) (float64, int, error) {
	if len(inputs) == 0 {
		return 0, 0, errors.New("cnn: empty batch")
	}
	if len(inputs) != len(labels) {
		return 0, 0, fmt.Errorf("cnn: %d inputs for %d labels", len(inputs), len(labels))
	}
	ps := n.params()
	for _, p := range ps {
		p.ensureGrad()
		p.zeroGrad()
	}

	loss := 0.0
	correct := 0
	for i, x := range inputs {
		if len(x) != n.arch.InputSize() {
			return 0, 0, fmt.Errorf("cnn: sample %d has %d values, want %d", i, len(x), n.arch.InputSize())
		}
		label := labels[i]
		if label < 0 || label >= n.arch.Classes {
			return 0, 0, fmt.Errorf("cnn: label %d out of range", label)
		}
		t := n.forward(x)
		loss += -math.Log(math.Max(float64(t.probs[label]), 1e-7))
		if Argmax(t.probs) == label {
			correct++
		}
		n.backward(t, label)
	}

	scale := 1 / float32(len(inputs))
	for _, p := range ps {
		for i := range p.g {
			p.g[i] *= scale
		}
	}
	n.opt.Step(ps)
	return loss / float64(len(inputs)), correct, nil
}

// Argmax returns the index of the largest value; ties resolve to the lowest index.
func Argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
