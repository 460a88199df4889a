package cnn

import (
	"math"
	"math/rand"
)

// param is one trainable tensor plus its gradient accumulator and Adam moments.
// Gradient and moment buffers are only allocated once training starts.
type param struct {
	w    []float32
	g    []float32
	m, v []float32
}

func newParam(n int) *param {
	return &param{w: make([]float32, n)}
}

func (p *param) glorot(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.w {
		p.w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

func (p *param) ensureGrad() {
	if p.g == nil {
		p.g = make([]float32, len(p.w))
		p.m = make([]float32, len(p.w))
		p.v = make([]float32, len(p.w))
	}
}

func (p *param) zeroGrad() {
	for i := range p.g {
		p.g[i] = 0
	}
}

// conv2D is a stride-1, valid-padding convolution followed by ReLU.
// Activations are HWC; weights are laid out [ky][kx][inC][filters].
type conv2D struct {
	inH, inW, inC int
	k, filters    int
	outH, outW    int
	w, b          *param
}

func newConv2D(inH, inW, inC, k, filters int) *conv2D {
	return &conv2D{
		inH: inH, inW: inW, inC: inC,
		k: k, filters: filters,
		outH: inH - k + 1, outW: inW - k + 1,
		w: newParam(k * k * inC * filters),
		b: newParam(filters),
	}
}

func (c *conv2D) forward(in []float32) []float32 {
	out := make([]float32, c.outH*c.outW*c.filters)
	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			acc := out[(oy*c.outW+ox)*c.filters : (oy*c.outW+ox+1)*c.filters]
			copy(acc, c.b.w)
			for ky := 0; ky < c.k; ky++ {
				for kx := 0; kx < c.k; kx++ {
					inOff := ((oy+ky)*c.inW + ox + kx) * c.inC
					wOff := (ky*c.k + kx) * c.inC * c.filters
					for ch := 0; ch < c.inC; ch++ {
						x := in[inOff+ch]
						if x == 0 {
							continue
						}
						row := c.w.w[wOff+ch*c.filters : wOff+(ch+1)*c.filters]
						for f, wv := range row {
							acc[f] += x * wv
						}
					}
				}
			}
			for f := range acc {
				if acc[f] < 0 {
					acc[f] = 0
				}
			}
		}
	}
	return out
}

// backward accumulates parameter gradients. dIn may be nil for the first layer.
func (c *conv2D) backward(in, out, dOut, dIn []float32) {
	dz := make([]float32, c.filters)
	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			base := (oy*c.outW + ox) * c.filters
			active := false
			for f := 0; f < c.filters; f++ {
				if out[base+f] > 0 {
					dz[f] = dOut[base+f]
					if dz[f] != 0 {
						active = true
					}
				} else {
					dz[f] = 0
				}
			}
			if !active {
				continue
			}
			for f, d := range dz {
				c.b.g[f] += d
			}
			for ky := 0; ky < c.k; ky++ {
				for kx := 0; kx < c.k; kx++ {
					inOff := ((oy+ky)*c.inW + ox + kx) * c.inC
					wOff := (ky*c.k + kx) * c.inC * c.filters
					for ch := 0; ch < c.inC; ch++ {
						x := in[inOff+ch]
						lo := wOff + ch*c.filters
						grow := c.w.g[lo : lo+c.filters]
						wrow := c.w.w[lo : lo+c.filters]
						var s float32
						for f, d := range dz {
							grow[f] += x * d
							s += wrow[f] * d
						}
						if dIn != nil {
							dIn[inOff+ch] += s
						}
					}
				}
			}
		}
	}
}

// maxPool2D is a non-overlapping max pool; trailing rows and columns are dropped.
type maxPool2D struct {
	inH, inW, ch int
	size         int
	outH, outW   int
}

func newMaxPool2D(inH, inW, ch, size int) *maxPool2D {
	return &maxPool2D{inH: inH, inW: inW, ch: ch, size: size, outH: inH / size, outW: inW / size}
}

func (p *maxPool2D) forward(in []float32) ([]float32, []int32) {
	out := make([]float32, p.outH*p.outW*p.ch)
	idx := make([]int32, len(out))
	for oy := 0; oy < p.outH; oy++ {
		for ox := 0; ox < p.outW; ox++ {
			for c := 0; c < p.ch; c++ {
				best := int32(((oy*p.size)*p.inW+ox*p.size)*p.ch + c)
				for dy := 0; dy < p.size; dy++ {
					for dx := 0; dx < p.size; dx++ {
						i := int32(((oy*p.size+dy)*p.inW+ox*p.size+dx)*p.ch + c)
						if in[i] > in[best] {
							best = i
						}
					}
				}
				o := (oy*p.outW+ox)*p.ch + c
				out[o] = in[best]
				idx[o] = best
			}
		}
	}
	return out, idx
}

func (p *maxPool2D) backward(idx []int32, dOut, dIn []float32) {
	for o, i := range idx {
		dIn[i] += dOut[o]
	}
}

// dense is a fully connected layer with weights laid out [out][in].
type dense struct {
	in, out int
	relu    bool
	w, b    *param
}

func newDense(in, out int, relu bool) *dense {
	return &dense{in: in, out: out, relu: relu, w: newParam(in * out), b: newParam(out)}
}

func (d *dense) forward(x []float32) []float32 {
	out := make([]float32, d.out)
	for j := 0; j < d.out; j++ {
		row := d.w.w[j*d.in : (j+1)*d.in]
		s := d.b.w[j]
		for i, wv := range row {
			s += wv * x[i]
		}
		if d.relu && s < 0 {
			s = 0
		}
		out[j] = s
	}
	return out
}

// backward takes the gradient w.r.t. the layer output (post-activation).
func (d *dense) backward(x, out, dOut, dIn []float32) {
	for j := 0; j < d.out; j++ {
		dz := dOut[j]
		if d.relu && out[j] <= 0 {
			continue
		}
		if dz == 0 {
			continue
		}
		d.b.g[j] += dz
		lo := j * d.in
		grow := d.w.g[lo : lo+d.in]
		wrow := d.w.w[lo : lo+d.in]
		for i := range grow {
			grow[i] += dz * x[i]
			if dIn != nil {
				dIn[i] += dz * wrow[i]
			}
		}
	}
}

func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float32, len(logits))
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}
	for i := range out {
		out[i] = float32(exps[i] / sum)
	}
	return out
}
