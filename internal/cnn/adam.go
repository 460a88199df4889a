package cnn

import "math"

// Adam holds optimizer hyperparameters and the step counter.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	t            int
}

// DefaultAdam mirrors the usual Keras defaults.
func DefaultAdam() Adam {
	return Adam{LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// Step applies one bias-corrected update using the accumulated gradients.
func (a *Adam) Step(ps []*param) {
	a.t++
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, float64(a.t))) / (1 - math.Pow(a.Beta1, float64(a.t)))
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	eps := a.Epsilon
	for _, p := range ps {
		for i, g := range p.g {
			p.m[i] = b1*p.m[i] + (1-b1)*g
			p.v[i] = b2*p.v[i] + (1-b2)*g*g
			p.w[i] -= float32(lr * float64(p.m[i]) / (math.Sqrt(float64(p.v[i])) + eps))
		}
	}
}
