package inference

import (
	"errors"
	"fmt"
	"math"

	"mental-cdss/internal/vision"
)

// DefaultPrecision is the number of decimals kept in Confidence.
const DefaultPrecision = 2

// NumClasses is the size of the label set the classifier serves.
const NumClasses = 2

var (
	ErrShapeMismatch = errors.New("tensor shape does not match model input")
	ErrLabelMismatch = errors.New("label count does not match model output")
)

// Model is a loaded classifier producing one probability vector per sample.
type Model interface {
	// InputShape is the expected NHWC shape; non-positive entries are dynamic.
	InputShape() []int64
	OutputWidth() int
	Predict(t *vision.Tensor) ([]float32, error)
}

// LabelScore holds a class label and its probability.
type LabelScore struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Diagnosis is the interpreted output of one forward pass.
type Diagnosis struct {
	Label      string       `json:"label"`
	Index      int          `json:"index"`
	Confidence float64      `json:"confidence"`
	Scores     []LabelScore `json:"scores"`
}

// Engine runs a model and maps its output onto a fixed label set.
type Engine struct {
	model     Model
	labels    []string
	precision int
}

// NewEngine checks that labels line up with the model output before any request is served.
func NewEngine(model Model, labels []string, precision int) (*Engine, error) {
	if model == nil {
		return nil, errors.New("inference: model is nil")
	}
	if len(labels) != NumClasses {
		return nil, fmt.Errorf("%w: %d labels, the classifier serves exactly %d", ErrLabelMismatch, len(labels), NumClasses)
	}
	if len(labels) != model.OutputWidth() {
		return nil, fmt.Errorf("%w: %d labels, model outputs %d", ErrLabelMismatch, len(labels), model.OutputWidth())
	}
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Engine{
		model:     model,
		labels:    append([]string(nil), labels...),
		precision: precision,
	}, nil
}

// Diagnose is a one-shot convenience around NewEngine and Engine.Diagnose.
func Diagnose(t *vision.Tensor, model Model, labels []string) (*Diagnosis, error) {
	e, err := NewEngine(model, labels, DefaultPrecision)
	if err != nil {
		return nil, err
	}
	return e.Diagnose(t)
}

func (e *Engine) Labels() []string {
	return append([]string(nil), e.labels...)
}

// Diagnose runs one forward pass. The label is the arg-max class with the
// lowest index winning ties; confidence is that probability as a percentage.
func (e *Engine) Diagnose(t *vision.Tensor) (*Diagnosis, error) {
	if err := checkShape(t, e.model.InputShape()); err != nil {
		return nil, err
	}
	probs, err := e.model.Predict(t)
	if err != nil {
		return nil, fmt.Errorf("model predict failed: %w", err)
	}
	if len(probs) != len(e.labels) {
		return nil, fmt.Errorf("%w: %d labels, model returned %d values", ErrLabelMismatch, len(e.labels), len(probs))
	}

	best := 0
	scores := make([]LabelScore, len(probs))
	for i, p := range probs {
		scores[i] = LabelScore{Label: e.labels[i], Index: i, Score: p}
		if p > probs[best] {
			best = i
		}
	}

	return &Diagnosis{
		Label:      e.labels[best],
		Index:      best,
		Confidence: e.percent(probs[best]),
		Scores:     scores,
	}, nil
}

func (e *Engine) percent(p float32) float64 {
	v := float64(p) * 100
	switch {
	case math.IsNaN(v) || v < 0:
		v = 0
	case v > 100:
		v = 100
	}
	scale := math.Pow(10, float64(e.precision))
	return math.Round(v*scale) / scale
}

func checkShape(t *vision.Tensor, want []int64) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if len(t.Shape) == 0 || t.Shape[0] != 1 {
		return fmt.Errorf("%w: batch dimension must be 1, got %v", ErrShapeMismatch, t.Shape)
	}
	if len(t.Shape) != len(want) {
		return fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, t.Shape, want)
	}
	n := int64(1)
	for i, d := range t.Shape {
		if want[i] > 0 && d != want[i] {
			return fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, t.Shape, want)
		}
		n *= d
	}
	if int64(len(t.Data)) != n {
		return fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(t.Data), t.Shape)
	}
	return nil
}
