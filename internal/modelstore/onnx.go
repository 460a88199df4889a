package modelstore

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"mental-cdss/internal/vision"
)

var ortInitMu sync.Mutex

// onnxModel serves a classifier exported to ONNX (e.g. from Keras via tf2onnx).
// The session binds fixed input/output tensors, so Run is serialized.
type onnxModel struct {
	mu sync.Mutex

	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	inputShape  []int64
	outputWidth int
	labels      []string
}

func initEnvironment(libPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

func openONNX(path, libPath string, labels []string) (*onnxModel, error) {
	if err := initEnvironment(libPath); err != nil {
		return nil, fmt.Errorf("%w: onnx init environment: %v", ErrModelLoad, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: onnx get input/output info: %v", ErrModelLoad, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: onnx model has no inputs or outputs", ErrModelLoad)
	}

	inputShape := fixedShape(inputs[0].Dimensions)
	outputShape := fixedShape(outputs[0].Dimensions)
	if len(inputShape) != 4 || inputShape[1] <= 0 || inputShape[2] <= 0 || inputShape[3] != vision.Channels {
		return nil, fmt.Errorf("%w: onnx input shape %v is not NHWC RGB", ErrModelLoad, inputShape)
	}
	if len(outputShape) != 2 || outputShape[1] <= 0 {
		return nil, fmt.Errorf("%w: onnx output shape %v is not [batch, classes]", ErrModelLoad, outputShape)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, fmt.Errorf("%w: onnx new input tensor: %v", ErrModelLoad, err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: onnx new output tensor: %v", ErrModelLoad, err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return nil, fmt.Errorf("%w: onnx new session: %v", ErrModelLoad, err)
	}

	return &onnxModel{
		session:     session,
		input:       inputTensor,
		output:      outputTensor,
		inputShape:  inputShape,
		outputWidth: int(outputShape[1]),
		labels:      labels,
	}, nil
}

// fixedShape pins a dynamic batch dimension (-1) to 1; inference always
// runs one image. Other dimensions are left as exported.
func fixedShape(dims ort.Shape) []int64 {
	out := append([]int64(nil), dims...)
	if len(out) > 0 && out[0] <= 0 {
		out[0] = 1
	}
	return out
}

func (m *onnxModel) InputShape() []int64 { return append([]int64(nil), m.inputShape...) }
func (m *onnxModel) OutputWidth() int { return m.outputWidth }
func (m *onnxModel) Labels() []string { return append([]string(nil), m.labels...) }

func (m *onnxModel) Predict(t *vision.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inData := m.input.GetData()
	if len(inData) != len(t.Data) {
		return nil, fmt.Errorf("input tensor size %d != preprocessed %d", len(inData), len(t.Data))
	}
	copy(inData, t.Data)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return append([]float32(nil), m.output.GetData()...), nil
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return err
		}
		m.session = nil
	}
	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		m.output.Destroy()
		m.output = nil
	}
	return nil
}
