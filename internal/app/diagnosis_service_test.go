package app

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"mental-cdss/internal/inference"
	"mental-cdss/internal/logging"
	"mental-cdss/internal/vision"
)

type stubModel struct {
	out []float32
}

func (m *stubModel) InputShape() []int64 { return []int64{1, 150, 150, 3} }
func (m *stubModel) OutputWidth() int { return len(m.out) }
func (m *stubModel) Predict(*vision.Tensor) ([]float32, error) { return m.out, nil }

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newService(t *testing.T, out []float32) *DiagnosisService {
	t.Helper()
	engine, err := inference.NewEngine(&stubModel{out: out}, []string{"Anxiety", "Depression"}, inference.DefaultPrecision)
	require.NoError(t, err)
	return NewDiagnosisService(vision.NewPreprocessor(vision.DefaultSize), engine, logging.Discard())
}

func TestDiagnosisServiceDiagnose(t *testing.T) {
	svc := newService(t, []float32{0.1, 0.9})

	out, err := svc.Diagnose(DiagnoseInput{Image: jpegBytes(t, 1024, 768)})
	require.NoError(t, err)
	require.Equal(t, "Depression", out.Diagnosis.Label)
	require.Equal(t, 90.0, out.Diagnosis.Confidence)
	require.Equal(t, 1024, out.Width)
	require.Equal(t, 768, out.Height)
	require.NotEmpty(t, out.RequestID)
	require.Nil(t, out.Preview)
}

func TestDiagnosisServicePreview(t *testing.T) {
	svc := newService(t, []float32{0.7, 0.3})

	out, err := svc.Diagnose(DiagnoseInput{Image: jpegBytes(t, 2048, 100), Preview: true})
	require.NoError(t, err)
	require.Equal(t, "Anxiety", out.Diagnosis.Label)

	preview, err := vision.Decode(out.Preview)
	require.NoError(t, err)
	require.Equal(t, 1024, preview.Bounds().Dx())
}

func TestDiagnosisServiceInvalidImage(t *testing.T) {
	svc := newService(t, []float32{0.1, 0.9})

	out, err := svc.Diagnose(DiagnoseInput{Image: []byte("garbage")})
	require.ErrorIs(t, err, vision.ErrInvalidImage)
	require.Nil(t, out)
}

func TestResolveLabels(t *testing.T) {
	log := logging.Discard()
	display := map[string]string{"Depresi": "Gangguan Depresi (Depressive Disorder)"}

	got, err := ResolveLabels([]string{"Depresi", "Normal"}, []string{"x", "y"}, display, log)
	require.NoError(t, err)
	require.Equal(t, []string{"Gangguan Depresi (Depressive Disorder)", "Normal"}, got)

	got, err = ResolveLabels(nil, []string{"Anxiety", "Depression"}, nil, log)
	require.NoError(t, err)
	require.Equal(t, []string{"Anxiety", "Depression"}, got)

	_, err = ResolveLabels(nil, nil, display, log)
	require.ErrorIs(t, err, ErrNoLabels)
}
