package app

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mental-cdss/internal/inference"
	"mental-cdss/internal/vision"
)

var ErrNoLabels = errors.New("no class labels available")

type DiagnosisService struct {
	pre    *vision.Preprocessor
	engine *inference.Engine
	log    logrus.FieldLogger
}

type DiagnoseInput struct {
	Image   []byte
	Preview bool
}

type DiagnoseOutput struct {
	RequestID string               `json:"request_id"`
	Diagnosis *inference.Diagnosis `json:"diagnosis"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Preview   []byte               `json:"-"`
}

func NewDiagnosisService(pre *vision.Preprocessor, engine *inference.Engine, log logrus.FieldLogger) *DiagnosisService {
	return &DiagnosisService{
		pre:    pre,
		engine: engine,
		log:    log.WithField("component", "diagnosis"),
	}
}

func (s *DiagnosisService) Labels() []string {
	return s.engine.Labels()
}

// Diagnose decodes an uploaded image, preprocesses it and runs the classifier.
// Errors wrap vision.ErrInvalidImage or the inference sentinels.
func (s *DiagnosisService) Diagnose(input DiagnoseInput) (*DiagnoseOutput, error) {
	requestID := uuid.NewString()
	start := time.Now()

	img, err := vision.Decode(input.Image)
	if err != nil {
		return nil, err
	}
	tensor, err := s.pre.Preprocess(img)
	if err != nil {
		return nil, err
	}
	diagnosis, err := s.engine.Diagnose(tensor)
	if err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Error("diagnose failed")
		return nil, err
	}

	out := &DiagnoseOutput{
		RequestID: requestID,
		Diagnosis: diagnosis,
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
	}
	if input.Preview {
		preview, err := vision.EncodePreview(img)
		if err != nil {
			return nil, err
		}
		out.Preview = preview
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"label":      diagnosis.Label,
		"confidence": fmt.Sprintf("%.2f", diagnosis.Confidence),
		"elapsed":    time.Since(start).String(),
	}).Info("diagnosis complete")
	return out, nil
}

// ResolveLabels picks the class order for serving. Labels stored with the
// artifact always win; configured labels only fill in for artifacts that
// carry none. Display names then rename entries without reordering them.
func ResolveLabels(artifact, configured []string, displayNames map[string]string, log logrus.FieldLogger) ([]string, error) {
	base := artifact
	if len(base) == 0 {
		base = configured
	} else if len(configured) > 0 && !slices.Equal(configured, artifact) {
		log.WithFields(logrus.Fields{
			"artifact":   artifact,
			"configured": configured,
		}).Warn("configured labels ignored, using label order stored with the artifact")
	}
	if len(base) == 0 {
		return nil, ErrNoLabels
	}

	out := make([]string, len(base))
	for i, name := range base {
		if display, ok := displayNames[name]; ok && display != "" {
			name = display
		}
		out[i] = name
	}
	return out, nil
}
