package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mental-cdss/internal/model"
	"mental-cdss/internal/modelstore"
	"mental-cdss/internal/transport/http/response"
)

// TrainingRunLookup reads the training ledger.
type TrainingRunLookup interface {
	GetByChecksum(checksum string) (*model.TrainingRun, error)
	ListRecent(limit int) ([]model.TrainingRun, error)
}

// trainingRunView renders the stored comma separated labels as a list.
type trainingRunView struct {
	*model.TrainingRun
	Labels []string `json:"labels"`
}

func newTrainingRunView(run *model.TrainingRun) trainingRunView {
	return trainingRunView{TrainingRun: run, Labels: run.LabelList()}
}

type ModelHandler struct {
	models *modelstore.Provider
	runs   TrainingRunLookup
}

// NewModelHandler accepts a nil runs lookup when the training ledger is disabled.
func NewModelHandler(models *modelstore.Provider, runs TrainingRunLookup) *ModelHandler {
	return &ModelHandler{models: models, runs: runs}
}

func (h *ModelHandler) Info(c *gin.Context) {
	if !h.models.Loaded() {
		response.Error(c, http.StatusServiceUnavailable, response.CodeModelUnready, "model is not loaded")
		return
	}

	body := gin.H{
		"path":   h.models.Path(),
		"loaded": true,
	}
	manifest := h.models.Manifest()
	if manifest != nil {
		body["manifest"] = manifest
	}
	if manifest != nil && manifest.Checksum != "" && h.runs != nil {
		run, err := h.runs.GetByChecksum(manifest.Checksum)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch training run failed")
			return
		}
		if run != nil {
			body["training_run"] = newTrainingRunView(run)
		}
	}
	response.OK(c, body)
}

// Runs lists recent training runs, newest first. limit defaults to 20.
func (h *ModelHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "training ledger is disabled")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.runs.ListRecent(limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list training runs failed")
		return
	}
	views := make([]trainingRunView, len(runs))
	for i := range runs {
		views[i] = newTrainingRunView(&runs[i])
	}
	response.OK(c, gin.H{"runs": views})
}
