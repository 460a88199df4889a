package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mental-cdss/internal/app"
	"mental-cdss/internal/inference"
	"mental-cdss/internal/transport/http/response"
	"mental-cdss/internal/vision"
)

// DiagnosisHandler accepts image uploads and returns the classifier's verdict.
type DiagnosisHandler struct {
	service  *app.DiagnosisService
	maxBytes int64
}

func NewDiagnosisHandler(service *app.DiagnosisService, maxBytes int64) *DiagnosisHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &DiagnosisHandler{service: service, maxBytes: maxBytes}
}

// Diagnose accepts a multipart form with "image". Pass preview=true to get a
// downscaled JPEG of the upload back as base64.
func (h *DiagnosisHandler) Diagnose(c *gin.Context) {
	// Leave 1 MB of headroom for multipart framing around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing image file (form field 'image')")
		return
	}
	if file.Size > h.maxBytes {
		h.tooLarge(c)
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to open uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read image")
		return
	}

	preview, _ := strconv.ParseBool(c.Query("preview"))
	out, err := h.service.Diagnose(app.DiagnoseInput{Image: data, Preview: preview})
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrInvalidImage):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidImage, "invalid image: supported formats are JPEG, PNG, GIF, BMP, TIFF and WebP")
		case errors.Is(err, inference.ErrShapeMismatch), errors.Is(err, inference.ErrLabelMismatch):
			response.Error(c, http.StatusInternalServerError, response.CodeModelMismatch, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "diagnosis failed")
		}
		return
	}

	body := gin.H{
		"request_id":      out.RequestID,
		"label":           out.Diagnosis.Label,
		"index":           out.Diagnosis.Index,
		"confidence":      out.Diagnosis.Confidence,
		"confidence_text": fmt.Sprintf("%.2f%%", out.Diagnosis.Confidence),
		"scores":          out.Diagnosis.Scores,
		"width":           out.Width,
		"height":          out.Height,
	}
	if len(out.Preview) > 0 {
		body["preview_jpeg"] = base64.StdEncoding.EncodeToString(out.Preview)
	}
	response.OK(c, body)
}

func (h *DiagnosisHandler) tooLarge(c *gin.Context) {
	response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
		fmt.Sprintf("image too large (max %d MB)", h.maxBytes>>20))
}

// Labels lists the classes the model can return, in output order.
func (h *DiagnosisHandler) Labels(c *gin.Context) {
	response.OK(c, gin.H{"labels": h.service.Labels()})
}
