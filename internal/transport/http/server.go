package http

import (
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"mental-cdss/internal/bootstrap"
	"mental-cdss/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = app.Config.App.MaxUploadBytes

	index := filepath.Join(app.Config.App.WebDir, "index.html")
	if _, err := os.Stat(index); err == nil {
		router.StaticFile("/", index)
	}

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	var runs handler.TrainingRunLookup
	if app.TrainingRuns != nil {
		runs = app.TrainingRuns
	}
	diagnosisHandler := handler.NewDiagnosisHandler(app.Diagnosis, app.Config.App.MaxUploadBytes)
	modelHandler := handler.NewModelHandler(app.Models, runs)

	v1 := router.Group("/api/v1")
	v1.POST("/diagnose", diagnosisHandler.Diagnose)
	v1.GET("/labels", diagnosisHandler.Labels)
	v1.GET("/model", modelHandler.Info)
	v1.GET("/model/runs", modelHandler.Runs)

	return router
}
