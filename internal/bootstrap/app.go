package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mental-cdss/internal/app"
	"mental-cdss/internal/config"
	"mental-cdss/internal/inference"
	"mental-cdss/internal/logging"
	"mental-cdss/internal/modelstore"
	mysqlClient "mental-cdss/internal/platform/mysql"
	"mental-cdss/internal/repository"
	"mental-cdss/internal/vision"
)

type App struct {
	Config       *config.Config
	Log          *logrus.Logger
	Models       *modelstore.Provider
	Diagnosis    *app.DiagnosisService
	MySQL        *gorm.DB
	TrainingRuns *repository.TrainingRunRepository

	StartedAt time.Time
}

// New loads configuration and the model. Any failure to obtain or load the
// artifact is returned here so the server never starts without a model.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log := logging.New(cfg.Log.Level)

	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.initModel(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.MySQL = db
		a.TrainingRuns = repository.NewTrainingRunRepository(db)
	}
	return a, nil
}

func (a *App) initModel(ctx context.Context) error {
	cfg := a.Config.Model
	timeout := time.Duration(cfg.DownloadTimeoutSeconds) * time.Second

	opts := modelstore.Options{
		Path:            cfg.Path,
		DownloadTimeout: timeout,
		ONNXLibPath:     cfg.ONNXSharedLibPath,
		Logger:          a.Log,
	}
	// A typed nil *HTTPSource must not end up in the Source interface.
	if src := modelstore.NewHTTPSource(cfg.URL, timeout); src != nil {
		opts.Source = src
	}
	a.Models = modelstore.NewProvider(opts)

	model, err := a.Models.Model(ctx)
	if err != nil {
		return fmt.Errorf("load model failed: %w", err)
	}

	shape := model.InputShape()
	if len(shape) != 4 || shape[1] <= 0 || shape[1] != shape[2] || shape[3] != vision.Channels {
		return fmt.Errorf("%w: model input %v is not a square RGB image", inference.ErrShapeMismatch, shape)
	}
	size := int(shape[1])

	labels, err := app.ResolveLabels(model.Labels(), cfg.Labels, cfg.DisplayNames, a.Log)
	if err != nil {
		return err
	}
	engine, err := inference.NewEngine(model, labels, cfg.Precision)
	if err != nil {
		return err
	}
	a.Diagnosis = app.NewDiagnosisService(vision.NewPreprocessor(size), engine, a.Log)

	a.Log.WithFields(logrus.Fields{
		"labels":     labels,
		"input_size": size,
	}).Info("diagnosis service ready")
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Models != nil {
		if err := a.Models.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if err := mysqlClient.Close(a.MySQL); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
