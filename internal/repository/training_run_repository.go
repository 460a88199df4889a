package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mental-cdss/internal/model"
)

type TrainingRunRepository struct {
	db *gorm.DB
}

func NewTrainingRunRepository(db *gorm.DB) *TrainingRunRepository {
	return &TrainingRunRepository{db: db}
}

func (r *TrainingRunRepository) Create(run *model.TrainingRun) error {
	if err := r.db.Create(run).Error; err != nil {
		return fmt.Errorf("create training run failed: %w", err)
	}
	return nil
}

func (r *TrainingRunRepository) ListRecent(limit int) ([]model.TrainingRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var runs []model.TrainingRun
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list training runs failed: %w", err)
	}
	return runs, nil
}

// GetByChecksum finds the run that produced an artifact; nil when unknown.
func (r *TrainingRunRepository) GetByChecksum(checksum string) (*model.TrainingRun, error) {
	var run model.TrainingRun
	if err := r.db.Where("checksum = ? AND status = ?", checksum, model.TrainingRunSucceeded).
		Order("created_at DESC").First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query training run by checksum failed: %w", err)
	}
	return &run, nil
}
