package model

import (
	"strings"
	"time"
)

const (
	TrainingRunSucceeded = "succeeded"
	TrainingRunFailed    = "failed"
)

// TrainingRun records one execution of the training command.
type TrainingRun struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DatasetDir   string    `gorm:"size:512;not null" json:"dataset_dir"`
	Labels       string    `gorm:"size:512;not null" json:"labels"` // comma separated, label order
	ImageSize    int       `gorm:"not null" json:"image_size"`
	BatchSize    int       `gorm:"not null" json:"batch_size"`
	Epochs       int       `gorm:"not null" json:"epochs"`
	Samples      int       `json:"samples"`
	FinalLoss    float64   `json:"final_loss"`
	FinalAcc     float64   `json:"final_accuracy"`
	ArtifactPath string    `gorm:"size:512" json:"artifact_path"`
	Checksum     string    `gorm:"size:64;index" json:"checksum"`
	Status       string    `gorm:"size:16;not null;index" json:"status"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *TrainingRun) SetLabels(labels []string) {
	r.Labels = strings.Join(labels, ",")
}

func (r *TrainingRun) LabelList() []string {
	if r.Labels == "" {
		return nil
	}
	return strings.Split(r.Labels, ",")
}
