package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"gopherai-localrag/internal/model"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create run failed: %w", err)
	}
	return nil
}

// ListIDsByModel returns run ids for the model, most recent first.
func (r *RunRepository) ListIDsByModel(ctx context.Context, modelName string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&model.Run{}).
		Where("model = ?", modelName).
		Order("created_at DESC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list run ids failed: %w", err)
	}
	return ids, nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run failed: %w", err)
	}
	return &run, nil
}
