package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-localrag/internal/model"
)

type RAGChunkRepository struct {
	db *gorm.DB
}

func NewRAGChunkRepository(db *gorm.DB) *RAGChunkRepository {
	return &RAGChunkRepository{db: db}
}

func (r *RAGChunkRepository) CreateBatch(ctx context.Context, chunks []model.RAGChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("create rag chunks batch failed: %w", err)
	}
	return nil
}

// UpsertBatch inserts chunks, replacing the stored row when the content key already exists.
func (r *RAGChunkRepository) UpsertBatch(ctx context.Context, chunks []model.RAGChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"document_id", "source", "content", "embedding", "updated_at"}),
	}).Create(&chunks).Error
	if err != nil {
		return fmt.Errorf("upsert rag chunks batch failed: %w", err)
	}
	return nil
}

func (r *RAGChunkRepository) ListAll(ctx context.Context) ([]model.RAGChunk, error) {
	var chunks []model.RAGChunk
	if err := r.db.WithContext(ctx).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list rag chunks failed: %w", err)
	}
	return chunks, nil
}

func (r *RAGChunkRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.RAGChunk{}).Error; err != nil {
		return fmt.Errorf("delete rag chunks failed: %w", err)
	}
	return nil
}
