package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gopherai-localrag/internal/model"
)

// ErrBackendUnavailable reports that the run store could not be reached. Calls are not retried.
var ErrBackendUnavailable = errors.New("run store backend unavailable")

type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	ListIDsByModel(ctx context.Context, modelName string) ([]string, error)
}

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	ListByRunID(ctx context.Context, runID string) ([]model.Message, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, runID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, runID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, runID string) error
	MarkDirty(ctx context.Context, runID string) error
	IsDirty(ctx context.Context, runID string) (bool, error)
}

// GormStore keeps runs and transcripts in MySQL, reading transcripts through
// an optional Redis history cache.
type GormStore struct {
	runs     RunRepository
	messages MessageRepository
	cache    HistoryCache
	logger   *zap.Logger
}

func NewGormStore(runs RunRepository, messages MessageRepository, cache HistoryCache, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		runs:     runs,
		messages: messages,
		cache:    cache,
		logger:   logger,
	}
}

func (s *GormStore) CreateRun(ctx context.Context, modelName string) (string, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Model:     modelName,
		CreatedAt: time.Now(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return "", unavailable(err)
	}
	s.logger.Info("run created", zap.String("run_id", run.ID), zap.String("model", modelName))
	return run.ID, nil
}

func (s *GormStore) ListRunIDs(ctx context.Context, modelName string) ([]string, error) {
	ids, err := s.runs.ListIDsByModel(ctx, modelName)
	if err != nil {
		return nil, unavailable(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *GormStore) GetTranscript(ctx context.Context, runID string) ([]model.Message, error) {
	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, runID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, runID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListByRunID(ctx, runID)
	if err != nil {
		return nil, unavailable(err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, runID); dirtyErr == nil && !dirty {
			if err := s.cache.SetHistory(ctx, runID, messages); err != nil {
				s.logger.Warn("cache run history failed", zap.String("run_id", runID), zap.Error(err))
			}
		}
	}
	return messages, nil
}

// Publish writes a message synchronously. Used when no broker is configured.
func (s *GormStore) Publish(ctx context.Context, msg model.Message) error {
	invalidate(ctx, s.cache, msg.RunID)
	if err := s.messages.Create(ctx, &msg); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func invalidate(ctx context.Context, cache HistoryCache, runID string) {
	if cache == nil {
		return
	}
	_ = cache.MarkDirty(ctx, runID)
	_ = cache.DeleteHistory(ctx, runID)
}
