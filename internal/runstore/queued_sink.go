package runstore

import (
	"context"

	"gopherai-localrag/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// QueuedSink hands messages to the broker for the persist worker, marking the
// cached history dirty first so readers fall back to the database.
type QueuedSink struct {
	publisher Publisher
	cache     HistoryCache
}

func NewQueuedSink(publisher Publisher, cache HistoryCache) *QueuedSink {
	return &QueuedSink{publisher: publisher, cache: cache}
}

func (s *QueuedSink) Publish(ctx context.Context, msg model.Message) error {
	invalidate(ctx, s.cache, msg.RunID)
	return s.publisher.Publish(ctx, msg)
}
