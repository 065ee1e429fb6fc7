package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"gopherai-localrag/internal/model"
)

var ErrDuplicateChunk = errors.New("chunk already stored")

// MemoryChunkStore keeps chunks in process. Used when MySQL is disabled.
type MemoryChunkStore struct {
	mu     sync.RWMutex
	nextID uint
	chunks []model.RAGChunk
	byKey  map[string]int
}

var _ ChunkStore = (*MemoryChunkStore)(nil)

func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{byKey: make(map[string]int)}
}

func (s *MemoryChunkStore) CreateBatch(_ context.Context, chunks []model.RAGChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, ok := s.byKey[c.ContentKey]; ok {
			return ErrDuplicateChunk
		}
	}
	for _, c := range chunks {
		s.insert(c)
	}
	return nil
}

func (s *MemoryChunkStore) UpsertBatch(_ context.Context, chunks []model.RAGChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range chunks {
		if i, ok := s.byKey[c.ContentKey]; ok {
			stored := &s.chunks[i]
			stored.DocumentID = c.DocumentID
			stored.Source = c.Source
			stored.Content = c.Content
			stored.Embedding = c.Embedding
			stored.UpdatedAt = now
			continue
		}
		s.insert(c)
	}
	return nil
}

func (s *MemoryChunkStore) ListAll(_ context.Context) ([]model.RAGChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RAGChunk(nil), s.chunks...), nil
}

func (s *MemoryChunkStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.byKey = make(map[string]int)
	return nil
}

func (s *MemoryChunkStore) insert(c model.RAGChunk) {
	s.nextID++
	now := time.Now()
	c.ID = s.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	s.byKey[c.ContentKey] = len(s.chunks)
	s.chunks = append(s.chunks, c)
}
