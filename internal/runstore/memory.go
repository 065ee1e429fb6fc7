package runstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gopherai-localrag/internal/model"
)

// MemoryStore keeps runs in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        []model.Run
	transcripts map[string][]model.Message
	nextMsgID   uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transcripts: make(map[string][]model.Message)}
}

func (s *MemoryStore) CreateRun(_ context.Context, modelName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := model.Run{ID: uuid.NewString(), Model: modelName, CreatedAt: time.Now()}
	s.runs = append(s.runs, run)
	s.transcripts[run.ID] = nil
	return run.ID, nil
}

// ListRunIDs returns the model's runs, most recent first.
func (s *MemoryStore) ListRunIDs(_ context.Context, modelName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Model == modelName {
			ids = append(ids, s.runs[i].ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) GetTranscript(_ context.Context, runID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message{}, s.transcripts[runID]...), nil
}

func (s *MemoryStore) Publish(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	msg.ID = s.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.transcripts[msg.RunID] = append(s.transcripts[msg.RunID], msg)
	return nil
}
