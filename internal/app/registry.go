package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SessionHandle owns one orchestrator and serializes the actions run against it.
type SessionHandle struct {
	ID string

	mu   sync.Mutex
	orch *Orchestrator
}

// Do runs fn with exclusive access to the session's orchestrator.
func (h *SessionHandle) Do(fn func(o *Orchestrator) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.orch)
}

// SessionRegistry maps session ids to live sessions, dropping sessions idle for longer than the TTL.
type SessionRegistry struct {
	cache        *cache.Cache
	newOrch      func() *Orchestrator
	defaultModel string
}

func NewSessionRegistry(newOrch func() *Orchestrator, defaultModel string, idleTTL, cleanupInterval time.Duration) *SessionRegistry {
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &SessionRegistry{
		cache:        cache.New(idleTTL, cleanupInterval),
		newOrch:      newOrch,
		defaultModel: defaultModel,
	}
}

// Create starts a session on the default model and tries to activate a run,
// as a fresh page load would.
func (r *SessionRegistry) Create(ctx context.Context) (*SessionHandle, error) {
	h := &SessionHandle{ID: uuid.NewString(), orch: r.newOrch()}
	err := h.Do(func(o *Orchestrator) error {
		if err := o.SelectModel(ctx, r.defaultModel); err != nil {
			return err
		}
		o.Activate(ctx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Set(h.ID, h, cache.DefaultExpiration)
	return h, nil
}

// Get returns the session and extends its idle deadline.
func (r *SessionRegistry) Get(id string) (*SessionHandle, bool) {
	x, found := r.cache.Get(id)
	if !found {
		return nil, false
	}
	h := x.(*SessionHandle)
	r.cache.Set(id, h, cache.DefaultExpiration)
	return h, true
}

func (r *SessionRegistry) Delete(id string) {
	r.cache.Delete(id)
}

func (r *SessionRegistry) Count() int {
	return r.cache.ItemCount()
}
