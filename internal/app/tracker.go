package app

import "strings"

// IngestionTracker remembers which source keys were loaded into the knowledge
// base during one session. It is never persisted.
type IngestionTracker struct {
	keys map[string]struct{}
}

func NewIngestionTracker() *IngestionTracker {
	return &IngestionTracker{keys: make(map[string]struct{})}
}

func (t *IngestionTracker) AlreadyIngested(key string) bool {
	_, ok := t.keys[normalizeKey(key)]
	return ok
}

func (t *IngestionTracker) MarkIngested(key string) {
	t.keys[normalizeKey(key)] = struct{}{}
}

func (t *IngestionTracker) Len() int {
	return len(t.keys)
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
