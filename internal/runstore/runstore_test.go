package runstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherai-localrag/internal/model"
)

type fakeRuns struct {
	err  error
	runs []model.Run
}

func (f *fakeRuns) Create(_ context.Context, run *model.Run) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRuns) ListIDsByModel(_ context.Context, modelName string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for _, r := range f.runs {
		if r.Model == modelName {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

type fakeMessages struct {
	err   error
	calls int
	rows  map[string][]model.Message
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.rows[m.RunID] = append(f.rows[m.RunID], *m)
	return nil
}

func (f *fakeMessages) ListByRunID(_ context.Context, runID string) ([]model.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[runID], nil
}

type fakeCache struct {
	history map[string][]model.Message
	dirty   map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{history: map[string][]model.Message{}, dirty: map[string]bool{}}
}

func (c *fakeCache) GetHistory(_ context.Context, runID string) ([]model.Message, bool, error) {
	h, ok := c.history[runID]
	return h, ok, nil
}

func (c *fakeCache) SetHistory(_ context.Context, runID string, messages []model.Message) error {
	c.history[runID] = messages
	return nil
}

func (c *fakeCache) DeleteHistory(_ context.Context, runID string) error {
	delete(c.history, runID)
	return nil
}

func (c *fakeCache) MarkDirty(_ context.Context, runID string) error {
	c.dirty[runID] = true
	return nil
}

func (c *fakeCache) IsDirty(_ context.Context, runID string) (bool, error) {
	return c.dirty[runID], nil
}

type recordingPublisher struct {
	published []model.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg model.Message) error {
	p.published = append(p.published, msg)
	return nil
}

func TestGormStoreCreateRun(t *testing.T) {
	runs := &fakeRuns{}
	s := NewGormStore(runs, &fakeMessages{rows: map[string][]model.Message{}}, nil, nil)

	id, err := s.CreateRun(context.Background(), "m1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, "m1", runs.runs[0].Model)

	ids, err := s.ListRunIDs(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	ids, err = s.ListRunIDs(context.Background(), "m2")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestGormStoreWrapsBackendFailures(t *testing.T) {
	down := errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
	s := NewGormStore(&fakeRuns{err: down}, &fakeMessages{err: down}, nil, nil)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "m1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = s.ListRunIDs(ctx, "m1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	_, err = s.GetTranscript(ctx, "r1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestGormStoreTranscriptReadsThroughCache(t *testing.T) {
	msgs := &fakeMessages{rows: map[string][]model.Message{
		"r1": {{RunID: "r1", Role: model.RoleUser, Content: "hi"}},
	}}
	cache := newFakeCache()
	s := NewGormStore(&fakeRuns{}, msgs, cache, nil)
	ctx := context.Background()

	got, err := s.GetTranscript(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, msgs.calls)

	got, err = s.GetTranscript(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, msgs.calls, "second read should hit the cache")

	require.NoError(t, s.Publish(ctx, model.Message{RunID: "r1", Role: model.RoleAssistant, Content: "hello"}))
	assert.True(t, cache.dirty["r1"])

	got, err = s.GetTranscript(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, msgs.calls)
	_, cached := cache.history["r1"]
	assert.False(t, cached, "dirty runs are not cached")
}

func TestGormStoreEmptyTranscript(t *testing.T) {
	s := NewGormStore(&fakeRuns{}, &fakeMessages{rows: map[string][]model.Message{}}, nil, nil)
	got, err := s.GetTranscript(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueuedSinkMarksDirtyBeforePublishing(t *testing.T) {
	cache := newFakeCache()
	cache.history["r1"] = []model.Message{{Content: "stale"}}
	pub := &recordingPublisher{}
	sink := NewQueuedSink(pub, cache)

	require.NoError(t, sink.Publish(context.Background(), model.Message{RunID: "r1", Content: "x"}))
	assert.True(t, cache.dirty["r1"])
	assert.NotContains(t, cache.history, "r1")
	require.Len(t, pub.published, 1)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateRun(ctx, "m1")
	require.NoError(t, err)
	second, err := s.CreateRun(ctx, "m1")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "m2")
	require.NoError(t, err)

	ids, err := s.ListRunIDs(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, ids)

	require.NoError(t, s.Publish(ctx, model.Message{RunID: first, Role: model.RoleUser, Content: "a"}))
	require.NoError(t, s.Publish(ctx, model.Message{RunID: first, Role: model.RoleAssistant, Content: "b"}))

	got, err := s.GetTranscript(ctx, first)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)

	got[0].Content = "mutated"
	again, _ := s.GetTranscript(ctx, first)
	assert.Equal(t, "a", again[0].Content)

	empty, err := s.GetTranscript(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
