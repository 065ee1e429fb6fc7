package assistant

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gopherai-localrag/internal/ai"
	"gopherai-localrag/internal/model"
	"gopherai-localrag/internal/runstore"
)

type scriptedStreamer struct {
	chunks []string
	err    error
	seen   []ai.ChatMessage
	model  string
}

func (s *scriptedStreamer) Stream(_ context.Context, modelName string, messages []ai.ChatMessage) (*schema.StreamReader[string], error) {
	s.model = modelName
	s.seen = messages
	if s.err == nil {
		return schema.StreamReaderFromArray(s.chunks), nil
	}
	sr, sw := schema.Pipe[string](len(s.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range s.chunks {
			sw.Send(c, nil)
		}
		sw.Send("", s.err)
	}()
	return sr, nil
}

type staticRetriever struct {
	docs []*schema.Document
}

func (r staticRetriever) Search(context.Context, string, int) ([]*schema.Document, error) {
	return r.docs, nil
}

func collect(t *testing.T, sr *schema.StreamReader[string]) (string, error) {
	t.Helper()
	defer sr.Close()
	var out string
	for {
		c, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out += c
	}
}

func TestRunStreamsAndPersistsExchange(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := runstore.NewMemoryStore()
	ctx := context.Background()
	runID, err := store.CreateRun(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, store.Publish(ctx, model.Message{RunID: runID, Role: model.RoleSystem, Content: "hidden"}))
	require.NoError(t, store.Publish(ctx, model.Message{RunID: runID, Role: model.RoleUser, Content: "earlier"}))

	streamer := &scriptedStreamer{chunks: []string{"Hel", "lo"}}
	f := NewFactory(Options{
		Streamer:  streamer,
		Retriever: staticRetriever{docs: []*schema.Document{{ID: "d", Content: "Go is fun"}}},
		History:   store,
		Sink:      store,
		TopK:      3,
	})
	a, err := f.NewAssistant(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", a.Model())

	sr, err := a.Run(ctx, runID, "hello")
	require.NoError(t, err)
	text, err := collect(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	assert.Equal(t, "m1", streamer.model)
	require.Len(t, streamer.seen, 3)
	assert.Equal(t, model.RoleSystem, streamer.seen[0].Role)
	assert.Contains(t, streamer.seen[0].Content, "Go is fun")
	assert.Equal(t, ai.ChatMessage{Role: model.RoleUser, Content: "earlier"}, streamer.seen[1])
	assert.Equal(t, ai.ChatMessage{Role: model.RoleUser, Content: "hello"}, streamer.seen[2])

	transcript, err := store.GetTranscript(ctx, runID)
	require.NoError(t, err)
	require.Len(t, transcript, 4)
	assert.Equal(t, "hello", transcript[2].Content)
	assert.Equal(t, model.RoleAssistant, transcript[3].Role)
	assert.Equal(t, "Hello", transcript[3].Content)
}

func TestRunFailureSurfacesAndPersistsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := runstore.NewMemoryStore()
	ctx := context.Background()
	runID, _ := store.CreateRun(ctx, "m1")

	f := NewFactory(Options{
		Streamer: &scriptedStreamer{chunks: []string{"par"}, err: errors.New("model crashed")},
		History:  store,
		Sink:     store,
	})
	a, err := f.NewAssistant(ctx, "m1")
	require.NoError(t, err)

	sr, err := a.Run(ctx, runID, "hello")
	require.NoError(t, err)
	text, err := collect(t, sr)
	assert.Equal(t, "par", text)
	assert.EqualError(t, err, "model crashed")

	transcript, _ := store.GetTranscript(ctx, runID)
	assert.Empty(t, transcript)
}

func TestRunEarlyCloseStopsForwarding(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFactory(Options{Streamer: &scriptedStreamer{chunks: []string{"a", "b", "c"}}})
	a, err := f.NewAssistant(context.Background(), "m1")
	require.NoError(t, err)

	sr, err := a.Run(context.Background(), "", "q")
	require.NoError(t, err)
	first, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", first)
	sr.Close()
}

func TestNewAssistantValidation(t *testing.T) {
	_, err := NewFactory(Options{Streamer: &scriptedStreamer{}}).NewAssistant(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyModel)

	_, err = NewFactory(Options{}).NewAssistant(context.Background(), "m1")
	assert.Error(t, err)
}

func TestRecentVisible(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "1"},
		{Role: model.RoleSystem, Content: "s"},
		{Role: model.RoleAssistant, Content: "2"},
		{Role: model.RoleUser, Content: "3"},
	}
	got := recentVisible(msgs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].Content)
	assert.Equal(t, "3", got[1].Content)
	assert.Len(t, recentVisible(msgs, 0), 3)
}
