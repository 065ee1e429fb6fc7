package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"gopherai-localrag/internal/ai"
	"gopherai-localrag/internal/model"
)

const systemPrompt = "You are a helpful assistant that answers questions about the user's documents. " +
	"When context is provided, ground your answer in it and say so when it does not contain the answer. " +
	"Keep answers concise and do not make up facts."

var ErrEmptyModel = errors.New("model name is empty")

type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]*schema.Document, error)
}

type HistoryReader interface {
	GetTranscript(ctx context.Context, runID string) ([]model.Message, error)
}

// MessageSink receives each completed exchange for persistence.
type MessageSink interface {
	Publish(ctx context.Context, msg model.Message) error
}

type Options struct {
	Streamer   ai.ChatStreamer
	Retriever  Retriever
	History    HistoryReader
	Sink       MessageSink
	TopK       int
	MaxContext int
	Logger     *zap.Logger
}

type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.MaxContext <= 0 {
		opts.MaxContext = 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Factory{opts: opts}
}

func (f *Factory) NewAssistant(_ context.Context, modelName string) (*Assistant, error) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return nil, ErrEmptyModel
	}
	if f.opts.Streamer == nil {
		return nil, fmt.Errorf("create assistant %s failed: no chat streamer", modelName)
	}
	return &Assistant{
		model:  modelName,
		opts:   f.opts,
		logger: f.opts.Logger.With(zap.String("model", modelName)),
	}, nil
}

// Assistant answers prompts for one model, grounded in the knowledge base and the run's history.
type Assistant struct {
	model  string
	opts   Options
	logger *zap.Logger
}

func (a *Assistant) Model() string {
	return a.model
}

// Run streams the answer to prompt. When the model stream ends cleanly the
// prompt and answer are handed to the sink before the caller sees io.EOF.
// A failed or abandoned stream persists nothing.
func (a *Assistant) Run(ctx context.Context, runID, prompt string) (*schema.StreamReader[string], error) {
	messages := a.buildMessages(ctx, runID, prompt)
	started := time.Now()

	upstream, err := a.opts.Streamer.Stream(ctx, a.model, messages)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer upstream.Close()
		defer sw.Close()

		var sb strings.Builder
		for {
			chunk, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				a.persist(ctx, runID, prompt, sb.String(), started)
				return
			}
			if err != nil {
				sw.Send("", err)
				return
			}
			sb.WriteString(chunk)
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (a *Assistant) buildMessages(ctx context.Context, runID, prompt string) []ai.ChatMessage {
	system := systemPrompt
	if a.opts.Retriever != nil && a.opts.TopK > 0 {
		docs, err := a.opts.Retriever.Search(ctx, prompt, a.opts.TopK)
		if err != nil {
			a.logger.Warn("knowledge search failed", zap.Error(err))
		}
		if len(docs) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nContext:")
			for _, d := range docs {
				b.WriteString("\n---\n")
				b.WriteString(d.Content)
			}
			b.WriteString("\n---")
			system = b.String()
		}
	}

	messages := []ai.ChatMessage{{Role: model.RoleSystem, Content: system}}
	if a.opts.History != nil && runID != "" {
		history, err := a.opts.History.GetTranscript(ctx, runID)
		if err != nil {
			a.logger.Warn("load run history failed", zap.String("run_id", runID), zap.Error(err))
		}
		for _, m := range recentVisible(history, a.opts.MaxContext) {
			messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, ai.ChatMessage{Role: model.RoleUser, Content: prompt})
}

func (a *Assistant) persist(ctx context.Context, runID, prompt, answer string, started time.Time) {
	if a.opts.Sink == nil || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for _, m := range []model.Message{
		{RunID: runID, Role: model.RoleUser, Content: prompt, CreatedAt: started},
		{RunID: runID, Role: model.RoleAssistant, Content: answer, CreatedAt: time.Now()},
	} {
		if err := a.opts.Sink.Publish(ctx, m); err != nil {
			a.logger.Error("persist run message failed", zap.String("run_id", runID), zap.String("role", m.Role), zap.Error(err))
			return
		}
	}
}

func recentVisible(messages []model.Message, limit int) []model.Message {
	visible := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Visible() {
			visible = append(visible, m)
		}
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible
}
