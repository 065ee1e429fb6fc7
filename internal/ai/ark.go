package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type ArkConfig struct {
	BaseURL string
	Region  string
	APIKey  string
}

// ArkStreamer serves chat streams from Volcengine Ark through eino, building one
// chat model per model name on first use.
type ArkStreamer struct {
	cfg ArkConfig

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

var _ ChatStreamer = (*ArkStreamer)(nil)

func NewArkStreamer(cfg ArkConfig) *ArkStreamer {
	return &ArkStreamer{
		cfg:    cfg,
		models: make(map[string]model.BaseChatModel),
	}
}

func (s *ArkStreamer) Stream(ctx context.Context, modelName string, messages []ChatMessage) (*schema.StreamReader[string], error) {
	chatModel, err := s.chatModel(ctx, modelName)
	if err != nil {
		return nil, err
	}

	stream, err := chatModel.Stream(ctx, ToSchemaMessages(messages))
	if err != nil {
		return nil, fmt.Errorf("ark stream failed: %w", err)
	}
	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	}), nil
}

func (s *ArkStreamer) chatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cm, ok := s.models[modelName]; ok {
		return cm, nil
	}
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: s.cfg.BaseURL,
		Region:  s.cfg.Region,
		APIKey:  s.cfg.APIKey,
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model %s failed: %w", modelName, err)
	}
	s.models[modelName] = cm
	return cm, nil
}

// ToSchemaMessages converts wire messages to eino messages. Unknown roles are sent as user turns.
func ToSchemaMessages(messages []ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, schema.SystemMessage(m.Content))
		case "assistant":
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
