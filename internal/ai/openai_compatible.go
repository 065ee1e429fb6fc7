package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamer produces the incremental text of a chat completion as a pull-based,
// non-restartable stream. Callers must Close the returned reader.
type ChatStreamer interface {
	Stream(ctx context.Context, model string, messages []ChatMessage) (*schema.StreamReader[string], error)
}

// OpenAICompatibleClient talks to any /chat/completions and /embeddings endpoint
// following the OpenAI wire format, including Ollama's /v1 API.
type OpenAICompatibleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ ChatStreamer = (*OpenAICompatibleClient)(nil)

func NewOpenAICompatibleClient(baseURL, apiKey string) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		// no overall timeout: a stream lives as long as the model keeps generating
		httpClient: &http.Client{Transport: http.DefaultTransport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

func (c *OpenAICompatibleClient) Stream(ctx context.Context, model string, messages []ChatMessage) (*schema.StreamReader[string], error) {
	reqBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal llm stream request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm stream request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm stream request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("llm stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		if err := forwardSSE(resp.Body, sw); err != nil {
			sw.Send("", err)
		}
	}()
	return sr, nil
}

// forwardSSE parses OpenAI style server-sent events and sends each non-empty
// content delta to sw. It stops at [DONE], at EOF, or when the reader side closes.
func forwardSSE(body io.Reader, sw *schema.StreamWriter[string]) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return fmt.Errorf("llm stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		if closed := sw.Send(text, nil); closed {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan llm stream failed: %w", err)
	}
	return nil
}
