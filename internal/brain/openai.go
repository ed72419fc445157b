package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com"
	openAIChatCompletePath = "/v1/chat/completions"
	openAIModelsPath       = "/v1/models"
)

type openAIBrain struct {
	cfg      Config
	client   *http.Client
	provider Provider
}

func newOpenAIBrain(cfg Config) *openAIBrain {
	return &openAIBrain{
		cfg:      cfg,
		client:   &http.Client{Timeout: 120 * time.Second},
		provider: ProviderOpenAI,
	}
}

func (b *openAIBrain) Provider() string { return string(b.provider) }

// url は BaseURL が既に /v1 で終わっている場合は重複させずにパスを付ける。
// Ollama: http://server:11434/v1 → http://server:11434/v1/chat/completions
func (b *openAIBrain) url(path string) string {
	baseURL := b.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + strings.TrimPrefix(path, "/v1")
	}
	return base + path
}

func (b *openAIBrain) setAuth(req *http.Request) {
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
}

func (b *openAIBrain) Stream(ctx context.Context, in Request, onDelta func(string)) (string, error) {
	name := b.Provider()
	msgs := make([]map[string]string, 0, len(in.Messages)+1)
	if in.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": in.System})
	}
	for _, m := range in.Messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":       b.cfg.Model,
		"messages":    msgs,
		"max_tokens":  in.maxTokens(),
		"temperature": 0.2,
		"stream":      true,
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(openAIChatCompletePath), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	b.setAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: send request: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(name, resp); err != nil {
		return "", err
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(data []byte) (bool, error) {
		if string(data) == "[DONE]" {
			return true, nil
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return false, fmt.Errorf("unmarshal chunk: %w", err)
		}
		if chunk.Error != nil {
			return false, fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			full.WriteString(c.Delta.Content)
			if onDelta != nil {
				onDelta(c.Delta.Content)
			}
		}
		return false, nil
	})
	if err != nil {
		return full.String(), fmt.Errorf("%s: read stream: %w", name, err)
	}
	return full.String(), nil
}

// openAIStreamChunk は Chat Completions のストリーミングチャンク（必要最小限）。
type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *openAIBrain) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(openAIModelsPath), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", b.Provider(), err)
	}
	b.setAuth(req)
	return fetchModelIDs(b.client, req, b.Provider())
}

// modelsResponse は /v1/models のレスポンス（Anthropic と OpenAI で共通の形）。
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func fetchModelIDs(client *http.Client, req *http.Request, provider string) ([]string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", provider, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(provider, resp); err != nil {
		return nil, err
	}

	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: unmarshal models: %w", provider, err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
