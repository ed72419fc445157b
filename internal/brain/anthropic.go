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
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicMessagesPath   = "/v1/messages"
	anthropicModelsPath     = "/v1/models"
	anthropicVersion        = "2023-06-01"
)

type anthropicBrain struct {
	cfg    Config
	client *http.Client
}

func newAnthropicBrain(cfg Config) *anthropicBrain {
	return &anthropicBrain{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *anthropicBrain) Provider() string { return string(ProviderAnthropic) }

func (b *anthropicBrain) url(path string) string {
	baseURL := b.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return strings.TrimRight(baseURL, "/") + path
}

// setHeaders は認証方式に応じてヘッダーを設定する。
// AuthAPIKey    → x-api-key ヘッダー（標準 API キー）
// AuthOAuthToken → Authorization: Bearer + OAuth 必須ヘッダー（claude setup-token の出力）
func (b *anthropicBrain) setHeaders(req *http.Request) {
	req.Header.Set("anthropic-version", anthropicVersion)
	switch b.cfg.AuthType {
	case AuthOAuthToken:
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
		req.Header.Set("anthropic-beta", "oauth-2025-04-20")
		req.Header.Set("anthropic-dangerous-direct-browser-access", "true")
	default:
		req.Header.Set("x-api-key", b.cfg.Token)
	}
}

func (b *anthropicBrain) Stream(ctx context.Context, in Request, onDelta func(string)) (string, error) {
	msgs := make([]map[string]string, 0, len(in.Messages))
	for _, m := range in.Messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":      b.cfg.Model,
		"max_tokens": in.maxTokens(),
		"messages":   msgs,
		"stream":     true,
	}
	if in.System != "" {
		body["system"] = in.System
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(anthropicMessagesPath), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: send request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("anthropic", resp); err != nil {
		return "", err
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(data []byte) (bool, error) {
		var ev anthropicStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, fmt.Errorf("anthropic: unmarshal event: %w", err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				if onDelta != nil {
					onDelta(ev.Delta.Text)
				}
			}
		case "message_stop":
			return true, nil
		case "error":
			return false, fmt.Errorf("anthropic: stream error: %s", ev.Error.Message)
		}
		return false, nil
	})
	if err != nil {
		return full.String(), fmt.Errorf("anthropic: read stream: %w", err)
	}
	return full.String(), nil
}

// anthropicStreamEvent は Messages API のストリーミングイベント（必要最小限）。
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *anthropicBrain) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(anthropicModelsPath), nil)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	b.setHeaders(req)
	return fetchModelIDs(b.client, req, "anthropic")
}
