package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const ollamaTagsPath = "/api/tags"

// ollamaBrain は Ollama の OpenAI 互換 API を使う Brain 実装。
//
// 応答生成は openAIBrain に委譲し、モデル一覧だけ Ollama ネイティブの /api/tags を使う。
//
// Ollama の OpenAI 互換 API:
//
//	POST <base_url>/v1/chat/completions
//	Authorization ヘッダーは無視される（認証不要）
//	https://github.com/ollama/ollama/blob/main/docs/openai.md
type ollamaBrain struct {
	inner *openAIBrain
}

func newOllamaBrain(cfg Config) *ollamaBrain {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	inner := newOpenAIBrain(cfg)
	inner.provider = ProviderOllama
	return &ollamaBrain{inner: inner}
}

// Provider はプロバイダー名を返す。
func (b *ollamaBrain) Provider() string { return string(ProviderOllama) }

// Stream は OpenAI 互換 API 経由で応答を生成する。
func (b *ollamaBrain) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return b.inner.Stream(ctx, req, onDelta)
}

// ListModels はローカルに pull 済みのモデル名を返す。
func (b *ollamaBrain) ListModels(ctx context.Context) ([]string, error) {
	base := strings.TrimSuffix(strings.TrimRight(b.inner.cfg.BaseURL, "/"), "/v1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+ollamaTagsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := b.inner.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("ollama", resp); err != nil {
		return nil, err
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
