// Package brain は LLM クライアントを共通インターフェースで抽象化する。
// Anthropic（claude auth token / API キー）、OpenAI、Ollama（OpenAI 互換 API）をサポートする。
package brain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider は LLM プロバイダーを識別する。
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// AuthType は認証方式を識別する。
type AuthType string

const (
	// AuthAPIKey は通常の API キー認証（x-api-key ヘッダー）。
	// console.anthropic.com で発行した sk-ant-api03-... 形式。
	AuthAPIKey AuthType = "api_key"

	// AuthOAuthToken は Claude Code の OAuth トークン認証（Authorization: Bearer ヘッダー）。
	// `claude auth token` で取得した sk-ant-ocp01-... 形式。
	AuthOAuthToken AuthType = "oauth_token"

	// AuthNone は認証なし（Ollama）。
	AuthNone AuthType = "none"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Config は Brain の設定を保持する。
type Config struct {
	Provider Provider
	Model    string
	AuthType AuthType
	Token    string
	BaseURL  string // テスト時にモックサーバーを指定するために使う（空なら公式エンドポイント）
}

// Message は会話の 1 メッセージ。Role は "user" か "assistant"。
type Message struct {
	Role    string
	Content string
}

// Request は 1 回の応答生成に渡す入力。
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int // 0 なら 4096
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return 4096
}

// Brain は LLM との対話インターフェース。
type Brain interface {
	// Stream は応答を生成し、届いた断片ごとに onDelta を呼ぶ。戻り値は応答全体。
	Stream(ctx context.Context, req Request, onDelta func(string)) (string, error)
	// ListModels はプロバイダーが提供するモデル ID の一覧を返す。
	ListModels(ctx context.Context) ([]string, error)
	// Provider はプロバイダー名を返す。
	Provider() string
}

// New は Config に基づいて適切な Brain 実装を返す。
func New(cfg Config) (Brain, error) {
	if cfg.Token == "" && cfg.Provider != ProviderOllama {
		return nil, errors.New("brain: token must not be empty (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		return newAnthropicBrain(cfg), nil
	case ProviderOpenAI:
		return newOpenAIBrain(cfg), nil
	case ProviderOllama:
		return newOllamaBrain(cfg), nil
	default:
		return nil, fmt.Errorf("brain: unknown provider %q (supported: anthropic, openai, ollama)", cfg.Provider)
	}
}

// ConfigHint は LoadConfig へのヒント（プロバイダー・モデル）を保持する。
// 認証情報は環境変数から自動解決する。
type ConfigHint struct {
	Provider Provider
	Model    string
	BaseURL  string
}

// LoadConfig は環境変数から認証情報を解決して Config を返す。
//
// 解決優先順位（Anthropic）:
//  1. ANTHROPIC_API_KEY       → AuthAPIKey
//  2. ANTHROPIC_AUTH_TOKEN    → AuthOAuthToken（`claude auth token` の出力）
//
// 解決優先順位（OpenAI）:
//  1. OPENAI_API_KEY          → AuthAPIKey
//
// Ollama は認証不要。BaseURL が空なら OLLAMA_BASE_URL、それもなければ http://localhost:11434。
func LoadConfig(hint ConfigHint) (Config, error) {
	cfg := Config{
		Provider: Provider(strings.ToLower(string(hint.Provider))),
		Model:    hint.Model,
		BaseURL:  hint.BaseURL,
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.Token = key
			cfg.AuthType = AuthAPIKey
			return cfg, nil
		}
		if token := os.Getenv("ANTHROPIC_AUTH_TOKEN"); token != "" {
			cfg.Token = token
			cfg.AuthType = AuthOAuthToken
			return cfg, nil
		}
		return cfg, errors.New(
			"brain: Anthropic 認証情報が見つかりません\n" +
				"  - API キー:        export ANTHROPIC_API_KEY=sk-ant-api03-...\n" +
				"  - Claude Code 認証: export ANTHROPIC_AUTH_TOKEN=$(claude auth token)",
		)

	case ProviderOpenAI:
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Token = key
			cfg.AuthType = AuthAPIKey
			return cfg, nil
		}
		return cfg, errors.New(
			"brain: OpenAI 認証情報が見つかりません\n" +
				"  export OPENAI_API_KEY=sk-...",
		)

	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultOllamaBaseURL
		}
		cfg.AuthType = AuthNone
		return cfg, nil

	default:
		return cfg, fmt.Errorf("brain: unknown provider %q", hint.Provider)
	}
}
