package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
)

// starter はサーバー定義から未初期化のクライアントを作る。テストではパイプに差し替える。
type starter func(name string, cfg ServerConfig) (*Client, error)

// Manager は複数の MCP サーバーを管理し、ツールの集約・ルーティングを行う
type Manager struct {
	log     *slog.Logger
	configs map[string]ServerConfig
	start   starter

	mu      sync.Mutex
	clients map[string]*Client      // サーバー名 → クライアント
	tools   map[string][]ToolSchema // サーバー名 → ツール一覧
}

// NewManager は設定からマネージャーを作成する。cfg が nil なら nil を返す。
func NewManager(cfg *Config, log *slog.Logger) *Manager {
	if cfg == nil {
		return nil
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{
		log:     log.With("component", "mcp"),
		configs: cfg.Servers,
		clients: make(map[string]*Client),
		tools:   make(map[string][]ToolSchema),
	}
	m.start = m.spawn
	return m
}

func (m *Manager) spawn(_ string, cfg ServerConfig) (*Client, error) {
	var env []string
	if len(cfg.Env) > 0 {
		// ホスト環境を引き継ぎつつ追加する
		env = os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
	}
	return NewStdioClient(cfg.Command, cfg.Args, env, m.log)
}

// StartAll は有効な全サーバーを起動し、Initialize と ListTools を実行する。
// 個別のサーバー起動に失敗した場合は警告を出して続行する。
func (m *Manager) StartAll(ctx context.Context) {
	for _, name := range slices.Sorted(maps.Keys(m.configs)) {
		cfg := m.configs[name]
		if cfg.Disabled {
			m.log.Info("server disabled", "server", name)
			continue
		}

		client, err := m.start(name, cfg)
		if err != nil {
			m.log.Warn("failed to start server", "server", name, "error", err)
			continue
		}

		if err := client.Initialize(ctx); err != nil {
			m.log.Warn("failed to initialize server", "server", name, "error", err)
			_ = client.Close()
			continue
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			m.log.Warn("failed to list tools", "server", name, "error", err)
			_ = client.Close()
			continue
		}

		enabled := tools[:0]
		for _, t := range tools {
			if slices.Contains(cfg.DisabledTools, t.Name) {
				continue
			}
			t.Server = name
			enabled = append(enabled, t)
		}

		m.mu.Lock()
		m.clients[name] = client
		m.tools[name] = enabled
		m.mu.Unlock()
		m.log.Info("server ready", "server", name, "tools", len(enabled))
	}
}

// Tools は全サーバーのツールをサーバー名順に集約して返す
func (m *Manager) Tools() []ToolSchema {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []ToolSchema
	for _, name := range slices.Sorted(maps.Keys(m.tools)) {
		all = append(all, m.tools[name]...)
	}
	return all
}

// CallTool は指定されたサーバーのツールを呼び出す。
// DisabledTools に含まれるツールは呼び出せない。
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	if m == nil {
		return nil, errors.New("mcp: no servers configured")
	}
	m.mu.Lock()
	client, ok := m.clients[server]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mcp: unknown server %q", server)
	}
	if slices.Contains(m.configs[server].DisabledTools, tool) {
		return nil, fmt.Errorf("mcp: tool %s/%s is disabled", server, tool)
	}
	return client.CallTool(ctx, tool, args)
}

// RequiresAuthorization は指定サーバーのツール呼び出しにユーザー承認が要るかを返す。
func (m *Manager) RequiresAuthorization(server string) bool {
	if m == nil {
		return false
	}
	return m.configs[server].RequireAuthorization
}

// Close は全 MCP サーバーのプロセスを終了させる
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.log.Warn("failed to close server", "server", name, "error", err)
			errs = append(errs, err)
		}
		delete(m.clients, name)
	}
	clear(m.tools)
	return errors.Join(errs...)
}
