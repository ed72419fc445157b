// Package mcp は MCP (Model Context Protocol) クライアントを提供する。
// JSON-RPC 2.0 over stdio で MCP サーバーと通信し、
// ツールの列挙・呼び出しを行う。
package mcp

import "strings"

// ToolSchema は MCP サーバーの tools/list レスポンスにおけるツール定義
type ToolSchema struct {
	// Server はこのツールが所属する MCP サーバー名
	Server string `json:"-"`
	// Name はツールの一意な名前
	Name string `json:"name"`
	// Description はツールの説明
	Description string `json:"description"`
	// InputSchema はツール引数の JSON Schema
	InputSchema map[string]any `json:"inputSchema"`
}

// CallResult は MCP tools/call の実行結果
type CallResult struct {
	// Content はレスポンスのコンテンツブロック群
	Content []ContentBlock `json:"content"`
	// IsError はツール実行がエラーだったかどうか
	IsError bool `json:"isError,omitempty"`
}

// Text はテキストブロックを改行でつないで返す。
func (r *CallResult) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentBlock は MCP レスポンス内の単一コンテンツブロック
type ContentBlock struct {
	// Type はコンテンツの種類（"text", "image", "resource"）
	Type string `json:"type"`
	// Text はテキストコンテンツ（Type が "text" の場合）
	Text string `json:"text,omitempty"`
}

// ServerConfig は mcpServers の 1 エントリ
type ServerConfig struct {
	// Command は起動するコマンド
	Command string `json:"command"`
	// Args はコマンドライン引数
	Args []string `json:"args,omitempty"`
	// Env はサーバーに渡す環境変数（${VAR} はホスト環境から展開される）
	Env map[string]string `json:"env,omitempty"`
	// DisabledTools はモデルに見せないツール名
	DisabledTools []string `json:"disabledTools,omitempty"`
	// Disabled が true のサーバーは起動しない
	Disabled bool `json:"disabled,omitempty"`
	// RequireAuthorization が true の場合、ツール呼び出し前にユーザーの承認を求める
	RequireAuthorization bool `json:"requireAuthorization,omitempty"`
}

// Config は MCP 設定テキストのトップレベル構造体
type Config struct {
	// Servers はサーバー名 → 定義
	Servers map[string]ServerConfig `json:"mcpServers"`
}
