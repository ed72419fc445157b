package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClientClosed は閉じたクライアントを使おうとしたときに返る。
var ErrClientClosed = errors.New("mcp: client is closed")

// JSON-RPC 2.0 メッセージ型

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client は MCP サーバーとの JSON-RPC 2.0 over stdio 通信を管理する。
// 応答は専用の goroutine が読み、id で待ち手に振り分ける。
type Client struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd // サブプロセスモード時のみ非 nil
	log    *slog.Logger

	wmu    sync.Mutex // stdin への書き込みの排他制御
	nextID atomic.Int64
	closed atomic.Bool

	pmu     sync.Mutex
	pending map[int64]chan jsonRPCResponse
	readErr error
	done    chan struct{}
}

// NewStdioClient は MCP サーバーをサブプロセスとして起動し、クライアントを返す。
// env は "KEY=VALUE" 形式の環境変数リスト。
func NewStdioClient(command string, args []string, env []string, log *slog.Logger) (*Client, error) {
	cmd := exec.Command(command, args...) // nosemgrep: go.lang.security.audit.dangerous-exec-command.dangerous-exec-command -- command はホスト利用者が渡した mcp_config から読み込まれる
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("mcp: failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("mcp: failed to start server %s: %w", command, err)
	}

	c := newClient(stdin, stdout, log)
	c.cmd = cmd
	return c, nil
}

// newClient はパイプからクライアントを作り、読み取り goroutine を開始する。
// テストでは io.Pipe を渡す。
func newClient(stdin io.WriteCloser, stdout io.ReadCloser, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		stdin:   stdin,
		stdout:  stdout,
		log:     log,
		pending: make(map[int64]chan jsonRPCResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop は stdout を 1 行ずつ読み、応答を待ち手に渡す。
// 非 JSON 行（MCP サーバーのバナー出力等）と id のない通知は読み飛ばす。
func (c *Client) readLoop() {
	sc := bufio.NewScanner(c.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn("mcp: unparsable line from server", "error", err)
			continue
		}
		if resp.ID == 0 {
			continue
		}
		c.pmu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pmu.Unlock()
		if ok {
			ch <- resp
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.pmu.Lock()
	c.readErr = err
	c.pmu.Unlock()
	close(c.done)
}

// Initialize は MCP プロトコルのハンドシェイクを行う。
// initialize リクエスト → レスポンス受信 → notifications/initialized 通知の順に実行する。
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agentrelay",
			"version": "0.1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("mcp: initialize failed: %w", err)
	}

	if err := c.sendNotification("notifications/initialized"); err != nil {
		return fmt.Errorf("mcp: failed to send initialized notification: %w", err)
	}
	return nil
}

// ListTools は MCP サーバーからツール一覧を取得する
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	result, err := c.sendRequest(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/list failed: %w", err)
	}

	var resp struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse tools/list response: %w", err)
	}
	return resp.Tools, nil
}

// CallTool は MCP サーバーのツールを呼び出す
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}

	result, err := c.sendRequest(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/call failed: %w", err)
	}

	var callResult CallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse tools/call response: %w", err)
	}
	return &callResult, nil
}

// Close はクライアントを閉じ、サブプロセスを終了させる
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	// stdin を閉じてサーバーに EOF を通知
	_ = c.stdin.Close()
	_ = c.stdout.Close()

	if c.cmd != nil {
		exited := make(chan error, 1)
		go func() { exited <- c.cmd.Wait() }()

		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			_ = c.cmd.Process.Kill()
			<-exited
		}
	}
	return nil
}

// sendRequest は JSON-RPC リクエストを送信し、同じ id のレスポンスを待つ
func (c *Client) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	id := c.nextID.Add(1)
	ch := make(chan jsonRPCResponse, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.write(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		c.pmu.Lock()
		err := c.readErr
		c.pmu.Unlock()
		return nil, fmt.Errorf("server closed: %w", err)
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("JSON-RPC error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// sendNotification は JSON-RPC 通知を送信する（id なし、レスポンス不要）
func (c *Client) sendNotification(method string) error {
	return c.write(map[string]any{"jsonrpc": "2.0", "method": method})
}

func (c *Client) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
