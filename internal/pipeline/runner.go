// Package pipeline はロールを順に実行するタスク executor を実装する。
//
// 各ロールは LLM と対話し、応答の断片を stream イベントとして流す。
// 応答に ASK / AUTHORIZE / TOOL の指示行があればユーザー入力や MCP ツールの結果を待ってから
// 同じロールを続け、指示がなければその応答を次のロールへ渡す。最後のロールの応答がタスクの結果になる。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ACFHarbinger/Coding-Assistants/internal/brain"
	"github.com/ACFHarbinger/Coding-Assistants/internal/mcp"
	"github.com/ACFHarbinger/Coding-Assistants/internal/resources"
	"github.com/ACFHarbinger/Coding-Assistants/internal/workspace"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// SourceSystem はロールに属さない通知の発行元。
const SourceSystem = "System"

const (
	defaultMaxTurns    = 8
	defaultWorkDir     = "./workspace"
	defaultEventBuffer = 256
)

var (
	// ErrBusy はタスク実行中に Start が呼ばれたときに返る。
	ErrBusy = errors.New("pipeline: a task is already running")
	// ErrNoInputPending は質問を出していないときに SubmitInput が呼ばれたときに返る。
	ErrNoInputPending = errors.New("pipeline: no question is pending")
	// ErrTurnLimit はロールが max_turns 以内に答えを出さなかったときに返る。
	ErrTurnLimit = errors.New("turn limit reached")
)

// BrainFactory はロールのモデル設定から Brain を作る。
type BrainFactory func(provider, model string) (brain.Brain, error)

// Toolset は TOOL 指示で呼べるツール群。*mcp.Manager と *workspace.Tools が実装する。
type Toolset interface {
	Tools() []mcp.ToolSchema
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallResult, error)
	RequiresAuthorization(server string) bool
	Close() error
}

// ToolsetFactory は mcp_config テキストから Toolset を用意する。MCP を使わないなら nil を返す。
type ToolsetFactory func(ctx context.Context, mcpConfig string) (Toolset, error)

// ProviderBrains は環境変数の認証情報で Brain を作る BrainFactory を返す。
// baseURLs はプロバイダー名 → 接続先の上書き。
func ProviderBrains(baseURLs map[string]string) BrainFactory {
	return func(provider, model string) (brain.Brain, error) {
		cfg, err := brain.LoadConfig(brain.ConfigHint{
			Provider: brain.Provider(provider),
			Model:    model,
			BaseURL:  baseURLs[strings.ToLower(provider)],
		})
		if err != nil {
			return nil, err
		}
		return brain.New(cfg)
	}
}

// Option は Runner の動作を調整する。
type Option func(*Runner)

// WithLogger はログ出力先を指定する。
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMaxTurns はロールごとのターン上限を指定する。
func WithMaxTurns(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

// WithWorkDir は work_dir が空の StartTask で使う作業ディレクトリを指定する。
func WithWorkDir(dir string) Option {
	return func(r *Runner) {
		if dir != "" {
			r.workDir = dir
		}
	}
}

// WithGuardPatterns は承認を必ず求めるツール呼び出しの正規表現を指定する。
// nil なら DefaultGuardPatterns、空スライスなら検査しない。
func WithGuardPatterns(patterns []string) Option {
	return func(r *Runner) {
		if patterns != nil {
			r.guard = newGuard(patterns)
		}
	}
}

// WithWorkspaceTools は作業ディレクトリを読み書きする組み込みツール（workspace/*）を有効にする。
func WithWorkspaceTools(enabled bool) Option {
	return func(r *Runner) { r.workspaceTools = enabled }
}

// WithToolsetFactory は MCP サーバーの起動方法を差し替える。
func WithToolsetFactory(f ToolsetFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newTools = f
		}
	}
}

// Runner はタスクを 1 つずつ実行する executor。
type Runner struct {
	log      *slog.Logger
	newBrain BrainFactory
	newTools ToolsetFactory
	guard    *guard
	maxTurns int
	workDir  string
	events   chan protocol.Event

	workspaceTools bool

	mu  sync.Mutex
	cur *run
}

// run は実行中のタスク 1 件の状態。
type run struct {
	id      string
	log     *slog.Logger
	cancel  context.CancelFunc
	input   chan string
	waiting bool
}

// New は Runner を返す。newBrain はロールごとに呼ばれる。
func New(newBrain BrainFactory, opts ...Option) *Runner {
	r := &Runner{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		newBrain: newBrain,
		guard:    newGuard(DefaultGuardPatterns),
		maxTurns: defaultMaxTurns,
		workDir:  defaultWorkDir,
		events:   make(chan protocol.Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "pipeline")
	if r.newTools == nil {
		r.newTools = r.startMCP
	}
	return r
}

// startMCP は mcp_config のサーバーを起動する。起動に失敗したサーバーは飛ばす。
func (r *Runner) startMCP(ctx context.Context, text string) (Toolset, error) {
	cfg, err := mcp.ParseConfig(text)
	if err != nil || cfg == nil {
		return nil, err
	}
	m := mcp.NewManager(cfg, r.log)
	m.StartAll(ctx)
	return m, nil
}

// Events は実行中に発生したイベントを流す。
func (r *Runner) Events() <-chan protocol.Event { return r.events }

// Start はタスクを別 goroutine で開始する。最初のイベントは TaskStarted。
func (r *Runner) Start(cfg protocol.AgentConfig, task string) error {
	if len(cfg.Roles) == 0 {
		return errors.New("pipeline: at least one role is required")
	}
	if strings.TrimSpace(task) == "" {
		return errors.New("pipeline: task must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	cur := &run{
		id:     id,
		log:    r.log.With("run", id),
		cancel: cancel,
		input:  make(chan string, 1),
	}
	r.cur = cur
	go r.execute(ctx, cur, cfg, task)
	return nil
}

// Cancel は実行中のタスクに中断を要求する。終了は ErrorEvent で通知される。
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		r.cur.log.Info("cancel requested")
		r.cur.cancel()
	}
}

// SubmitInput は質問または承認要求への回答を渡す。
func (r *Runner) SubmitInput(input string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil || !r.cur.waiting {
		return ErrNoInputPending
	}
	select {
	case r.cur.input <- input:
		r.cur.waiting = false
		return nil
	default:
		return ErrNoInputPending
	}
}

func (r *Runner) emit(ev protocol.Event) { r.events <- ev }

// finish は実行状態を片付けてから終了イベントを流す。
// 終了イベントを受け取った側がすぐ次の Start を送っても ErrBusy にならない。
func (r *Runner) finish(cur *run, terminal protocol.Event) {
	r.mu.Lock()
	if r.cur == cur {
		r.cur = nil
	}
	r.mu.Unlock()
	cur.cancel()
	r.emit(terminal)
}

func (r *Runner) execute(ctx context.Context, cur *run, cfg protocol.AgentConfig, task string) {
	r.emit(protocol.TaskStarted{})
	r.finish(cur, r.runTask(ctx, cur, cfg, task))
}

// runTask はロールを順に実行し、終了イベントを返す。MCP サーバーは戻る前に止める。
func (r *Runner) runTask(ctx context.Context, cur *run, cfg protocol.AgentConfig, task string) protocol.Event {
	cur.log.Info("task started", "roles", len(cfg.Roles))

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = r.workDir
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return protocol.Errorf("work_dir: %v", err)
	}
	res := resources.New(workDir)

	mcpTools, err := r.newTools(ctx, cfg.MCPConfig)
	if err != nil {
		return protocol.Errorf("mcp_config: %v", err)
	}
	var builtin Toolset
	if r.workspaceTools {
		ws, err := workspace.New(workDir)
		if err != nil {
			if mcpTools != nil {
				_ = mcpTools.Close()
			}
			return protocol.Errorf("work_dir: %v", err)
		}
		builtin = ws
	}
	tools := chainTools(builtin, mcpTools)
	if tools != nil {
		defer tools.Close()
		r.emit(protocol.Thought(SourceSystem, fmt.Sprintf("%d tools available", len(tools.Tools()))))
	}

	var prevRole, prev string
	for _, role := range cfg.Roles {
		out, err := r.runRole(ctx, cur, res, tools, role, userMessage(task, prevRole, prev))
		if err != nil {
			if ctx.Err() != nil {
				cur.log.Info("task cancelled", "role", role.Name)
				return protocol.ErrorEvent{Message: "task cancelled"}
			}
			cur.log.Warn("role failed", "role", role.Name, "error", err)
			return protocol.Errorf("%s: %v", role.Name, err)
		}
		prevRole, prev = role.Name, out
	}

	cur.log.Info("task complete")
	return protocol.TaskComplete{Result: prev}
}

// runRole は 1 ロールを指示行がなくなるまで（最大 maxTurns ターン）実行し、最後の応答を返す。
func (r *Runner) runRole(ctx context.Context, cur *run, res *resources.Provider, tools Toolset, role protocol.RoleConfig, first string) (string, error) {
	b, err := r.newBrain(role.Model.Provider, role.Model.Model)
	if err != nil {
		return "", err
	}
	var schemas []mcp.ToolSchema
	if tools != nil {
		schemas = tools.Tools()
	}
	system, err := systemPrompt(res, role, schemas)
	if err != nil {
		return "", err
	}

	msgs := []brain.Message{{Role: "user", Content: first}}
	for turn := 1; turn <= r.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cur.log.Debug("turn", "role", role.Name, "turn", turn, "model", role.Model.ID())

		reply, err := b.Stream(ctx, brain.Request{System: system, Messages: msgs}, func(delta string) {
			r.emit(protocol.Stream(role.Name, delta))
		})
		if err != nil {
			return "", err
		}
		msgs = append(msgs, brain.Message{Role: "assistant", Content: reply})

		d := parseDirective(reply)
		var feedback string
		switch d.kind {
		case directiveNone:
			return strings.TrimSpace(reply), nil

		case directiveAsk:
			answer, err := r.await(ctx, cur, protocol.Question(role.Name, d.text))
			if err != nil {
				return "", err
			}
			feedback = "User answer: " + answer

		case directiveAuthorize:
			approved, err := r.authorize(ctx, cur, role.Name, d.text)
			if err != nil {
				return "", err
			}
			feedback = "User answer: " + answerText(approved)

		case directiveTool:
			feedback, err = r.callTool(ctx, cur, tools, role.Name, d)
			if err != nil {
				return "", err
			}
		}
		msgs = append(msgs, brain.Message{Role: "user", Content: feedback})
	}
	return "", fmt.Errorf("%w (%d)", ErrTurnLimit, r.maxTurns)
}

// await は ev を流してユーザーの回答を待つ。
func (r *Runner) await(ctx context.Context, cur *run, ev protocol.Event) (string, error) {
	r.mu.Lock()
	cur.waiting = true
	r.mu.Unlock()
	r.emit(ev)

	select {
	case answer := <-cur.input:
		return answer, nil
	case <-ctx.Done():
		r.mu.Lock()
		cur.waiting = false
		r.mu.Unlock()
		return "", ctx.Err()
	}
}

// authorize は承認要求を出し、APPROVED が返れば true を返す。それ以外の回答は拒否とみなす。
func (r *Runner) authorize(ctx context.Context, cur *run, roleName, question string) (bool, error) {
	answer, err := r.await(ctx, cur, protocol.NewAuthorizationEvent(roleName,
		protocol.Authorization{Role: roleName, Question: question}))
	if err != nil {
		return false, err
	}
	approved := strings.TrimSpace(answer) == protocol.Approved
	cur.log.Info("authorization answered", "role", roleName, "approved", approved)
	return approved, nil
}

func answerText(approved bool) string {
	if approved {
		return protocol.Approved
	}
	return protocol.Denied
}

// callTool は TOOL 指示を実行し、次のターンに渡すテキストを返す。
// ツール側の失敗はロールに返して続けさせる。error を返すのは中断されたときだけ。
func (r *Runner) callTool(ctx context.Context, cur *run, tools Toolset, roleName string, d directive) (string, error) {
	if d.err != nil {
		return "Tool error: " + d.err.Error(), nil
	}
	if tools == nil {
		return "Tool error: no MCP servers are configured", nil
	}
	name := d.server + "/" + d.tool

	if tools.RequiresAuthorization(d.server) || r.guard.Match(name, d.args) {
		approved, err := r.authorize(ctx, cur, roleName, "Allow tool call "+name+"?")
		if err != nil {
			return "", err
		}
		if !approved {
			return "Tool call " + name + " was denied by the user", nil
		}
	}

	call := "TOOL " + name
	if len(d.args) > 0 {
		call += fmt.Sprintf(" %v", d.args)
	}
	r.emit(protocol.Thought(roleName, call))

	result, err := tools.CallTool(ctx, d.server, d.tool, d.args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		cur.log.Warn("tool call failed", "tool", name, "error", err)
		return "Tool error: " + err.Error(), nil
	}
	text := truncateResult(result.Text(), resultHeadLines, resultTailLines)
	if result.IsError {
		return "Tool " + name + " failed:\n" + text, nil
	}
	return "Tool " + name + " result:\n" + text, nil
}
