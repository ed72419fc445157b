// Package bridge はホスト側のコントロールブリッジを実装する。
//
// Bridge は 1 つの executor を所有し、ローカル UI と（同時に 1 台までの）リモートコントローラーの
// 両方から届く要求を 1 つのミューテックスで直列化して処理する。executor のイベントは
// 状態機械に反映したあと、接続中のコントローラーとローカルの購読者すべてに配られる。
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// Executor はタスクを実行する外部コンポーネント。
//
// Start / Cancel / SubmitInput はすぐに戻ること（実処理は executor 自身の goroutine で行う）。
// 開始したタスクは最初に TaskStarted を、最後に TaskComplete か ErrorEvent を Events に流す。
type Executor interface {
	Start(cfg protocol.AgentConfig, task string) error
	Cancel()
	SubmitInput(input string) error
	Events() <-chan protocol.Event
}

// Catalog は利用可能なモデルの一覧を提供する。
type Catalog interface {
	Models(ctx context.Context) (protocol.ModelCatalog, error)
}

// Origin は要求の送り元。
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

const (
	defaultQueueSize      = 256
	defaultNoticeCapacity = 10
	defaultSubscriberBuf  = 512
)

// Option は Bridge の動作を調整する。
type Option func(*Bridge)

// WithLogger はログ出力先を指定する。
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics は Prometheus メトリクスを有効にする。
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithQueueSize はコントローラーへの送信キューの長さを指定する。
// キューが溢れたコントローラーは切断される。
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithNoticeCapacity は保持する通知の件数を指定する。
func WithNoticeCapacity(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.notices = newNoticeRing(n)
		}
	}
}

// Bridge はホスト側のコントロールブリッジ。
type Bridge struct {
	exec    Executor
	catalog Catalog
	machine *session.Machine
	log     *slog.Logger
	metrics *Metrics
	notices *noticeRing

	queueSize int

	mu sync.Mutex // 要求処理と状態反映を直列化する

	ctrlMu sync.Mutex
	ctrl   *controllerConn

	subMu   sync.Mutex
	subs    map[int]*subscription
	nextSub int
}

// New は Bridge を構築する。catalog は nil でもよい（GetModels は Error を返す）。
func New(exec Executor, catalog Catalog, opts ...Option) *Bridge {
	b := &Bridge{
		exec:      exec,
		catalog:   catalog,
		machine:   session.NewMachine(session.StateReady),
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		notices:   newNoticeRing(defaultNoticeCapacity),
		queueSize: defaultQueueSize,
		subs:      make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "bridge")
	b.metrics.setState(b.machine.State())
	b.machine.Subscribe(func(t session.Transition) {
		b.metrics.setState(t.To)
		b.log.Debug("state transition", "from", t.From.String(), "to", t.To.String(), "cause", t.Cause)
	})
	return b
}

// State はホストのタスク状態を返す。
func (b *Bridge) State() session.State { return b.machine.State() }

// Machine はホストの状態機械を返す（読み取りとリスナー登録用）。
func (b *Bridge) Machine() *session.Machine { return b.machine }

// Run は executor のイベントを配信し続ける。ctx の終了か executor のイベントチャネルが閉じるまで戻らない。
func (b *Bridge) Run(ctx context.Context) error {
	events := b.exec.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				b.log.Info("executor event stream closed")
				return nil
			}
			b.dispatch(ev)
		}
	}
}

// dispatch はイベントを状態機械に反映してから、コントローラーとローカル購読者に配る。
// 配信もロックの下で行い、要求への応答とイベントがホストの状態と同じ順で届くようにする。
func (b *Bridge) dispatch(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.machine.Observe(ev)
	b.broadcastLocked(ev)
}

// broadcastLocked はコントローラーとローカル購読者の全員に ev を積む。
func (b *Bridge) broadcastLocked(ev protocol.Event) {
	b.sendController(ev)
	b.publishLocal(ev, nil)
}

// othersLocked は要求元以外の全員に ev を積む。self はローカルの要求元の購読（なければ nil）。
func (b *Bridge) othersLocked(origin Origin, self *subscription, ev protocol.Event) {
	if origin != OriginRemote {
		b.sendController(ev)
	}
	b.publishLocal(ev, self)
}

// Handle は要求を 1 件処理し、要求元だけに返す応答を返す。
// 正当性の判定と executor の呼び出しは 1 つのミューテックスの下で行う。
func (b *Bridge) Handle(ctx context.Context, origin Origin, req protocol.Request) []protocol.Event {
	var out []protocol.Event
	b.handle(ctx, origin, nil, req, func(ev protocol.Event) { out = append(out, ev) })
	return out
}

// handle は要求を処理し、要求元への応答を reply に渡す。self はローカルの要求元の購読。
// GetModels 以外では reply はロックを持ったまま呼ばれるので、ブロックしてはならない。
func (b *Bridge) handle(ctx context.Context, origin Origin, self *subscription, req protocol.Request, reply func(protocol.Event)) {
	// モデル一覧は状態に関係しないので、問い合わせの間に他の要求を止めない
	if _, ok := req.(protocol.GetModels); ok {
		for _, ev := range b.handleGetModels(ctx, origin) {
			reply(ev)
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.handleLocked(origin, self, req) {
		reply(ev)
	}
}

func (b *Bridge) handleLocked(origin Origin, self *subscription, req protocol.Request) []protocol.Event {
	switch r := req.(type) {
	case protocol.StartTask:
		if err := b.machine.Start(r.Task); err != nil {
			return b.rejectLocked(origin, req, err)
		}
		if err := b.exec.Start(r.Config, r.Task); err != nil {
			msg := fmt.Sprintf("start task: %v", err)
			b.machine.Observe(protocol.ErrorEvent{Message: msg})
			b.metrics.request(req.MessageType(), origin, resultFailed)
			b.log.Warn("executor rejected task", "origin", origin, "error", err)
			return []protocol.Event{protocol.ErrorEvent{Message: msg}, b.statusLocked()}
		}
		b.metrics.request(req.MessageType(), origin, resultOK)
		b.log.Info("task started", "origin", origin, "roles", len(r.Config.Roles))
		// TaskStarted は executor から全員に届くので、ここでは応答しない
		return nil

	case protocol.CancelTask:
		if err := b.machine.Cancel(); err != nil {
			return b.rejectLocked(origin, req, err)
		}
		b.exec.Cancel()
		b.metrics.request(req.MessageType(), origin, resultOK)
		b.log.Info("cancel requested", "origin", origin)
		return []protocol.Event{protocol.Status{Running: true, Message: protocol.StatusCancelSent}}

	case protocol.SubmitInput:
		if err := b.machine.Submit(r.Input); err != nil {
			return b.rejectLocked(origin, req, err)
		}
		if err := b.exec.SubmitInput(r.Input); err != nil {
			b.metrics.request(req.MessageType(), origin, resultFailed)
			return []protocol.Event{protocol.Errorf("submit input: %v", err), b.statusLocked()}
		}
		b.metrics.request(req.MessageType(), origin, resultOK)
		// もう一方のオブザーバーに残っている質問はこれで閉じる
		b.othersLocked(origin, self, protocol.Status{Running: true, Message: protocol.InputSubmittedBy(string(origin))})
		return []protocol.Event{protocol.Status{Running: true, Message: protocol.StatusInputSubmitted}}

	case protocol.GetStatus:
		b.metrics.request(req.MessageType(), origin, resultOK)
		return []protocol.Event{b.statusLocked()}

	default:
		b.metrics.request(req.MessageType(), origin, resultRejected)
		return []protocol.Event{protocol.Errorf("unsupported request %s", req.MessageType())}
	}
}

func (b *Bridge) handleGetModels(ctx context.Context, origin Origin) []protocol.Event {
	if b.catalog == nil {
		b.metrics.request(protocol.TypeGetModels, origin, resultFailed)
		return []protocol.Event{protocol.ErrorEvent{Message: "no model catalog configured"}}
	}
	models, err := b.catalog.Models(ctx)
	if err != nil {
		b.metrics.request(protocol.TypeGetModels, origin, resultFailed)
		b.log.Warn("list models failed", "error", err)
		return []protocol.Event{protocol.Errorf("list models: %v", err)}
	}
	b.metrics.request(protocol.TypeGetModels, origin, resultOK)
	return []protocol.Event{protocol.ModelsList{Models: models}}
}

// rejectLocked は拒否の理由と現在の状態を要求元に返す。
// 状態スナップショットを添えることで、要求元は自分の状態機械を同期し直せる。
func (b *Bridge) rejectLocked(origin Origin, req protocol.Request, err error) []protocol.Event {
	b.metrics.request(req.MessageType(), origin, resultRejected)
	b.log.Info("request rejected", "origin", origin, "type", req.MessageType(), "error", err)
	return []protocol.Event{protocol.ErrorEvent{Message: err.Error()}, b.statusLocked()}
}

func (b *Bridge) statusLocked() protocol.Status {
	st := b.machine.State()
	return protocol.Status{Running: st.Active(), Message: st.String()}
}
