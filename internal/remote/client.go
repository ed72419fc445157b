// Package remote はコントローラー側のクライアントを実装する。
//
// Client はホストへの Transport Session を 1 本持ち、受信したイベントを自分の状態機械に反映してから
// Events チャネルへ流す。要求は送信前に状態機械で正当性を確認し、不正なものはホストに届かない。
package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/internal/transport"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// ErrNotConnected はホストに接続していない状態で要求を送ろうとしたときに返る。
var ErrNotConnected = errors.New("remote: not connected")

const defaultEventBuffer = 512

// Option は Client の動作を調整する。
type Option func(*Client)

// WithLogger はログ出力先を指定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDialTimeout は接続のタイムアウトを指定する。
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithEventBuffer は Events チャネルのバッファ長を指定する。
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// Client はコントローラー側の接続。
type Client struct {
	log         *slog.Logger
	dialTimeout time.Duration
	eventBuffer int

	machine *session.Machine
	events  chan protocol.Event

	mu     sync.Mutex
	sess   *transport.Session
	addr   string
	models protocol.ModelCatalog
	cause  error
	lostCh chan error

	// pending は先に状態を進めた要求（StartTask / SubmitInput）がホストの判定待ちであること。
	// held はそのあいだに届いた ErrorEvent で、次のイベントを見るまで状態機械に渡さない。
	pending bool
	held    *protocol.ErrorEvent
}

// New は未接続（Idle）の Client を返す。
func New(opts ...Option) *Client {
	c := &Client{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialTimeout: 5 * time.Second,
		eventBuffer: defaultEventBuffer,
		machine:     session.NewMachine(session.StateIdle),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "remote")
	c.events = make(chan protocol.Event, c.eventBuffer)
	c.lostCh = make(chan error, 1)
	return c
}

// Connect はホストへ接続し、モデル一覧と状態を問い合わせる。
// 失敗したときは *transport.ConnectionError を返し、状態は Disconnected になる。
func (c *Client) Connect(ctx context.Context, addr string) error {
	if err := c.machine.Connect(); err != nil {
		return err
	}
	addr = transport.NormalizeAddr(addr)
	c.log.Info("connecting", "addr", addr)

	sess, err := transport.Dial(ctx, addr, protocol.DecodeEventMessage,
		transport.WithLogger(c.log), transport.WithDialTimeout(c.dialTimeout))
	if err != nil {
		c.log.Warn("connect failed", "addr", addr, "error", err)
		c.mu.Lock()
		c.cause = err
		c.mu.Unlock()
		c.machine.Disconnect()
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.addr = addr
	c.cause = nil
	c.mu.Unlock()

	sess.OnClose(func(cause error) { c.lost(sess, cause) })
	if err := c.machine.Connected(); err != nil {
		_ = sess.Close()
		return err
	}
	go c.readLoop(sess)

	for _, req := range []protocol.Request{protocol.GetModels{}, protocol.GetStatus{}} {
		if err := sess.Send(req); err != nil {
			return err
		}
	}
	return nil
}

// readLoop はイベントを状態機械に反映してから Events に流す。
func (c *Client) readLoop(sess *transport.Session) {
	for msg, err := range sess.Receive() {
		if err != nil {
			if transport.IsDecodeError(err) {
				c.log.Warn("invalid event from host", "error", err)
				continue
			}
			return
		}
		ev, ok := msg.(protocol.Event)
		if !ok {
			continue
		}
		for _, obs := range c.reconcile(ev) {
			c.machine.Observe(obs)
		}

		select {
		case c.events <- ev:
		case <-sess.Done():
			return
		}
	}
}

// reconcile は ev を受けて、状態機械に渡すイベントを順に返す。
//
// ホストは拒否を ErrorEvent と Status の組で返す。判定待ちの要求があるとき、
// 直後に Status が続いた ErrorEvent は拒否の応答なので、タスクの失敗としては扱わない。
func (c *Client) reconcile(ev protocol.Event) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []protocol.Event
	switch e := ev.(type) {
	case protocol.Status:
		if c.held != nil {
			c.log.Info("request rejected by host", "error", c.held.Message)
			c.held = nil
			c.pending = false
		}
		if e.Message == protocol.StatusInputSubmitted {
			c.pending = false
		}
		return append(out, ev)

	case protocol.ErrorEvent:
		out = c.releaseLocked(out)
		if c.pending {
			c.held = &e
			return out
		}
		return append(out, ev)

	case protocol.TaskStarted:
		c.pending = false
	case protocol.ModelsList:
		c.models = e.Models
	}
	out = c.releaseLocked(out)
	return append(out, ev)
}

// releaseLocked は保留中の ErrorEvent を本物の失敗として out に足す。
func (c *Client) releaseLocked(out []protocol.Event) []protocol.Event {
	if c.held == nil {
		return out
	}
	out = append(out, *c.held)
	c.held = nil
	return out
}

func (c *Client) lost(sess *transport.Session, cause error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.cause = cause
	c.pending = false
	c.held = nil
	c.mu.Unlock()

	c.machine.Disconnect()
	if cause != nil {
		c.log.Warn("connection lost", "error", cause)
	} else {
		c.log.Info("disconnected")
	}

	// 読まれていない古い通知は新しいものに置き換える
	select {
	case <-c.lostCh:
	default:
	}
	c.lostCh <- cause
}

// Send は要求をホストへ送る。
// 状態機械が許さない要求は送らずに *session.IllegalTransition を返す。
func (c *Client) Send(ctx context.Context, req protocol.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	var err error
	optimistic := false
	switch r := req.(type) {
	case protocol.StartTask:
		err = c.machine.Start(r.Task)
		optimistic = true
	case protocol.CancelTask:
		err = c.machine.Cancel()
	case protocol.SubmitInput:
		err = c.machine.Submit(r.Input)
		optimistic = true
	}
	if err != nil {
		return err
	}
	if optimistic {
		c.mu.Lock()
		c.pending = true
		c.mu.Unlock()
	}
	return sess.Send(req)
}

// Close は接続を閉じる。未接続なら何もしない。
func (c *Client) Close() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.Close()
	<-sess.Done()
	return err
}

// Events はホストから届いたイベントを受信順に流す。接続をまたいで同じチャネルを使う。
func (c *Client) Events() <-chan protocol.Event { return c.events }

// Machine はコントローラー側の状態機械を返す。
func (c *Client) Machine() *session.Machine { return c.machine }

// State はコントローラー側の状態を返す。
func (c *Client) State() session.State { return c.machine.State() }

// Addr は直近に接続したホストのアドレスを返す。
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Models は直近に受け取ったモデル一覧を返す。
func (c *Client) Models() protocol.ModelCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models
}

// Lost は接続が切れるたびにその理由を流す（Close による切断なら nil）。
// 読まれないうちに次の切断が起きたときは新しい理由だけが残る。
func (c *Client) Lost() <-chan error { return c.lostCh }

// Err は直近の切断理由を返す。正常な切断なら nil。
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}
