package bridge

import (
	"context"
	"sync"

	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

type subscription struct {
	mu     sync.Mutex
	ch     chan protocol.Event
	closed bool
}

// deliver は満杯なら捨てる。ブロードキャストで遅い購読者が他を止めないようにする。
func (s *subscription) deliver(ev protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe はローカル購読を登録し、イベントを受け取るチャネルと解除関数を返す。
// 解除するとチャネルは閉じられる。
func (b *Bridge) Subscribe(buffer int) (<-chan protocol.Event, func()) {
	sub, cancel := b.subscribe(buffer)
	return sub.ch, cancel
}

func (b *Bridge) subscribe(buffer int) (*subscription, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuf
	}
	sub := &subscription{ch: make(chan protocol.Event, buffer)}

	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = sub
	b.subMu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
			sub.close()
		})
	}
}

// publishLocal はローカル購読者に ev を配る。skip は除外する購読（nil なら全員）。
func (b *Bridge) publishLocal(ev protocol.Event, skip *subscription) {
	b.subMu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s != skip {
			subs = append(subs, s)
		}
	}
	b.subMu.Unlock()

	for _, s := range subs {
		if s.deliver(ev) {
			b.metrics.event(pathLocal)
			continue
		}
		b.metrics.dropped(pathLocal)
		b.log.Warn("local subscriber full, event dropped", "type", ev.MessageType())
	}
}

// LocalController はホスト自身の UI からブリッジを操作するためのハンドル。
// 要求への応答はこのコントローラーの購読チャネルにだけ流れ、executor のイベントは全員に流れる。
type LocalController struct {
	b      *Bridge
	sub    *subscription
	events <-chan protocol.Event
	cancel func()
}

// NewLocalController はブリッジにローカル購読を登録したコントローラーを返す。
func (b *Bridge) NewLocalController(buffer int) *LocalController {
	sub, cancel := b.subscribe(buffer)
	return &LocalController{b: b, sub: sub, events: sub.ch, cancel: cancel}
}

// Send は要求をブリッジで処理し、応答を自分の購読チャネルへ流す。
// 拒否された要求も ErrorEvent として同じチャネルに届く。
func (c *LocalController) Send(ctx context.Context, req protocol.Request) error {
	c.b.handle(ctx, OriginLocal, c.sub, req, func(reply protocol.Event) {
		if !c.sub.deliver(reply) {
			c.b.metrics.dropped(pathLocal)
			c.b.log.Warn("local reply dropped", "type", reply.MessageType())
		}
	})
	return nil
}

// Events はブロードキャストと応答の両方が届くチャネルを返す。
func (c *LocalController) Events() <-chan protocol.Event { return c.events }

// State はホストの状態を返す。
func (c *LocalController) State() session.State { return c.b.State() }

// Machine はホストの状態機械を返す。
func (c *LocalController) Machine() *session.Machine { return c.b.machine }

// Close は購読を解除する。
func (c *LocalController) Close() error {
	c.cancel()
	return nil
}
