package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ACFHarbinger/Coding-Assistants/internal/transport"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// controllerConn は接続中のコントローラー 1 台分の送信キュー。
// 送信は専用の goroutine が 1 本で行うので、応答とイベントはキューに積んだ順に届く。
type controllerConn struct {
	sess *transport.Session
	out  chan protocol.Event
}

// ListenAndServe は addr で待ち受け、コントローラーを 1 台ずつ受け入れる。ctx の終了で戻る。
func (b *Bridge) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := transport.Listen(addr, protocol.DecodeRequestMessage, transport.WithLogger(b.log))
	if err != nil {
		b.notify(LevelError, fmt.Sprintf("Failed to start server: %v", err))
		return err
	}
	defer ln.Close()
	return b.Serve(ctx, ln)
}

// Serve は ln からコントローラーを受け入れる。同時に扱うのは 1 台だけで、
// 現在のセッションが終わるまで次の Accept は行わない。
func (b *Bridge) Serve(ctx context.Context, ln *transport.Listener) error {
	b.notify(LevelInfo, "Server listening on "+ln.Addr())
	b.log.Info("listening", "addr", ln.Addr())
	defer b.notify(LevelInfo, "Server stopped")

	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			b.log.Warn("accept failed", "error", err)
			b.notify(LevelWarn, fmt.Sprintf("Accept failed: %v", err))
			return err
		}
		b.serveController(ctx, sess)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// serveController はセッションが閉じるまで要求を読み、応答をキューに積む。
func (b *Bridge) serveController(ctx context.Context, sess *transport.Session) {
	c := &controllerConn{sess: sess, out: make(chan protocol.Event, b.queueSize)}
	sess.OnClose(func(cause error) { b.detach(c, cause) })
	b.attach(c)

	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	go b.writeLoop(c)

	for msg, err := range sess.Receive() {
		if err != nil {
			if transport.IsDecodeError(err) {
				b.log.Warn("invalid request from controller", "error", err)
				b.metrics.request("invalid", OriginRemote, resultRejected)
				b.enqueue(c, protocol.Errorf("invalid request: %v", err))
				continue
			}
			break
		}
		req, ok := msg.(protocol.Request)
		if !ok {
			continue
		}
		b.handle(ctx, OriginRemote, nil, req, func(reply protocol.Event) { b.enqueue(c, reply) })
	}

	_ = sess.Close()
	<-sess.Done()
}

// attach はコントローラーを登録し、最初に状態スナップショットを送る。
// 登録とスナップショットは同じロックの下で行うので、その間のイベントを取りこぼさない。
func (b *Bridge) attach(c *controllerConn) {
	b.mu.Lock()
	b.ctrlMu.Lock()
	b.ctrl = c
	b.enqueueLocked(c, b.statusLocked())
	b.ctrlMu.Unlock()
	b.mu.Unlock()

	b.metrics.controllerAttached()
	b.log.Info("controller connected", "remote", c.sess.RemoteAddr(), "conn", c.sess.ID())
	b.notify(LevelInfo, "Controller connected: "+c.sess.RemoteAddr())
}

func (b *Bridge) detach(c *controllerConn, cause error) {
	b.ctrlMu.Lock()
	if b.ctrl == c {
		b.ctrl = nil
	}
	b.ctrlMu.Unlock()

	b.metrics.controllerDetached()
	if cause != nil {
		b.log.Warn("controller connection lost", "remote", c.sess.RemoteAddr(), "error", cause)
		b.notify(LevelWarn, fmt.Sprintf("Controller connection lost: %v", cause))
		return
	}
	b.log.Info("controller disconnected", "remote", c.sess.RemoteAddr())
	b.notify(LevelInfo, "Controller disconnected: "+c.sess.RemoteAddr())
}

// Attached はコントローラーが接続中かどうかを返す。
func (b *Bridge) Attached() bool {
	b.ctrlMu.Lock()
	defer b.ctrlMu.Unlock()
	return b.ctrl != nil
}

func (b *Bridge) sendController(ev protocol.Event) {
	b.ctrlMu.Lock()
	defer b.ctrlMu.Unlock()
	if b.ctrl != nil {
		b.enqueueLocked(b.ctrl, ev)
	}
}

func (b *Bridge) enqueue(c *controllerConn, ev protocol.Event) {
	b.ctrlMu.Lock()
	defer b.ctrlMu.Unlock()
	b.enqueueLocked(c, ev)
}

// enqueueLocked はキューに積む。溢れた場合はそのコントローラーだけを切断する。
func (b *Bridge) enqueueLocked(c *controllerConn, ev protocol.Event) {
	select {
	case c.out <- ev:
		b.metrics.event(pathController)
	default:
		b.metrics.dropped(pathController)
		b.log.Warn("controller queue full, disconnecting", "remote", c.sess.RemoteAddr())
		go func() { _ = c.sess.Close() }()
	}
}

func (b *Bridge) writeLoop(c *controllerConn) {
	for {
		select {
		case ev := <-c.out:
			if err := c.sess.Send(ev); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return
				}
				b.log.Warn("write to controller failed", "error", err)
				b.notify(LevelWarn, fmt.Sprintf("Write to controller failed: %v", err))
				_ = c.sess.Close()
				return
			}
		case <-c.sess.Done():
			return
		}
	}
}
