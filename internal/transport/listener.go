package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// Dial は addr へ接続してクライアント側のセッションを返す。
// 接続できない場合は *ConnectionError を返す。再試行はしない。
func Dial(ctx context.Context, addr string, decode DecodeFunc, opts ...Option) (*Session, error) {
	o := newOptions(opts)
	addr = NormalizeAddr(addr)

	d := net.Dialer{Timeout: o.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	s := newSession(conn, decode, o)
	s.log.Info("connected")
	return s, nil
}

// NormalizeAddr はポートが省略されたアドレスに既定ポートを補う。
//
//	"192.168.1.10"      → "192.168.1.10:5555"
//	"host.local:6000"   → "host.local:6000"
//	":7000"             → ":7000"
func NormalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ":" + strconv.Itoa(protocol.DefaultPort)
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(protocol.DefaultPort))
}

// Listener はサーバー側の待ち受けソケット。
type Listener struct {
	ln     net.Listener
	decode DecodeFunc
	opts   options
}

// Listen は addr で待ち受けを開始する。
func Listen(addr string, decode DecodeFunc, opts ...Option) (*Listener, error) {
	addr = NormalizeAddr(addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, decode: decode, opts: newOptions(opts)}, nil
}

// Addr は実際に待ち受けているアドレスを返す（":0" 指定時のポート確認に使う）。
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Accept は次の接続を待ち、サーバー側のセッションを返す。ctx のキャンセルで中断する。
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	dl, canDeadline := l.ln.(interface{ SetDeadline(time.Time) error })
	if canDeadline {
		_ = dl.SetDeadline(time.Time{})
		stop := context.AfterFunc(ctx, func() { _ = dl.SetDeadline(time.Now()) })
		defer stop()
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	s := newSession(conn, l.decode, l.opts)
	s.log.Info("accepted")
	return s, nil
}

// Close は待ち受けを終了する。受け入れ済みのセッションには影響しない。
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close listener: %w", err)
	}
	return nil
}
