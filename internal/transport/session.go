// Package transport は TCP 上の行区切りメッセージセッションを提供する。
//
// Session は 1 本の双方向ストリームを所有し、Send で 1 メッセージ 1 行を書き込み、
// Receive で受信行を逐次復号する。切断の通知（OnClose）はセッションごとに必ず 1 回だけ発火する。
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// DecodeFunc は受信した 1 行をメッセージに変換する。
// 通常は protocol.DecodeRequestMessage か protocol.DecodeEventMessage を渡す。
type DecodeFunc func(line []byte) (protocol.Message, error)

// Session は接続済みストリーム 1 本を表す。
type Session struct {
	id     string
	conn   net.Conn
	decode DecodeFunc
	log    *slog.Logger

	writeTimeout time.Duration

	wmu       sync.Mutex // Send の排他制御
	scanner   *bufio.Scanner
	receiving atomic.Bool

	once      sync.Once
	down      atomic.Bool
	done      chan struct{} // OnClose の通知がすべて終わってから close される
	mu        sync.Mutex    // cause / observers / tornDown を保護
	tornDown  bool
	cause     error
	observers []func(error)
}

// NewSession は既存の接続をセッションとして包む。
func NewSession(conn net.Conn, decode DecodeFunc, opts ...Option) *Session {
	return newSession(conn, decode, newOptions(opts))
}

func newSession(conn net.Conn, decode DecodeFunc, o options) *Session {
	id := uuid.NewString()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), o.maxLineBytes)
	return &Session{
		id:           id,
		conn:         conn,
		decode:       decode,
		log:          o.logger.With("conn", id, "remote", remoteAddr(conn)),
		writeTimeout: o.writeTimeout,
		scanner:      sc,
		done:         make(chan struct{}),
	}
}

// ID はセッションの一意な識別子を返す。
func (s *Session) ID() string { return s.id }

// RemoteAddr は相手側のアドレスを返す。
func (s *Session) RemoteAddr() string { return remoteAddr(s.conn) }

// Done はセッションが閉じ、OnClose の通知がすべて終わったときに close されるチャネルを返す。
func (s *Session) Done() <-chan struct{} { return s.done }

// Err は切断の原因を返す。ローカルからの Close や相手の正常終了（EOF）では nil。
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Send は m を 1 行として書き込む。
// 成功はローカルの送信バッファに渡ったことだけを意味し、相手の受信は保証しない。
func (s *Session) Send(m protocol.Message) error {
	line, err := protocol.Encode(m)
	if err != nil {
		return &IOError{Op: "encode", Err: err}
	}
	line = append(line, '\n')

	s.wmu.Lock()
	if s.closed() {
		s.wmu.Unlock()
		return &IOError{Op: "send", Err: ErrClosed}
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err = s.conn.Write(line)
	s.wmu.Unlock()

	if err != nil {
		if s.closed() {
			return &IOError{Op: "send", Err: ErrClosed}
		}
		s.teardown(&ConnectionLost{Err: err})
		return &IOError{Op: "send", Err: err}
	}
	return nil
}

// Receive は受信メッセージを順に返すシーケンスを返す。
//
//   - 空行は読み飛ばす。
//   - 復号できない行は *protocol.DecodeError として返し、読み取りは続行する。
//   - 相手の正常終了（EOF）とローカルからの Close ではエラーなしで終わる。
//   - 読み取り途中の失敗は *ConnectionLost を 1 回返して終わる。
//
// 途中で break しても接続は閉じない。再度 Receive を呼べば続きから読める。
func (s *Session) Receive() iter.Seq2[protocol.Message, error] {
	return func(yield func(protocol.Message, error) bool) {
		if !s.receiving.CompareAndSwap(false, true) {
			yield(nil, ErrReceiveBusy)
			return
		}
		defer s.receiving.Store(false)

		for {
			if s.closed() {
				return
			}
			if !s.scanner.Scan() {
				err := s.scanner.Err()
				if err == nil || s.closed() {
					s.teardown(nil)
					return
				}
				lost := &ConnectionLost{Err: err}
				s.teardown(lost)
				yield(nil, lost)
				return
			}

			line := s.scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			msg, err := s.decode(line)
			if err != nil {
				s.log.Debug("discarding undecodable line", "error", err)
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// OnClose は切断時に呼ばれる関数を登録する。
// 切断の原因（ローカル Close・読み取り失敗・書き込み失敗・EOF）や競合に関わらず、
// 登録した関数はちょうど 1 回呼ばれる。切断後に登録した場合は即座に呼ばれる。
func (s *Session) OnClose(fn func(cause error)) {
	s.mu.Lock()
	if s.tornDown {
		cause := s.cause
		s.mu.Unlock()
		fn(cause)
		return
	}
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Close は接続を閉じる。何度呼んでもよい。
func (s *Session) Close() error {
	s.teardown(nil)
	return nil
}

func (s *Session) teardown(cause error) {
	var observers []func(error)
	first := false
	s.once.Do(func() {
		first = true
		s.down.Store(true)
		s.mu.Lock()
		s.tornDown = true
		s.cause = cause
		observers = s.observers
		s.observers = nil
		s.mu.Unlock()
		_ = s.conn.Close()
	})
	if !first {
		return
	}

	if cause != nil {
		s.log.Warn("session closed", "error", cause)
	} else {
		s.log.Debug("session closed")
	}
	// observer の中から Close を呼んでもよいよう once の外で通知する
	for _, fn := range observers {
		fn(cause)
	}
	close(s.done)
}

func (s *Session) closed() bool { return s.down.Load() }

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// IsDecodeError は err が復号失敗（接続は継続可能）かどうかを返す。
func IsDecodeError(err error) bool {
	var de *protocol.DecodeError
	return errors.As(err, &de)
}
