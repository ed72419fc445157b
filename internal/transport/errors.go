package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed は閉じたセッションへの送信で返る。
	ErrClosed = errors.New("transport: session closed")
	// ErrReceiveBusy は同じセッションで Receive を並行して回そうとしたときに返る。
	ErrReceiveBusy = errors.New("transport: receive already in progress")
)

// ConnectionError は接続の確立に失敗したことを表す（拒否・タイムアウト・名前解決失敗）。
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConnectionLost は確立済みの接続が読み書きの途中で失われたことを表す。
type ConnectionLost struct {
	Err error
}

func (e *ConnectionLost) Error() string {
	return fmt.Sprintf("transport: connection lost: %v", e.Err)
}

func (e *ConnectionLost) Unwrap() error { return e.Err }

// IOError は Send の失敗を表す。
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
