// Package session はタスクのライフサイクルを状態機械として追跡する。
//
// ホスト側（ブリッジ）とコントローラー側（リモートクライアント）はそれぞれ 1 つの Machine を持ち、
// 要求（開始・キャンセル・回答）の可否を executor に届く前に判定し、
// 届いたイベントから状態を進める。
package session

import "fmt"

// State はタスクセッションの状態。
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateRunning
	StateAwaitingInput
	StateAwaitingAuthorization
	StateComplete
	StateFailed
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:                  "Idle",
	StateConnecting:            "Connecting",
	StateReady:                 "Ready",
	StateRunning:               "Running",
	StateAwaitingInput:         "AwaitingInput",
	StateAwaitingAuthorization: "AwaitingAuthorization",
	StateComplete:              "Complete",
	StateFailed:                "Failed",
	StateDisconnected:          "Disconnected",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Icon は TUI のステータスバーに表示する 1 文字アイコンを返す。
func (s State) Icon() string {
	switch s {
	case StateIdle:
		return "○"
	case StateConnecting:
		return "◎"
	case StateReady:
		return "●"
	case StateRunning:
		return "▶"
	case StateAwaitingInput:
		return "?"
	case StateAwaitingAuthorization:
		return "⚠"
	case StateComplete:
		return "✓"
	case StateFailed:
		return "✗"
	case StateDisconnected:
		return "⨯"
	default:
		return "?"
	}
}

// Active はタスクが実行中（回答待ちを含む）かどうかを返す。
func (s State) Active() bool {
	return s == StateRunning || s == StateAwaitingInput || s == StateAwaitingAuthorization
}

func (s State) awaiting() bool {
	return s == StateAwaitingInput || s == StateAwaitingAuthorization
}

// Action は状態機械に対する操作名。IllegalTransition の報告に使う。
type Action string

const (
	ActionConnect    Action = "connect"
	ActionConnected  Action = "connected"
	ActionStart      Action = "start"
	ActionCancel     Action = "cancel"
	ActionSubmit     Action = "submit"
	ActionDisconnect Action = "disconnect"
)

// IllegalTransition は現在の状態では許されない操作を表す。executor には何も届かない。
type IllegalTransition struct {
	Action Action
	From   State
	Reason string
}

func (e *IllegalTransition) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session: cannot %s in state %s: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("session: cannot %s in state %s", e.Action, e.From)
}

// Transition は 1 回の状態遷移の記録。
type Transition struct {
	From State
	To   State
	// Cause は遷移のきっかけ（操作名またはイベント種別）。
	Cause string
}
