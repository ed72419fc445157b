package session

import (
	"strings"
	"sync"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// Machine はタスクセッションの状態機械。複数 goroutine から使ってよい。
//
//	Idle → Connecting → Ready → Running ⇄ AwaitingInput / AwaitingAuthorization
//	Running → Complete → Ready
//	Running → Failed → Ready
//	(any) → Disconnected
//
// 回答待ちの状態は、別のオブザーバーの回答（実行中の Status か次の TaskEvent）でも Running に戻る。
//
// キャンセルは協調的で、Cancel は要求を記録するだけ。状態は TaskComplete か Error が届くまで変わらない。
type Machine struct {
	mu              sync.Mutex
	state           State
	cancelRequested bool
	outcome         State
	outcomeMsg      string
	listeners       []func(Transition)
}

// NewMachine は initial から始まる状態機械を返す。
// ホスト側は StateReady、コントローラー側は StateIdle から始める。
func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// State は現在の状態を返す。
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running はタスクが実行中（回答待ちを含む）かどうかを返す。
func (m *Machine) Running() bool {
	return m.State().Active()
}

// CancelRequested は現在のタスクにキャンセルが要求済みかどうかを返す。
func (m *Machine) CancelRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelRequested
}

// Outcome は直近に終了したタスクの結果（StateComplete か StateFailed）とメッセージを返す。
// まだ終了したタスクがなければ StateIdle を返す。
func (m *Machine) Outcome() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome, m.outcomeMsg
}

// Subscribe は状態遷移ごとに呼ばれる関数を登録する。
// fn はロックの外で、遷移の順に呼ばれる。
func (m *Machine) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// --- 接続 ---

// Connect は接続の試行開始を記録する。Idle か Disconnected からのみ可能。
func (m *Machine) Connect() error {
	return m.do(func() ([]Transition, error) {
		if m.state != StateIdle && m.state != StateDisconnected {
			return nil, &IllegalTransition{Action: ActionConnect, From: m.state}
		}
		return m.moveLocked(nil, StateConnecting, string(ActionConnect)), nil
	})
}

// Connected は接続の確立を記録する。Connecting からのみ可能。
func (m *Machine) Connected() error {
	return m.do(func() ([]Transition, error) {
		if m.state != StateConnecting {
			return nil, &IllegalTransition{Action: ActionConnected, From: m.state}
		}
		return m.moveLocked(nil, StateReady, string(ActionConnected)), nil
	})
}

// Disconnect は接続の喪失を記録する。どの状態からでも Disconnected になる。
func (m *Machine) Disconnect() {
	_ = m.do(func() ([]Transition, error) {
		if m.state == StateDisconnected {
			return nil, nil
		}
		m.cancelRequested = false
		return m.moveLocked(nil, StateDisconnected, string(ActionDisconnect)), nil
	})
}

// --- 操作 ---

// Start はタスクの開始を記録する。Ready で、空でないタスクのときだけ可能。
func (m *Machine) Start(task string) error {
	return m.do(func() ([]Transition, error) {
		if m.state != StateReady {
			return nil, &IllegalTransition{Action: ActionStart, From: m.state, Reason: startReason(m.state)}
		}
		if strings.TrimSpace(task) == "" {
			return nil, &IllegalTransition{Action: ActionStart, From: m.state, Reason: "task is empty"}
		}
		m.cancelRequested = false
		return m.moveLocked(nil, StateRunning, string(ActionStart)), nil
	})
}

// Cancel はキャンセル要求を記録する。実行中（回答待ちを含む）のときだけ可能。
// 状態は変わらず、終了イベントを待つ。
func (m *Machine) Cancel() error {
	return m.do(func() ([]Transition, error) {
		if !m.state.Active() {
			return nil, &IllegalTransition{Action: ActionCancel, From: m.state, Reason: "no task is running"}
		}
		m.cancelRequested = true
		return nil, nil
	})
}

// Submit は質問・承認要求への回答を記録する。
// AwaitingInput では任意の入力、AwaitingAuthorization では APPROVED か DENIED のみ受け付ける。
func (m *Machine) Submit(input string) error {
	return m.do(func() ([]Transition, error) {
		switch m.state {
		case StateAwaitingInput:
			return m.moveLocked(nil, StateRunning, string(ActionSubmit)), nil
		case StateAwaitingAuthorization:
			if !protocol.IsAuthorizationAnswer(input) {
				return nil, &IllegalTransition{Action: ActionSubmit, From: m.state,
					Reason: "answer must be " + protocol.Approved + " or " + protocol.Denied}
			}
			return m.moveLocked(nil, StateRunning, string(ActionSubmit)), nil
		default:
			return nil, &IllegalTransition{Action: ActionSubmit, From: m.state, Reason: "no question is pending"}
		}
	})
}

// Observe はイベントを反映し、入った状態を順に返す（変化がなければ nil）。
func (m *Machine) Observe(ev protocol.Event) []State {
	var path []State
	_ = m.do(func() ([]Transition, error) {
		ts := m.observeLocked(ev)
		for _, t := range ts {
			path = append(path, t.To)
		}
		return ts, nil
	})
	return path
}

func (m *Machine) observeLocked(ev protocol.Event) []Transition {
	cause := ev.MessageType()
	switch e := ev.(type) {
	case protocol.TaskStarted:
		// もう一方のオブザーバーが開始したタスク
		if m.state == StateReady {
			m.cancelRequested = false
			return m.moveLocked(nil, StateRunning, cause)
		}

	case protocol.TaskEvent:
		var ts []Transition
		// 回答待ちのまま次のイベントが来たなら、質問は別のオブザーバーが答えている
		if m.state == StateReady || m.state.awaiting() {
			ts = m.moveLocked(ts, StateRunning, cause)
		}
		if m.state != StateRunning {
			return ts
		}
		switch e.EventType {
		case protocol.EventQuestion:
			ts = m.moveLocked(ts, StateAwaitingInput, cause+":"+e.EventType)
		case protocol.EventAuthorization:
			ts = m.moveLocked(ts, StateAwaitingAuthorization, cause+":"+e.EventType)
		}
		return ts

	case protocol.TaskComplete:
		if m.state.Active() {
			m.outcome, m.outcomeMsg = StateComplete, e.Result
			m.cancelRequested = false
			ts := m.moveLocked(nil, StateComplete, cause)
			return m.moveLocked(ts, StateReady, cause)
		}

	case protocol.ErrorEvent:
		if m.state.Active() {
			m.outcome, m.outcomeMsg = StateFailed, e.Message
			m.cancelRequested = false
			ts := m.moveLocked(nil, StateFailed, cause)
			return m.moveLocked(ts, StateReady, cause)
		}

	case protocol.Status:
		switch {
		case e.Running && m.state == StateReady:
			return m.moveLocked(nil, StateRunning, cause)
		case e.Running && m.state.awaiting() && !m.cancelRequested && e.Message != m.state.String():
			return m.moveLocked(nil, StateRunning, cause)
		case !e.Running && m.state.Active() && !m.cancelRequested:
			return m.moveLocked(nil, StateReady, cause)
		}
	}
	return nil
}

func (m *Machine) moveLocked(ts []Transition, to State, cause string) []Transition {
	if m.state == to {
		return ts
	}
	t := Transition{From: m.state, To: to, Cause: cause}
	m.state = to
	return append(ts, t)
}

// do は fn をロック下で実行し、発生した遷移をロックの外でリスナーに通知する。
func (m *Machine) do(fn func() ([]Transition, error)) error {
	m.mu.Lock()
	ts, err := fn()
	var listeners []func(Transition)
	if len(ts) > 0 {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	for _, t := range ts {
		for _, l := range listeners {
			l(t)
		}
	}
	return err
}

func startReason(s State) string {
	switch {
	case s.Active():
		return "a task is already running"
	case s == StateIdle || s == StateConnecting || s == StateDisconnected:
		return "not connected"
	default:
		return ""
	}
}
