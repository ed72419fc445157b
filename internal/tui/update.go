package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// Update implements tea.Model and routes all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.handleResize(msg.Width, msg.Height)
		m.ready = true
		m.rebuildViewport()
		return m, nil

	case spinner.TickMsg:
		if !m.spinning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case debounceMsg:
		m.debouncing = false
		if m.viewportDirty {
			m.viewportDirty = false
			m.rebuildViewport()
		}
		return m, nil

	case eventMsg:
		cmd := m.handleEvent(msg.ev)
		return m, tea.Batch(cmd, waitEvent(m.ctrl.Events()))

	case eventsClosedMsg:
		m.addNote(bridge.LevelError, "Event stream closed")
		m.prompt = nil
		m.spinning = false
		m.rebuildViewport()
		return m, nil

	case noticeMsg:
		m.recordNotice(bridge.Notice(msg))
		return m, waitNotice(m.notices)

	case lostMsg:
		if msg.err != nil {
			m.addNote(bridge.LevelError, fmt.Sprintf("Connection lost: %v (use /connect to reconnect)", msg.err))
		} else {
			m.addNote(bridge.LevelWarn, "Disconnected (use /connect to reconnect)")
		}
		m.prompt = nil
		m.spinning = false
		m.rebuildViewport()
		if conn, ok := m.ctrl.(Connector); ok {
			return m, waitLost(conn.Lost())
		}
		return m, nil

	case connectedMsg:
		if msg.err != nil {
			m.addNote(bridge.LevelError, fmt.Sprintf("Connect to %s failed: %v", msg.addr, msg.err))
		} else {
			m.title = "remote " + msg.addr
			m.addNote(bridge.LevelInfo, "Connected to "+msg.addr)
		}
		m.rebuildViewport()
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.addNote(bridge.LevelError, fmt.Sprintf("%s failed: %v", msg.req.MessageType(), msg.err))
			m.rebuildViewport()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// handleEvent はイベントを表示ログに畳み込み、再描画を予約する。
func (m *Model) handleEvent(ev protocol.Event) tea.Cmd {
	var cmds []tea.Cmd

	u := m.log.Observe(ev)
	if u.Prompt != nil {
		m.prompt = u.Prompt
	}

	switch e := ev.(type) {
	case protocol.TaskStarted:
		m.prompt = nil
		m.cache = nil
		m.addNote(bridge.LevelInfo, "Task started")
	case protocol.TaskComplete:
		m.addNote(bridge.LevelInfo, "✓ Task complete")
	case protocol.ErrorEvent:
		m.addNote(bridge.LevelError, "✗ "+e.Message)
	case protocol.ModelsList:
		m.models = e.Models
		m.addNote(bridge.LevelInfo, fmt.Sprintf("%d models from %d providers", e.Models.Len(), len(e.Models.Providers())))
	case protocol.Status:
		m.addNote(bridge.LevelInfo, "Status: "+e.Message)
	}

	state := m.State()
	if state != session.StateAwaitingInput && state != session.StateAwaitingAuthorization {
		m.prompt = nil
	}
	if state.Active() && !m.spinning {
		m.spinning = true
		cmds = append(cmds, m.spinner.Tick)
	} else if !state.Active() {
		m.spinning = false
	}

	// ストリーミング断片はまとめて描画する
	if te, ok := ev.(protocol.TaskEvent); ok && te.EventType == protocol.EventStream {
		m.viewportDirty = true
		if !m.debouncing {
			m.debouncing = true
			cmds = append(cmds, tea.Tick(debounceInterval, func(time.Time) tea.Msg { return debounceMsg{} }))
		}
	} else {
		m.viewportDirty = false
		m.rebuildViewport()
	}
	return tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirmQuit {
		switch msg.String() {
		case "y", "Y", "ctrl+c":
			return m, tea.Quit
		case "n", "N", "esc":
			m.confirmQuit = false
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		m.confirmQuit = true
		return m, nil
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		return m.submit(text)
	}

	// 承認待ちで入力欄が空なら y / n だけで答えられる
	if m.State() == session.StateAwaitingAuthorization && m.input.Value() == "" {
		switch msg.String() {
		case "y", "Y":
			return m.submit("y")
		case "n", "N":
			return m.submit("n")
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit は入力欄の確定テキストを状態に応じて解釈する。
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	switch state := m.State(); state {
	case session.StateAwaitingAuthorization:
		answer, ok := authorizationAnswer(text)
		if !ok {
			m.addNote(bridge.LevelWarn, "Answer y (approve) or n (deny)")
			m.rebuildViewport()
			return m, nil
		}
		return m, m.send(protocol.SubmitInput{Input: answer})

	case session.StateAwaitingInput:
		return m, m.send(protocol.SubmitInput{Input: text})

	case session.StateReady:
		if len(m.cfg.Roles) == 0 {
			m.addNote(bridge.LevelWarn, "No roles configured; use /role")
			m.rebuildViewport()
			return m, nil
		}
		return m, m.send(protocol.StartTask{Config: m.cfg, Task: text})

	default:
		m.addNote(bridge.LevelWarn, fmt.Sprintf("Cannot start a task while %s", state))
		m.rebuildViewport()
		return m, nil
	}
}

// authorizationAnswer は y/n 系の入力を APPROVED / DENIED に変換する。
func authorizationAnswer(text string) (string, bool) {
	switch strings.ToLower(text) {
	case "y", "yes", strings.ToLower(protocol.Approved):
		return protocol.Approved, true
	case "n", "no", strings.ToLower(protocol.Denied):
		return protocol.Denied, true
	}
	return "", false
}

// recordNotice はホスト通知を履歴に足し、最新のものをステータスバーに出す。
func (m *Model) recordNotice(n bridge.Notice) {
	m.noticeLog = append(m.noticeLog, n)
	if len(m.noticeLog) > maxNotices {
		m.noticeLog = m.noticeLog[len(m.noticeLog)-maxNotices:]
	}
	latest := n
	m.notice = &latest
}

// addNote はシステムメッセージを追加する。古いものから捨てる。
func (m *Model) addNote(level bridge.Level, text string) {
	m.notes = append(m.notes, note{level: level, text: text})
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
}

// handleResize はウィンドウサイズに合わせて部品の寸法を決め直す。
func (m *Model) handleResize(w, h int) {
	m.width = w
	m.height = h

	const (
		statusBarH  = 1
		inputBorder = 2
		inputH      = 1
		paneBorder  = 2
	)
	vpH := h - statusBarH - inputH - inputBorder - paneBorder
	if vpH < 3 {
		vpH = 3
	}
	vpW := w - paneBorder
	if vpW < 10 {
		vpW = 10
	}
	m.viewport.Width = vpW
	m.viewport.Height = vpH
	m.input.Width = w - inputBorder - 6
	m.cache = nil
}

// rebuildViewport は表示ログとシステムメッセージから viewport の中身を作り直す。
func (m *Model) rebuildViewport() {
	m.cache = renderEntries(m.log.Entries(), m.cache, m.viewport.Width)

	var sb strings.Builder
	for _, r := range m.cache {
		sb.WriteString(r.out)
	}
	if len(m.notes) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		for _, n := range m.notes {
			sb.WriteString(renderNote(n))
		}
	}
	if m.prompt != nil {
		sb.WriteString("\n")
		sb.WriteString(renderPrompt(m.prompt, m.viewport.Width))
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}
