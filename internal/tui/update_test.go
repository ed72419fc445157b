package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/display"
	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// fakeController は送られた要求を記録するだけの Controller。
type fakeController struct {
	machine *session.Machine
	events  chan protocol.Event

	mu   sync.Mutex
	sent []protocol.Request
	err  error
}

func newFakeController() *fakeController {
	return &fakeController{
		machine: session.NewMachine(session.StateReady),
		events:  make(chan protocol.Event, 16),
	}
}

func (f *fakeController) Send(_ context.Context, req protocol.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return f.err
}

func (f *fakeController) Events() <-chan protocol.Event { return f.events }
func (f *fakeController) Machine() *session.Machine     { return f.machine }

func (f *fakeController) requests() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.sent...)
}

func testRoles() protocol.AgentConfig {
	return protocol.AgentConfig{
		WorkDir: "./workspace",
		Roles: []protocol.RoleConfig{
			{Name: "Planner", Model: protocol.ModelConfig{Provider: "openai", Model: "gpt-4o"}},
			{Name: "Developer", Model: protocol.ModelConfig{Provider: "ollama", Model: "qwen2.5-coder"}},
		},
	}
}

func newTestModel(t *testing.T) (Model, *fakeController) {
	t.Helper()
	fc := newFakeController()
	m := New(fc, Options{Title: "test", Config: testRoles()})
	m.handleResize(120, 40)
	m.ready = true
	return m, fc
}

// deliver はコントローラーの状態機械にイベントを反映してから Update に渡す。
// 実際の Controller もイベントを流す前に状態機械を進める。
func deliver(t *testing.T, m Model, fc *fakeController, ev protocol.Event) Model {
	t.Helper()
	fc.machine.Observe(ev)
	next, _ := m.Update(eventMsg{ev: ev})
	return next.(Model)
}

// enter は入力欄に text を入れて Enter を押し、返ってきたコマンドを実行する。
func enter(t *testing.T, m Model, text string) (Model, tea.Msg) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	var msg tea.Msg
	if cmd != nil {
		msg = cmd()
	}
	return next.(Model), msg
}

// collect は cmd を実行し、tea.Batch なら中身も展開してメッセージを集める。
// タイマー系のコマンドは待たない。
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		out = append(out, collect(c)...)
	}
	return out
}

func noteTexts(m Model) string {
	var parts []string
	for _, n := range m.notes {
		parts = append(parts, n.text)
	}
	return strings.Join(parts, "\n")
}

// ---------------------------------------------------------------------------
// input routing
// ---------------------------------------------------------------------------

func TestSubmit_StartsTaskWhenReady(t *testing.T) {
	m, fc := newTestModel(t)

	m, msg := enter(t, m, "build a CLI")

	reqs := fc.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	st, ok := reqs[0].(protocol.StartTask)
	if !ok || st.Task != "build a CLI" || len(st.Config.Roles) != 2 {
		t.Errorf("request: %#v", reqs[0])
	}
	if _, ok := msg.(sentMsg); !ok {
		t.Errorf("expected sentMsg, got %T", msg)
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared after Enter")
	}
}

func TestSubmit_EmptyInputIgnored(t *testing.T) {
	m, fc := newTestModel(t)
	_, msg := enter(t, m, "   ")
	if msg != nil || len(fc.requests()) != 0 {
		t.Error("blank input should not send anything")
	}
}

func TestSubmit_AnswersQuestion(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.Question("Developer", "Which database?"))

	if m.prompt == nil || m.prompt.Kind != display.PromptInput || m.prompt.Question != "Which database?" {
		t.Fatalf("prompt: %+v", m.prompt)
	}

	enter(t, m, "sqlite")
	reqs := fc.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests: %v", reqs)
	}
	if in, ok := reqs[0].(protocol.SubmitInput); !ok || in.Input != "sqlite" {
		t.Errorf("request: %#v", reqs[0])
	}
}

func TestSubmit_AuthorizationKeys(t *testing.T) {
	tests := []struct {
		name  string
		key   tea.KeyMsg
		want  string
		typed string
	}{
		{name: "y key", key: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")}, want: protocol.Approved},
		{name: "n key", key: tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}, want: protocol.Denied},
		{name: "typed yes", typed: "yes", want: protocol.Approved},
		{name: "typed DENIED", typed: "DENIED", want: protocol.Denied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fc := newTestModel(t)
			m = deliver(t, m, fc, protocol.TaskStarted{})
			m = deliver(t, m, fc, protocol.NewAuthorizationEvent("Developer",
				protocol.Authorization{Role: "Developer", Question: "Run migrations?"}))

			if m.prompt == nil || m.prompt.Kind != display.PromptAuthorization || m.prompt.Question != "Run migrations?" {
				t.Fatalf("prompt: %+v", m.prompt)
			}

			if tt.typed != "" {
				enter(t, m, tt.typed)
			} else {
				_, cmd := m.Update(tt.key)
				if cmd == nil {
					t.Fatal("expected a send command")
				}
				cmd()
			}
			reqs := fc.requests()
			if len(reqs) != 1 {
				t.Fatalf("requests: %v", reqs)
			}
			if in := reqs[0].(protocol.SubmitInput); in.Input != tt.want {
				t.Errorf("answer: got %q, want %q", in.Input, tt.want)
			}
		})
	}
}

func TestSubmit_InvalidAuthorizationAnswer(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.NewAuthorizationEvent("Developer",
		protocol.Authorization{Role: "Developer", Question: "Run migrations?"}))

	m, _ = enter(t, m, "maybe")
	if len(fc.requests()) != 0 {
		t.Error("invalid answer must not be sent")
	}
	if !strings.Contains(noteTexts(m), "Answer y") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestSubmit_BusyShowsNote(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})

	m, _ = enter(t, m, "another task")
	if len(fc.requests()) != 0 {
		t.Error("no request expected while running")
	}
	if !strings.Contains(noteTexts(m), "Running") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestSentMsg_ErrorBecomesNote(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(sentMsg{req: protocol.GetStatus{}, err: errors.New("remote: not connected")})
	m = next.(Model)
	if !strings.Contains(noteTexts(m), "GetStatus failed: remote: not connected") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

// ---------------------------------------------------------------------------
// events
// ---------------------------------------------------------------------------

func TestEvents_StreamCoalesced(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.Stream("Planner", "Plan: "))
	m = deliver(t, m, fc, protocol.Stream("Planner", "step 1"))
	m = deliver(t, m, fc, protocol.Thought("Developer", "reading go.mod"))

	want := []display.Entry{
		{Source: "Planner", Kind: display.KindResponse, Content: "Plan: step 1"},
		{Source: "Developer", Kind: protocol.EventThought, Content: "reading go.mod"},
	}
	got := m.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries: %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if !m.spinning {
		t.Error("spinner should run while the task is active")
	}
}

func TestEvents_TaskStartedClearsLog(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.Stream("Planner", "old"))
	m = deliver(t, m, fc, protocol.TaskComplete{Result: "old"})
	m = deliver(t, m, fc, protocol.TaskStarted{})
	if len(m.Entries()) != 0 {
		t.Errorf("entries after TaskStarted: %+v", m.Entries())
	}
}

func TestEvents_TerminalClearsPrompt(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.Question("Developer", "Which database?"))
	m = deliver(t, m, fc, protocol.ErrorEvent{Message: "task cancelled"})

	if m.prompt != nil {
		t.Error("prompt should be cleared when the task ends")
	}
	if m.spinning {
		t.Error("spinner should stop when the task ends")
	}
	if !strings.Contains(noteTexts(m), "✗ task cancelled") {
		t.Errorf("notes: %q", noteTexts(m))
	}
	if m.State() != session.StateReady {
		t.Errorf("state: %s", m.State())
	}
}

func TestEvents_ModelsList(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.ModelsList{Models: protocol.ModelCatalog{
		"ollama": {"llama3", "qwen2.5"},
		"openai": {"gpt-4o"},
	}})
	if m.models.Len() != 3 {
		t.Errorf("models: %v", m.models)
	}
	if !strings.Contains(noteTexts(m), "3 models from 2 providers") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestEvents_ResubscribesAfterEachEvent(t *testing.T) {
	m, fc := newTestModel(t)
	fc.events <- protocol.Status{Running: false, Message: "Ready"}

	_, cmd := m.Update(eventMsg{ev: protocol.TaskStarted{}})
	if cmd == nil {
		t.Fatal("expected a command that waits for the next event")
	}
	// tea.Batch の中から次のイベント待ちを探す
	found := false
	for _, msg := range collect(cmd) {
		if ev, ok := msg.(eventMsg); ok {
			if _, ok := ev.ev.(protocol.Status); ok {
				found = true
			}
		}
	}
	if !found {
		t.Error("Update should wait for the next event")
	}
}

func TestEventsClosed(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(eventsClosedMsg{})
	m = next.(Model)
	if !strings.Contains(noteTexts(m), "Event stream closed") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestNoticeShownInStatusBar(t *testing.T) {
	m, _ := newTestModel(t)
	m.handleResize(200, 40)
	next, _ := m.Update(noticeMsg{Level: bridge.LevelInfo, Message: "controller attached: 10.0.0.7:51234"})
	m = next.(Model)
	if m.notice == nil || !strings.Contains(stripANSI(m.View()), "controller attached") {
		t.Error("notice should appear in the status bar")
	}
}

// ---------------------------------------------------------------------------
// commands
// ---------------------------------------------------------------------------

func TestCommand_Cancel(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	enter(t, m, "/cancel")
	reqs := fc.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests: %v", reqs)
	}
	if _, ok := reqs[0].(protocol.CancelTask); !ok {
		t.Errorf("request: %#v", reqs[0])
	}
}

func TestCommand_Status(t *testing.T) {
	m, fc := newTestModel(t)
	enter(t, m, "/status")
	if reqs := fc.requests(); len(reqs) != 1 || reqs[0].MessageType() != protocol.TypeGetStatus {
		t.Errorf("requests: %v", reqs)
	}
}

func TestCommand_Models(t *testing.T) {
	m, fc := newTestModel(t)
	m.models = protocol.ModelCatalog{"ollama": {"llama3"}}
	m, _ = enter(t, m, "/models")
	if !strings.Contains(noteTexts(m), "ollama: llama3") {
		t.Errorf("notes: %q", noteTexts(m))
	}
	if reqs := fc.requests(); len(reqs) != 1 || reqs[0].MessageType() != protocol.TypeGetModels {
		t.Errorf("requests: %v", reqs)
	}
}

func TestCommand_Clear(t *testing.T) {
	m, fc := newTestModel(t)
	m = deliver(t, m, fc, protocol.TaskStarted{})
	m = deliver(t, m, fc, protocol.Stream("Planner", "hello"))
	m, _ = enter(t, m, "/clear")
	if len(m.Entries()) != 0 || len(m.notes) != 0 {
		t.Errorf("entries=%d notes=%d", len(m.Entries()), len(m.notes))
	}
}

func TestCommand_Role(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantID  string
	}{
		{name: "valid", input: "/role 2 Anthropic/claude-sonnet", wantID: "anthropic/claude-sonnet"},
		{name: "index out of range", input: "/role 3 openai/gpt-4o", wantErr: true},
		{name: "index zero", input: "/role 0 openai/gpt-4o", wantErr: true},
		{name: "no slash", input: "/role 1 gpt-4o", wantErr: true},
		{name: "missing args", input: "/role 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fc := newTestModel(t)
			original := testRoles()
			m, _ = enter(t, m, tt.input)
			if len(fc.requests()) != 0 {
				t.Error("/role must not send anything")
			}
			got := m.Config().Roles[1].Model.ID()
			if tt.wantErr {
				if got != original.Roles[1].Model.ID() {
					t.Errorf("role changed on error: %s", got)
				}
				last := m.notes[len(m.notes)-1]
				if last.level != bridge.LevelWarn {
					t.Errorf("expected warning note, got %+v", last)
				}
				return
			}
			if got != tt.wantID {
				t.Errorf("role 2: got %s, want %s", got, tt.wantID)
			}
		})
	}
}

func TestCommand_RoleThenStart(t *testing.T) {
	m, fc := newTestModel(t)
	m, _ = enter(t, m, "/role 1 ollama/llama3")
	enter(t, m, "do it")
	st := fc.requests()[0].(protocol.StartTask)
	if st.Config.Roles[0].Model.ID() != "ollama/llama3" {
		t.Errorf("StartTask config: %+v", st.Config.Roles[0])
	}
}

func TestCommand_Roles(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/roles")
	notes := noteTexts(m)
	if !strings.Contains(notes, "1. Planner  openai/gpt-4o") || !strings.Contains(notes, "2. Developer  ollama/qwen2.5-coder") {
		t.Errorf("notes: %q", notes)
	}
}

func TestCommand_Quit(t *testing.T) {
	m, _ := newTestModel(t)
	_, msg := enter(t, m, "/quit")
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("expected QuitMsg, got %T", msg)
	}
}

func TestCommand_Unknown(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/frobnicate")
	if !strings.Contains(noteTexts(m), "Unknown command /frobnicate") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

// ---------------------------------------------------------------------------
// quit confirmation
// ---------------------------------------------------------------------------

func TestCtrlC_AsksForConfirmation(t *testing.T) {
	m, _ := newTestModel(t)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)
	if !m.confirmQuit || cmd != nil {
		t.Fatal("ctrl+c should open the confirmation dialog")
	}
	if !strings.Contains(stripANSI(m.View()), "Quit agentrelay?") {
		t.Error("dialog should be rendered")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if m.confirmQuit {
		t.Error("esc should close the dialog")
	}

	m.confirmQuit = true
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("y should quit")
	}
}

// ---------------------------------------------------------------------------
// connection
// ---------------------------------------------------------------------------

// fakeConnector は再接続できる Controller。remote.Client の代わり。
type fakeConnector struct {
	*fakeController
	lost       chan error
	connectErr error

	connMu sync.Mutex
	addr   string
	dialed []string
	closed int
}

func newFakeConnector(addr string) *fakeConnector {
	fc := newFakeController()
	fc.machine = session.NewMachine(session.StateDisconnected)
	return &fakeConnector{fakeController: fc, lost: make(chan error, 1), addr: addr}
}

func (f *fakeConnector) Connect(_ context.Context, addr string) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	f.dialed = append(f.dialed, addr)
	if err := f.machine.Connect(); err != nil {
		return err
	}
	if f.connectErr != nil {
		f.machine.Disconnect()
		return f.connectErr
	}
	f.addr = addr
	return f.machine.Connected()
}

func (f *fakeConnector) Close() error {
	f.connMu.Lock()
	f.closed++
	f.connMu.Unlock()
	f.machine.Disconnect()
	f.lost <- nil
	return nil
}

func (f *fakeConnector) Lost() <-chan error { return f.lost }

func (f *fakeConnector) Addr() string {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.addr
}

func newRemoteModel(t *testing.T, addr string) (Model, *fakeConnector) {
	t.Helper()
	fc := newFakeConnector(addr)
	m := New(fc, Options{Title: "remote " + addr, Config: testRoles()})
	m.handleResize(120, 40)
	m.ready = true
	return m, fc
}

func TestConnectionLost_ShowsCause(t *testing.T) {
	m, fc := newRemoteModel(t, "10.0.0.5:5555")
	fc.machine = session.NewMachine(session.StateReady)
	m = deliver(t, m, fc.fakeController, protocol.TaskStarted{})
	m = deliver(t, m, fc.fakeController, protocol.Question("Developer", "Which database?"))
	if m.prompt == nil || !m.spinning {
		t.Fatal("precondition: prompt and spinner should be active")
	}

	fc.machine.Disconnect()
	next, cmd := m.Update(lostMsg{err: errors.New("read tcp: connection reset by peer")})
	m = next.(Model)

	if !strings.Contains(noteTexts(m), "Connection lost: read tcp: connection reset by peer") {
		t.Errorf("notes: %q", noteTexts(m))
	}
	if m.prompt != nil || m.spinning {
		t.Error("a lost connection should clear the prompt and spinner")
	}
	if !strings.Contains(stripANSI(m.View()), "Disconnected") {
		t.Error("status bar should show Disconnected")
	}

	// 次の切断も待ち続ける
	fc.lost <- nil
	if got, ok := cmd().(lostMsg); !ok || got.err != nil {
		t.Errorf("re-armed command: got %#v", got)
	}
}

func TestConnectionLost_CleanDisconnect(t *testing.T) {
	m, _ := newRemoteModel(t, "10.0.0.5:5555")
	next, _ := m.Update(lostMsg{})
	m = next.(Model)
	if !strings.Contains(noteTexts(m), "Disconnected (use /connect to reconnect)") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestCommand_Connect(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		connectErr error
		wantDial   string
		wantNote   string
		wantTitle  string
	}{
		{name: "explicit address", input: "/connect 10.0.0.9:6000", wantDial: "10.0.0.9:6000", wantNote: "Connected to 10.0.0.9:6000", wantTitle: "remote 10.0.0.9:6000"},
		{name: "last address", input: "/connect", wantDial: "10.0.0.5:5555", wantNote: "Connected to 10.0.0.5:5555", wantTitle: "remote 10.0.0.5:5555"},
		{name: "refused", input: "/connect 10.0.0.9:6000", connectErr: errors.New("connection refused"), wantDial: "10.0.0.9:6000", wantNote: "Connect to 10.0.0.9:6000 failed: connection refused", wantTitle: "remote 10.0.0.5:5555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fc := newRemoteModel(t, "10.0.0.5:5555")
			fc.connectErr = tt.connectErr

			m, msg := enter(t, m, tt.input)
			if _, ok := msg.(connectedMsg); !ok {
				t.Fatalf("expected connectedMsg, got %T", msg)
			}
			next, _ := m.Update(msg)
			m = next.(Model)

			if len(fc.dialed) != 1 || fc.dialed[0] != tt.wantDial {
				t.Errorf("dialed: %v", fc.dialed)
			}
			if !strings.Contains(noteTexts(m), tt.wantNote) {
				t.Errorf("notes: %q", noteTexts(m))
			}
			if m.title != tt.wantTitle {
				t.Errorf("title: got %q, want %q", m.title, tt.wantTitle)
			}
		})
	}
}

func TestCommand_ConnectWhileConnected(t *testing.T) {
	m, fc := newRemoteModel(t, "10.0.0.5:5555")
	fc.machine = session.NewMachine(session.StateReady)
	m, msg := enter(t, m, "/connect")
	if msg != nil || len(fc.dialed) != 0 {
		t.Fatalf("must not dial while connected: %v", fc.dialed)
	}
	if !strings.Contains(noteTexts(m), "Already connected (Ready)") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestCommand_ConnectOnHost(t *testing.T) {
	m, _ := newTestModel(t)
	for _, cmd := range []string{"/connect 10.0.0.9", "/disconnect"} {
		var msg tea.Msg
		m, msg = enter(t, m, cmd)
		if msg != nil {
			t.Errorf("%s: unexpected message %T", cmd, msg)
		}
	}
	if !strings.Contains(noteTexts(m), "only available in remote mode") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestCommand_Disconnect(t *testing.T) {
	m, fc := newRemoteModel(t, "10.0.0.5:5555")
	fc.machine = session.NewMachine(session.StateReady)
	enter(t, m, "/disconnect")
	if fc.closed != 1 {
		t.Errorf("Close calls: %d", fc.closed)
	}
	if fc.machine.State() != session.StateDisconnected {
		t.Errorf("state: %s", fc.machine.State())
	}
}

// ---------------------------------------------------------------------------
// notices
// ---------------------------------------------------------------------------

func TestNotices_HistoryAndLive(t *testing.T) {
	fc := newFakeController()
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.Local)
	m := New(fc, Options{Config: testRoles(), NoticeHistory: []bridge.Notice{
		{Time: at, Level: bridge.LevelInfo, Message: "Server listening on :5555"},
		{Time: at.Add(time.Second), Level: bridge.LevelInfo, Message: "Controller connected: 10.0.0.7:51234"},
	}})
	m.handleResize(200, 40)
	m.ready = true

	if m.notice == nil || m.notice.Message != "Controller connected: 10.0.0.7:51234" {
		t.Fatalf("status bar notice: %+v", m.notice)
	}
	next, _ := m.Update(noticeMsg{Time: at.Add(2 * time.Second), Level: bridge.LevelWarn, Message: "Controller connection lost: EOF"})
	m = next.(Model)

	m, _ = enter(t, m, "/notices")
	want := "Notices:\n" +
		"  09:30:00 [info] Server listening on :5555\n" +
		"  09:30:01 [info] Controller connected: 10.0.0.7:51234\n" +
		"  09:30:02 [warn] Controller connection lost: EOF"
	if got := m.notes[len(m.notes)-1].text; got != want {
		t.Errorf("/notices:\n%s\nwant:\n%s", got, want)
	}
}

func TestNotices_KeepsLatest(t *testing.T) {
	m, _ := newTestModel(t)
	for i := 1; i <= maxNotices+2; i++ {
		next, _ := m.Update(noticeMsg{Level: bridge.LevelInfo, Message: fmt.Sprintf("notice %d", i)})
		m = next.(Model)
	}
	if len(m.noticeLog) != maxNotices {
		t.Fatalf("history length: %d", len(m.noticeLog))
	}
	if m.noticeLog[0].Message != "notice 3" || m.notice.Message != fmt.Sprintf("notice %d", maxNotices+2) {
		t.Errorf("history: first=%q latest=%q", m.noticeLog[0].Message, m.notice.Message)
	}
}

func TestNotices_Empty(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = enter(t, m, "/notices")
	if !strings.Contains(noteTexts(m), "No notices") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

// ---------------------------------------------------------------------------
// role pipeline editing
// ---------------------------------------------------------------------------

func TestCommand_RoleAddRemove(t *testing.T) {
	m, _ := newTestModel(t)
	original := m.Config().Roles

	m, _ = enter(t, m, "/role add Reviewer Anthropic/claude-sonnet")
	roles := m.Config().Roles
	if len(roles) != 3 || roles[2].Name != "Reviewer" || roles[2].Model.ID() != "anthropic/claude-sonnet" {
		t.Fatalf("after add: %+v", roles)
	}

	m, _ = enter(t, m, "/role rm 1")
	roles = m.Config().Roles
	if len(roles) != 2 || roles[0].Name != "Developer" || roles[1].Name != "Reviewer" {
		t.Fatalf("after rm: %+v", roles)
	}
	if original[0].Name != "Planner" || len(original) != 2 {
		t.Errorf("earlier config must not be modified: %+v", original)
	}
	if !strings.Contains(noteTexts(m), "1. Developer  ollama/qwen2.5-coder") {
		t.Errorf("notes: %q", noteTexts(m))
	}
}

func TestCommand_RoleAddRemoveErrors(t *testing.T) {
	for _, input := range []string{
		"/role add Reviewer",
		"/role add Reviewer claude",
		"/role rm",
		"/role rm 5",
		"/role rm x",
	} {
		t.Run(input, func(t *testing.T) {
			m, _ := newTestModel(t)
			m, _ = enter(t, m, input)
			if len(m.Config().Roles) != 2 {
				t.Errorf("roles changed: %+v", m.Config().Roles)
			}
			if last := m.notes[len(m.notes)-1]; last.level != bridge.LevelWarn {
				t.Errorf("expected warning, got %+v", last)
			}
		})
	}
}

func TestCommand_WorkDir(t *testing.T) {
	m, fc := newTestModel(t)
	m, _ = enter(t, m, "/workdir")
	if !strings.Contains(noteTexts(m), "Work directory: ./workspace") {
		t.Errorf("notes: %q", noteTexts(m))
	}

	m, _ = enter(t, m, "/workdir /srv/project")
	if m.Config().WorkDir != "/srv/project" {
		t.Fatalf("WorkDir: %q", m.Config().WorkDir)
	}
	enter(t, m, "build it")
	if st := fc.requests()[0].(protocol.StartTask); st.Config.WorkDir != "/srv/project" {
		t.Errorf("StartTask work_dir: %q", st.Config.WorkDir)
	}
}
