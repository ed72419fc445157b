package remote_test

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/display"
	"github.com/ACFHarbinger/Coding-Assistants/internal/remote"
	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/internal/transport"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// scriptedExecutor は Start のたびに script を流す executor。
type scriptedExecutor struct {
	mu     sync.Mutex
	events chan protocol.Event
	script []protocol.Event
	tasks  []string
	inputs []string
}

func newScriptedExecutor(script ...protocol.Event) *scriptedExecutor {
	return &scriptedExecutor{events: make(chan protocol.Event, 64), script: script}
}

func (e *scriptedExecutor) Start(_ protocol.AgentConfig, task string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	for _, ev := range e.script {
		e.events <- ev
	}
	return nil
}

func (e *scriptedExecutor) Cancel()                       {}
func (e *scriptedExecutor) Events() <-chan protocol.Event { return e.events }

func (e *scriptedExecutor) SubmitInput(input string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, input)
	return nil
}

func (e *scriptedExecutor) inputCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inputs)
}

func (e *scriptedExecutor) taskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

type catalog protocol.ModelCatalog

func (c catalog) Models(context.Context) (protocol.ModelCatalog, error) {
	return protocol.ModelCatalog(c), nil
}

func startHost(t *testing.T, b *bridge.Bridge) (string, context.CancelFunc) {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", protocol.DecodeRequestMessage)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = b.Serve(ctx, ln)
	}()
	go func() { _ = b.Run(ctx) }()
	stop := func() {
		cancel()
		_ = ln.Close()
		<-served
	}
	t.Cleanup(stop)
	return ln.Addr(), stop
}

func recv(t *testing.T, ch <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func waitState(t *testing.T, m *session.Machine, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state: got %s, want %s", m.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// drainConnect は接続直後の 3 件（スナップショット、GetModels と GetStatus の応答）を読み捨てる。
func drainConnect(t *testing.T, c *remote.Client) {
	t.Helper()
	for i := 0; i < 3; i++ {
		recv(t, c.Events())
	}
}

func roles(names ...string) protocol.AgentConfig {
	cfg := protocol.AgentConfig{WorkDir: "./workspace"}
	for _, n := range names {
		cfg.Roles = append(cfg.Roles, protocol.RoleConfig{
			Name:  n,
			Model: protocol.ModelConfig{Provider: "ollama", Model: "llama3"},
		})
	}
	return cfg
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func TestConnect_QueriesModelsAndStatus(t *testing.T) {
	cat := catalog{"ollama": {"llama3", "qwen2.5"}}
	b := bridge.New(newScriptedExecutor(), cat)
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != session.StateReady {
		t.Errorf("state: got %s", c.State())
	}

	// 接続時スナップショット、ModelsList、GetStatus の応答の順に届く
	if _, ok := recv(t, c.Events()).(protocol.Status); !ok {
		t.Error("first event should be the attach snapshot")
	}
	if ml, ok := recv(t, c.Events()).(protocol.ModelsList); !ok || ml.Models.Len() != 2 {
		t.Errorf("second event: %#v", ml)
	}
	if _, ok := recv(t, c.Events()).(protocol.Status); !ok {
		t.Error("third event should be the GetStatus reply")
	}
	if c.Models().Len() != 2 {
		t.Errorf("Models: %v", c.Models())
	}
}

func TestConnect_RefusedIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := remote.New(remote.WithDialTimeout(time.Second))
	err = c.Connect(context.Background(), addr)
	var ce *transport.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if c.State() != session.StateDisconnected {
		t.Errorf("state: got %s, want Disconnected", c.State())
	}
	if c.Err() == nil {
		t.Error("Err should report the failure")
	}
}

func TestSend_NotConnected(t *testing.T) {
	c := remote.New()
	if err := c.Send(context.Background(), protocol.GetStatus{}); !errors.Is(err, remote.ErrNotConnected) {
		t.Errorf("got %v", err)
	}
}

func TestSend_IllegalRequestNotSent(t *testing.T) {
	exec := newScriptedExecutor()
	b := bridge.New(exec, nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}

	err := c.Send(context.Background(), protocol.SubmitInput{Input: "hello"})
	var it *session.IllegalTransition
	if !errors.As(err, &it) {
		t.Fatalf("expected IllegalTransition, got %v", err)
	}
	err = c.Send(context.Background(), protocol.StartTask{Config: roles("Planner"), Task: ""})
	if !errors.As(err, &it) {
		t.Fatalf("empty task: expected IllegalTransition, got %v", err)
	}
	if b.State() != session.StateReady || exec.taskCount() != 0 {
		t.Errorf("host must not be contacted: state=%s tasks=%d", b.State(), exec.taskCount())
	}
}

func TestHostShutdownDisconnects(t *testing.T) {
	b := bridge.New(newScriptedExecutor(), nil)
	addr, stop := startHost(t, b)

	c := remote.New()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	stop()
	waitState(t, c.Machine(), session.StateDisconnected)

	if err := c.Send(context.Background(), protocol.GetStatus{}); !errors.Is(err, remote.ErrNotConnected) {
		t.Errorf("Send after loss: %v", err)
	}
}

func TestReconnectAfterClose(t *testing.T) {
	b := bridge.New(newScriptedExecutor(), nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if c.State() != session.StateDisconnected {
		t.Fatalf("state after Close: %s", c.State())
	}
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer c.Close()
	if c.State() != session.StateReady {
		t.Errorf("state: %s", c.State())
	}
}

// ---------------------------------------------------------------------------
// end to end
// ---------------------------------------------------------------------------

func TestEndToEnd_BothObserversSeeSameLog(t *testing.T) {
	exec := newScriptedExecutor(
		protocol.TaskStarted{},
		protocol.Stream("Planner", "1. design the schema"),
		protocol.Stream("Planner", "\n2. write the code"),
		protocol.TaskComplete{Result: "done"},
	)
	b := bridge.New(exec, nil)
	local, unsubscribe := b.Subscribe(64)
	defer unsubscribe()
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}

	if err := c.Send(context.Background(), protocol.StartTask{Config: roles("Planner", "Developer"), Task: "build X"}); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	collect := func(ch <-chan protocol.Event) *display.Log {
		log := &display.Log{}
		for {
			ev := recv(t, ch)
			log.Observe(ev)
			if _, ok := ev.(protocol.TaskComplete); ok {
				return log
			}
		}
	}
	remoteLog := collect(c.Events())
	localLog := collect(local)

	want := []display.Entry{{
		Source:  "Planner",
		Kind:    display.KindResponse,
		Content: "1. design the schema\n2. write the code",
	}}
	if got := remoteLog.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("controller log: got %+v", got)
	}
	if got := localLog.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("local log: got %+v", got)
	}

	waitState(t, c.Machine(), session.StateReady)
	waitState(t, b.Machine(), session.StateReady)
	if st, msg := c.Machine().Outcome(); st != session.StateComplete || msg != "done" {
		t.Errorf("outcome: (%s, %q)", st, msg)
	}
}

func TestEndToEnd_TaskStartedLocallyIsSeenRemotely(t *testing.T) {
	exec := newScriptedExecutor(protocol.TaskStarted{}, protocol.Question("Developer", "Which database?"))
	b := bridge.New(exec, nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	waitState(t, c.Machine(), session.StateReady)

	lc := b.NewLocalController(16)
	defer lc.Close()
	if err := lc.Send(context.Background(), protocol.StartTask{Config: roles("Developer"), Task: "local task"}); err != nil {
		t.Fatal(err)
	}

	waitState(t, c.Machine(), session.StateAwaitingInput)
	// コントローラーからも回答できる
	if err := c.Send(context.Background(), protocol.SubmitInput{Input: "sqlite"}); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
	waitState(t, b.Machine(), session.StateRunning)
}

func TestAnsweredLocally_ControllerLeavesQuestion(t *testing.T) {
	exec := newScriptedExecutor(protocol.TaskStarted{}, protocol.Question("Developer", "Which database?"))
	b := bridge.New(exec, nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	drainConnect(t, c)

	lc := b.NewLocalController(16)
	defer lc.Close()
	if err := lc.Send(context.Background(), protocol.StartTask{Config: roles("Developer"), Task: "t"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, c.Machine(), session.StateAwaitingInput)

	if err := lc.Send(context.Background(), protocol.SubmitInput{Input: "sqlite"}); err != nil {
		t.Fatal(err)
	}
	// ホストで答えられた質問はコントローラー側でも閉じる
	waitState(t, c.Machine(), session.StateRunning)

	err := c.Send(context.Background(), protocol.SubmitInput{Input: "postgres"})
	var it *session.IllegalTransition
	if !errors.As(err, &it) {
		t.Fatalf("answering a closed question: got %v", err)
	}
	if st, _ := c.Machine().Outcome(); st != session.StateIdle {
		t.Errorf("outcome: got %s, want none", st)
	}
}

func TestRejectedAnswer_IsNotTaskFailure(t *testing.T) {
	exec := newScriptedExecutor(protocol.TaskStarted{}, protocol.Question("Developer", "Which database?"))
	b := bridge.New(exec, nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	defer c.Close()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	drainConnect(t, c)

	lc := b.NewLocalController(16)
	defer lc.Close()
	if err := lc.Send(context.Background(), protocol.StartTask{Config: roles("Developer"), Task: "t"}); err != nil {
		t.Fatal(err)
	}
	waitState(t, c.Machine(), session.StateAwaitingInput)
	if err := lc.Send(context.Background(), protocol.SubmitInput{Input: "sqlite"}); err != nil {
		t.Fatal(err)
	}

	// 通知より先に送れた場合、ホストは Error と Status で拒否する
	if err := c.Send(context.Background(), protocol.SubmitInput{Input: "postgres"}); err == nil {
		for {
			if st, ok := recv(t, c.Events()).(protocol.Status); ok && st.Message == session.StateRunning.String() {
				break
			}
		}
	}
	waitState(t, c.Machine(), session.StateRunning)
	if st, msg := c.Machine().Outcome(); st != session.StateIdle {
		t.Errorf("outcome: got (%s, %q), want none", st, msg)
	}
	if n := exec.inputCount(); n != 1 {
		t.Errorf("executor inputs: got %d, want 1", n)
	}
}

func TestConnectionLoss_IsReported(t *testing.T) {
	b := bridge.New(newScriptedExecutor(), nil)
	addr, stop := startHost(t, b)

	c := remote.New()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	stop()

	select {
	case <-c.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not reported")
	}
	if c.State() != session.StateDisconnected {
		t.Errorf("state: %s", c.State())
	}
}

func TestClose_ReportsCleanDisconnect(t *testing.T) {
	b := bridge.New(newScriptedExecutor(), nil)
	addr, _ := startHost(t, b)

	c := remote.New()
	if err := c.Connect(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-c.Lost():
		if err != nil {
			t.Errorf("Close should report a nil cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was not reported")
	}
}
