// Package tui は host と remote の両方で使う Bubble Tea の観測 UI を実装する。
//
// UI は Controller を通して要求を送り、Controller の Events から届くイベントを
// display.Log に畳み込んで表示する。状態の判断は Controller の状態機械に任せる。
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/display"
	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// Controller は UI が操作する相手。*bridge.LocalController と *remote.Client が実装する。
type Controller interface {
	Send(ctx context.Context, req protocol.Request) error
	Events() <-chan protocol.Event
	Machine() *session.Machine
}

// Connector は接続を張り直せる Controller。*remote.Client が実装する。
type Connector interface {
	Connect(ctx context.Context, addr string) error
	Close() error
	// Lost は切断のたびに理由を流す。Close による切断なら nil。
	Lost() <-chan error
	Addr() string
}

// maxNotes は画面下部に残すシステムメッセージの件数。
const maxNotes = 50

// maxNotices は /notices で見られるホスト通知の件数。
const maxNotices = 10

// sendTimeout は 1 要求の送信にかける上限。
const sendTimeout = 10 * time.Second

// Options は Model の初期設定。
type Options struct {
	// Title はステータスバーに出す接続先の説明（例 "host :5555"）。
	Title string
	// Config は StartTask に載せるロール構成。/role で書き換えられる。
	Config protocol.AgentConfig
	// Notices はホストの接続状況の通知。remote では nil。
	Notices <-chan bridge.Notice
	// NoticeHistory は UI 起動前に出た通知（古い順）。
	NoticeHistory []bridge.Notice
	// QueryOnStart が true なら起動時に GetModels と GetStatus を送る。
	QueryOnStart bool
}

// eventMsg は Controller から届いたイベント。
type eventMsg struct{ ev protocol.Event }

// eventsClosedMsg は Controller のイベントチャネルが閉じたことを表す。
type eventsClosedMsg struct{}

// noticeMsg はホストからの通知。
type noticeMsg bridge.Notice

// lostMsg はホストとの接続が切れたことを表す。err が nil なら自分で切断した。
type lostMsg struct{ err error }

// connectedMsg は /connect の結果。
type connectedMsg struct {
	addr string
	err  error
}

// sentMsg は要求送信の結果。
type sentMsg struct {
	req protocol.Request
	err error
}

// debounceMsg はストリーミング中の再描画をまとめるためのタイマー。
type debounceMsg struct{}

const debounceInterval = 50 * time.Millisecond

// Model is the root Bubble Tea model.
type Model struct {
	ctrl    Controller
	title   string
	cfg     protocol.AgentConfig
	notices <-chan bridge.Notice
	query   bool

	log    *display.Log
	prompt *display.Prompt
	models protocol.ModelCatalog
	notes  []note
	notice *bridge.Notice
	// noticeLog は直近のホスト通知（古い順）。
	noticeLog []bridge.Notice

	width    int
	height   int
	ready    bool
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	spinning bool

	viewportDirty bool
	debouncing    bool
	confirmQuit   bool
	cache         []renderedEntry
}

// note は UI 自身が出すメッセージ 1 行。
type note struct {
	level bridge.Level
	text  string
}

// New は Model を初期化する。
func New(ctrl Controller, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe a task, or /help"
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		ctrl:    ctrl,
		title:   opts.Title,
		cfg:     opts.Config,
		notices: opts.Notices,
		query:   opts.QueryOnStart,
		log:     &display.Log{},
		input:   ti,
		spinner: sp,
	}
	for _, n := range opts.NoticeHistory {
		m.recordNotice(n)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitEvent(m.ctrl.Events())}
	if m.notices != nil {
		cmds = append(cmds, waitNotice(m.notices))
	}
	if conn, ok := m.ctrl.(Connector); ok {
		cmds = append(cmds, waitLost(conn.Lost()))
	}
	if m.query {
		cmds = append(cmds, m.send(protocol.GetModels{}), m.send(protocol.GetStatus{}))
	}
	return tea.Batch(cmds...)
}

// waitEvent は次のイベントを待つ Bubble Tea コマンド。
func waitEvent(ch <-chan protocol.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func waitNotice(ch <-chan bridge.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func waitLost(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return lostMsg{err: <-ch}
	}
}

// connect はホストへの再接続を別 goroutine で行うコマンドを返す。
func connect(conn Connector, addr string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := conn.Connect(ctx, addr); err != nil {
			return connectedMsg{addr: addr, err: err}
		}
		return connectedMsg{addr: conn.Addr()}
	}
}

// send は要求を別 goroutine で送るコマンドを返す。
func (m Model) send(req protocol.Request) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return sentMsg{req: req, err: ctrl.Send(ctx, req)}
	}
}

// State はコントローラー側の状態を返す。
func (m Model) State() session.State { return m.ctrl.Machine().State() }

// Entries は表示ログのエントリを返す。
func (m Model) Entries() []display.Entry { return m.log.Entries() }

// Config は現在のロール構成を返す。
func (m Model) Config() protocol.AgentConfig { return m.cfg }

// Run は Model を全画面で実行し、終了まで待つ。
func Run(ctrl Controller, opts Options) error {
	p := tea.NewProgram(New(ctrl, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
