package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

type stateKind int

const (
	stateIdle stateKind = iota
	stateOK
	stateBusy
	stateWaiting
	stateBad
)

func kindOf(s session.State) stateKind {
	switch s {
	case session.StateReady, session.StateComplete:
		return stateOK
	case session.StateConnecting, session.StateRunning:
		return stateBusy
	case session.StateAwaitingInput, session.StateAwaitingAuthorization:
		return stateWaiting
	case session.StateFailed, session.StateDisconnected:
		return stateBad
	default:
		return stateIdle
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "\n  ⚡ Starting agentrelay...\n"
	}

	statusBar := m.renderStatusBar()
	logPane := logPaneStyle.Width(m.width - 2).Render(m.viewport.View())
	inputBar := m.renderInputBar()

	base := lipgloss.JoinVertical(lipgloss.Left, statusBar, logPane, inputBar)
	if m.confirmQuit {
		base = m.overlayCenter(base, m.renderConfirmQuit())
	}
	return base
}

// renderStatusBar は 1 行のヘッダー。状態アイコン、接続先、ロール構成、最新の通知を並べる。
func (m Model) renderStatusBar() string {
	appName := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Render("⚡ AGENTRELAY")

	state := m.State()
	icon := state.Icon()
	if m.spinning {
		icon = m.spinner.View()
	}
	stateInfo := stateStyle(kindOf(state)).Render(icon + " " + state.String())

	left := appName + "  " + stateInfo
	if m.title != "" {
		left += "  " + lipgloss.NewStyle().Foreground(colorMuted).Render(m.title)
	}
	if roles := roleChain(m.cfg); roles != "" {
		left += "  " + lipgloss.NewStyle().Foreground(colorSecondary).Render(roles)
	}

	right := ""
	if m.notice != nil {
		right = "[" + string(m.notice.Level) + "] " + m.notice.Message
	}
	room := m.width - lipgloss.Width(left) - 4
	if room > 8 && right != "" {
		right = lipgloss.NewStyle().Foreground(colorMuted).Render(runewidth.Truncate(right, room, "…"))
	} else {
		right = ""
	}
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2))

	return statusBarStyle.Width(m.width).Render(left + gap + right)
}

// roleChain は "Planner → Developer → Reviewer" を返す。
func roleChain(cfg protocol.AgentConfig) string {
	names := make([]string, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		names = append(names, r.Name)
	}
	return strings.Join(names, " → ")
}

// renderInputBar は入力欄。回答待ちのときは枠の色と接頭辞が変わる。
func (m Model) renderInputBar() string {
	style := inputBarStyle
	prefix := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Render("> ")
	switch m.State() {
	case session.StateAwaitingInput:
		style = inputBarActiveStyle
		prefix = lipgloss.NewStyle().Foreground(colorWarning).Bold(true).Render("? ")
	case session.StateAwaitingAuthorization:
		style = inputBarActiveStyle
		prefix = lipgloss.NewStyle().Foreground(colorWarning).Bold(true).Render("[y/n] ")
	}
	return style.Width(m.width - 2).Render(prefix + m.input.View())
}

func (m Model) renderConfirmQuit() string {
	title := lipgloss.NewStyle().Foreground(colorWarning).Bold(true).Render("Quit agentrelay?")
	hint := lipgloss.NewStyle().Foreground(colorMuted).Render("[Y] Yes  [N] No  [Esc] Cancel")
	return confirmQuitBoxStyle.Render(fmt.Sprintf("\n  %s\n\n  %s\n", title, hint))
}

// overlayCenter は base の中央に overlay を重ねる。
func (m Model) overlayCenter(base, overlay string) string {
	baseLines := strings.Split(base, "\n")
	overlayLines := strings.Split(overlay, "\n")

	overlayH := len(overlayLines)
	overlayW := 0
	for _, line := range overlayLines {
		overlayW = max(overlayW, lipgloss.Width(line))
	}
	startRow := max(0, (m.height-overlayH)/2)
	startCol := max(0, (m.width-overlayW)/2)

	for len(baseLines) < startRow+overlayH {
		baseLines = append(baseLines, strings.Repeat(" ", m.width))
	}
	for i, oLine := range overlayLines {
		row := startRow + i
		baseLine := baseLines[row]
		left := truncateVisual(baseLine, startCol)
		right := ""
		if rightStart := startCol + lipgloss.Width(oLine); lipgloss.Width(baseLine) > rightStart {
			right = skipVisual(baseLine, rightStart)
		}
		baseLines[row] = left + oLine + right
	}
	return strings.Join(baseLines, "\n")
}

// truncateVisual は先頭 n 桁分を返す。足りなければ空白で埋める。
func truncateVisual(s string, n int) string {
	w := 0
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if w+rw > n {
			return s[:i] + strings.Repeat(" ", n-w)
		}
		w += rw
	}
	return s + strings.Repeat(" ", n-w)
}

// skipVisual は先頭 n 桁より後ろを返す。
func skipVisual(s string, n int) string {
	w := 0
	for i, r := range s {
		if w >= n {
			return s[i:]
		}
		w += runewidth.RuneWidth(r)
	}
	return ""
}
