package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary   = lipgloss.Color("#00D7FF") // cyan: running / focus
	colorSecondary = lipgloss.Color("#AF87FF") // purple: role labels
	colorSuccess   = lipgloss.Color("#87FF5F") // green: complete
	colorWarning   = lipgloss.Color("#FFD700") // yellow: awaiting answer
	colorDanger    = lipgloss.Color("#FF5555") // red: failed / errors
	colorMuted     = lipgloss.Color("#555577") // dim gray: hints
	colorBorder    = lipgloss.Color("#333355") // default border
	colorText      = lipgloss.Color("#AAAAAA") // thoughts
)

// Panes
var (
	logPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	inputBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	inputBarActiveStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorWarning)
)

// Status bar (top)
var statusBarStyle = lipgloss.NewStyle().
	Background(lipgloss.Color("#0D0D1A")).
	Foreground(colorPrimary).
	Padding(0, 1)

// Prompt box (rendered inside viewport)
var promptBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorWarning).
	Padding(0, 1)

// Quit confirmation dialog (centered overlay)
var confirmQuitBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(colorDanger).
	Padding(0, 2)

var (
	roleLabelStyle = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	thoughtStyle   = lipgloss.NewStyle().Foreground(colorText).Italic(true)
	questionStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	noteInfoStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	noteWarnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	noteErrorStyle = lipgloss.NewStyle().Foreground(colorDanger)
	spinnerStyle   = lipgloss.NewStyle().Foreground(colorPrimary)
)

// stateStyle は状態アイコンの色を返す。
func stateStyle(s stateKind) lipgloss.Style {
	switch s {
	case stateOK:
		return lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	case stateBusy:
		return lipgloss.NewStyle().Foreground(colorPrimary)
	case stateWaiting:
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	case stateBad:
		return lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorMuted)
	}
}
