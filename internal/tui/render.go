package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/display"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// renderedEntry は描画済みエントリのキャッシュ。内容と幅が同じなら描き直さない。
type renderedEntry struct {
	entry display.Entry
	width int
	out   string
}

// renderEntries は entries を描画する。prev の同じ位置に同じ内容があれば再利用する。
// ストリーミング中は末尾のエントリだけが変わるので、Markdown の描画は 1 件で済む。
func renderEntries(entries []display.Entry, prev []renderedEntry, width int) []renderedEntry {
	out := make([]renderedEntry, len(entries))
	for i, e := range entries {
		if i < len(prev) && prev[i].entry == e && prev[i].width == width {
			out[i] = prev[i]
			continue
		}
		out[i] = renderedEntry{entry: e, width: width, out: renderEntry(e, width)}
	}
	return out
}

// renderEntry はエントリ 1 件を描画する。
// Format:
//
//	● Role
//	<markdown>
func renderEntry(e display.Entry, width int) string {
	header := roleLabelStyle.Render("● " + e.Source)
	switch e.Kind {
	case display.KindResponse:
		body, err := renderMarkdown(e.Content, width)
		if err != nil {
			// フォールバック: プレーンテキスト
			body = e.Content + "\n"
		}
		return header + "\n" + body
	case protocol.EventThought:
		return thoughtStyle.Render("  ⎿  "+e.Source+": "+e.Content) + "\n"
	case protocol.EventQuestion:
		return questionStyle.Render("? "+e.Source+" asks: "+e.Content) + "\n"
	case protocol.EventAuthorization:
		q := e.Content
		if a, err := protocol.ParseAuthorization(e.Content); err == nil {
			q = a.Question
		}
		return questionStyle.Render("⚠ "+e.Source+" requests approval: "+q) + "\n"
	default:
		return fmt.Sprintf("[%s] %s: %s\n", e.Kind, e.Source, e.Content)
	}
}

// renderMarkdown は glamour を使って Markdown をターミナル用にレンダリングする。
// ダークスタイルを明示指定する（WithAutoStyle は非 TTY 環境で plain にフォールバックする）。
// glamour の dark スタイルは左右マージンを追加するため、width を縮小して渡す。
func renderMarkdown(text string, width int) (string, error) {
	wrapWidth := width - 4
	if wrapWidth < 20 {
		wrapWidth = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

func renderNote(n note) string {
	style := noteInfoStyle
	switch n.level {
	case bridge.LevelWarn:
		style = noteWarnStyle
	case bridge.LevelError:
		style = noteErrorStyle
	}
	return style.Render(n.text) + "\n"
}

// renderPrompt は回答待ちの質問を枠付きで描画する。
func renderPrompt(p *display.Prompt, width int) string {
	var title, controls string
	switch p.Kind {
	case display.PromptAuthorization:
		title = "⚠  " + p.Role + " requests approval"
		controls = "  [y] approve   [n] deny"
	default:
		title = "?  " + p.Source + " asks"
		controls = "  type your answer and press Enter"
	}

	boxWidth := width - 2
	if boxWidth < 10 {
		boxWidth = 10
	}
	body := lipgloss.NewStyle().Foreground(colorWarning).Bold(true).Render(title) +
		"\n\n  " + p.Question + "\n\n" +
		lipgloss.NewStyle().Foreground(colorMuted).Render(controls)
	return promptBoxStyle.Width(boxWidth).Render(strings.TrimRight(body, "\n")) + "\n"
}
