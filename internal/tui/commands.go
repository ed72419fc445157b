package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

const helpText = `Commands:
  /cancel                               cancel the running task
  /clear                                clear the log
  /models                               list models and refresh the catalog
  /roles                                show the role pipeline
  /role <index> <provider>/<model>      change the model of a role
  /role add <name> <provider>/<model>   append a role
  /role rm <index>                      remove a role
  /workdir [path]                       show or change the work directory
  /status                               ask the host for its state
  /notices                              show recent host notices
  /connect [address]                    reconnect to a host (remote only)
  /disconnect                           close the connection (remote only)
  /quit                                 exit`

// runCommand は "/" で始まる入力を実行する。
func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	name, args := fields[0], fields[1:]

	switch name {
	case "/cancel":
		return m, m.send(protocol.CancelTask{})

	case "/clear":
		m.log.Clear()
		m.notes = nil
		m.cache = nil

	case "/models":
		m.addNote(bridge.LevelInfo, formatModels(m.models))
		m.rebuildViewport()
		return m, m.send(protocol.GetModels{})

	case "/roles":
		m.addNote(bridge.LevelInfo, formatRoles(m.cfg.Roles))

	case "/role":
		if err := m.editRoles(args); err != nil {
			m.addNote(bridge.LevelWarn, err.Error())
		} else {
			m.addNote(bridge.LevelInfo, formatRoles(m.cfg.Roles))
		}

	case "/workdir":
		switch len(args) {
		case 0:
			m.addNote(bridge.LevelInfo, "Work directory: "+m.cfg.WorkDir)
		case 1:
			m.cfg.WorkDir = args[0]
			m.addNote(bridge.LevelInfo, "Work directory set to "+args[0])
		default:
			m.addNote(bridge.LevelWarn, "usage: /workdir [path]")
		}

	case "/status":
		return m, m.send(protocol.GetStatus{})

	case "/notices":
		m.addNote(bridge.LevelInfo, formatNotices(m.noticeLog))

	case "/connect":
		conn, ok := m.ctrl.(Connector)
		if !ok {
			m.addNote(bridge.LevelWarn, "/connect is only available in remote mode")
			break
		}
		if st := m.State(); st != session.StateIdle && st != session.StateDisconnected {
			m.addNote(bridge.LevelWarn, fmt.Sprintf("Already connected (%s)", st))
			break
		}
		addr := conn.Addr()
		if len(args) > 0 {
			addr = args[0]
		}
		if addr == "" {
			m.addNote(bridge.LevelWarn, "usage: /connect <address>")
			break
		}
		m.addNote(bridge.LevelInfo, "Connecting to "+addr+"...")
		m.rebuildViewport()
		return m, connect(conn, addr)

	case "/disconnect":
		conn, ok := m.ctrl.(Connector)
		if !ok {
			m.addNote(bridge.LevelWarn, "/disconnect is only available in remote mode")
			break
		}
		return m, func() tea.Msg {
			_ = conn.Close()
			return nil
		}

	case "/quit", "/exit":
		return m, tea.Quit

	case "/help":
		m.addNote(bridge.LevelInfo, helpText)

	default:
		m.addNote(bridge.LevelWarn, fmt.Sprintf("Unknown command %s (try /help)", name))
	}
	m.rebuildViewport()
	return m, nil
}

// editRoles は /role の引数を解釈してロール構成を書き換える。
// 既に StartTask 済みのタスクには影響しない。
func (m *Model) editRoles(args []string) error {
	// 呼び出し元の Config を書き換えないよう複製してから変更する
	roles := make([]protocol.RoleConfig, len(m.cfg.Roles))
	copy(roles, m.cfg.Roles)

	switch {
	case len(args) > 0 && args[0] == "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: /role add <name> <provider>/<model>")
		}
		mc, err := parseModel(args[2])
		if err != nil {
			return err
		}
		roles = append(roles, protocol.RoleConfig{Name: args[1], Model: mc})

	case len(args) > 0 && args[0] == "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: /role rm <index>")
		}
		i, err := roleIndex(args[1], len(roles))
		if err != nil {
			return err
		}
		roles = append(roles[:i], roles[i+1:]...)

	default:
		if len(args) != 2 {
			return fmt.Errorf("usage: /role <index> <provider>/<model>")
		}
		i, err := roleIndex(args[0], len(roles))
		if err != nil {
			return err
		}
		mc, err := parseModel(args[1])
		if err != nil {
			return err
		}
		roles[i].Model.Provider = mc.Provider
		roles[i].Model.Model = mc.Model
	}
	m.cfg.Roles = roles
	return nil
}

// roleIndex は 1 始まりの番号を検証して 0 始まりで返す。
func roleIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("role index must be between 1 and %d", n)
	}
	return i - 1, nil
}

func parseModel(s string) (protocol.ModelConfig, error) {
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return protocol.ModelConfig{}, fmt.Errorf("model must look like <provider>/<model>, got %q", s)
	}
	return protocol.ModelConfig{Provider: strings.ToLower(provider), Model: model}, nil
}

func formatRoles(roles []protocol.RoleConfig) string {
	if len(roles) == 0 {
		return "No roles configured"
	}
	var sb strings.Builder
	sb.WriteString("Roles:")
	for i, r := range roles {
		fmt.Fprintf(&sb, "\n  %d. %s  %s", i+1, r.Name, r.Model.ID())
	}
	return sb.String()
}

func formatNotices(ns []bridge.Notice) string {
	if len(ns) == 0 {
		return "No notices"
	}
	var sb strings.Builder
	sb.WriteString("Notices:")
	for _, n := range ns {
		fmt.Fprintf(&sb, "\n  %s [%s] %s", n.Time.Format("15:04:05"), n.Level, n.Message)
	}
	return sb.String()
}

func formatModels(c protocol.ModelCatalog) string {
	if c.Len() == 0 {
		return "No models known yet"
	}
	var sb strings.Builder
	sb.WriteString("Models:")
	for _, p := range c.Providers() {
		fmt.Fprintf(&sb, "\n  %s: %s", p, strings.Join(c[p], ", "))
	}
	return sb.String()
}
