package pipeline

import "testing"

func TestGuard_MatchesDangerousCalls(t *testing.T) {
	g := newGuard(DefaultGuardPatterns)

	cases := []struct {
		name    string
		args    map[string]any
		guarded bool
	}{
		{"shell/run", map[string]any{"command": "rm -rf /"}, true},
		{"shell/run", map[string]any{"command": "dd if=/dev/zero of=/dev/sda"}, true},
		{"shell/run", map[string]any{"command": "mkfs.ext4 /dev/sdb"}, true},
		{"git/exec", map[string]any{"args": "git push origin main --force"}, true},
		{"system/shutdown", nil, true},
		{"fs/read_file", map[string]any{"path": "go.mod"}, false},
		{"shell/run", map[string]any{"command": "go test ./..."}, false},
	}
	for _, c := range cases {
		if got := g.Match(c.name, c.args); got != c.guarded {
			t.Errorf("Match(%q, %v): got %v, want %v", c.name, c.args, got, c.guarded)
		}
	}
}

func TestGuard_EmptyPatterns_NeverMatches(t *testing.T) {
	g := newGuard(nil)
	if g.Match("shell/run", map[string]any{"command": "rm -rf /"}) {
		t.Error("empty guard should not match anything")
	}
	var nilGuard *guard
	if nilGuard.Match("shell/run", nil) {
		t.Error("nil guard should not match anything")
	}
}

func TestGuard_InvalidPatternSkipped(t *testing.T) {
	g := newGuard([]string{`[invalid`, `mkfs`})
	if len(g.patterns) != 1 {
		t.Fatalf("expected 1 compiled pattern, got %d", len(g.patterns))
	}
	if !g.Match("shell/run", map[string]any{"command": "mkfs /dev/sdb"}) {
		t.Error("valid pattern should still match")
	}
}
