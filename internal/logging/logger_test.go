package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_UsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(Options{Level: "debug", Writer: &buf, Component: "bridge"})
	lg.Debug("boot", "k", "v")

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("expected DEBUG level, got %s", out)
	}
	if !strings.Contains(out, `"component":"bridge"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	lg := New(Options{Writer: &buf, Format: "text"})
	lg.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %s", buf.String())
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(Options{Level: "warn", Writer: &buf})
	lg.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenFile(t *testing.T) {
	w, closeFn, err := OpenFile("")
	if err != nil || w == nil {
		t.Fatalf("empty path: %v", err)
	}
	_ = closeFn()

	path := filepath.Join(t.TempDir(), "logs", "agentrelay.log")
	w, closeFn, err = OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	New(Options{Writer: w}).Info("written")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written") {
		t.Errorf("log file: %s", data)
	}
}
