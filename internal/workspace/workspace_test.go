package workspace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ACFHarbinger/Coding-Assistants/internal/workspace"
)

func newTools(t *testing.T) (*workspace.Tools, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"file1.txt":          "hello world\n",
		"file2.py":           "print('hello')\n",
		"subdir/file3.md":    "# Title\nsome hello here\n",
		".hidden/secret.txt": "hello secret\n",
		".env":               "KEY=hello\n",
	}
	for rel, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tools, err := workspace.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return tools, dir
}

// ---------------------------------------------------------------------------
// ListFiles
// ---------------------------------------------------------------------------

func TestListFiles(t *testing.T) {
	tools, _ := newTools(t)

	got, err := tools.ListFiles(".", false)
	if err != nil {
		t.Fatal(err)
	}
	if want := "file1.txt\nfile2.py\nsubdir/"; got != want {
		t.Errorf("flat: got %q, want %q", got, want)
	}

	got, err = tools.ListFiles(".", true)
	if err != nil {
		t.Fatal(err)
	}
	if want := "file1.txt\nfile2.py\nsubdir/file3.md"; got != want {
		t.Errorf("recursive: got %q, want %q", got, want)
	}

	got, err = tools.ListFiles("subdir", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "file3.md" {
		t.Errorf("subdir: got %q", got)
	}
}

func TestListFiles_Errors(t *testing.T) {
	tools, _ := newTools(t)
	if _, err := tools.ListFiles("missing", false); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := tools.ListFiles("../", false); !errors.Is(err, workspace.ErrOutsideWorkDir) {
		t.Errorf("expected ErrOutsideWorkDir, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// ReadFile / WriteFile
// ---------------------------------------------------------------------------

func TestReadFile(t *testing.T) {
	tools, _ := newTools(t)
	got, err := tools.ReadFile("subdir/file3.md")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "# Title") {
		t.Errorf("got %q", got)
	}
	if _, err := tools.ReadFile("nope.txt"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := tools.ReadFile("subdir"); err == nil {
		t.Error("expected error for directory")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	tools, _ := newTools(t)
	for _, p := range []string{"../outside.txt", "subdir/../../outside.txt", "/etc/passwd"} {
		if _, err := tools.ReadFile(p); !errors.Is(err, workspace.ErrOutsideWorkDir) {
			t.Errorf("ReadFile(%q): expected ErrOutsideWorkDir, got %v", p, err)
		}
		if err := tools.WriteFile(p, "x"); !errors.Is(err, workspace.ErrOutsideWorkDir) {
			t.Errorf("WriteFile(%q): expected ErrOutsideWorkDir, got %v", p, err)
		}
	}
}

func TestWriteFile_CreatesParents(t *testing.T) {
	tools, dir := newTools(t)
	if err := tools.WriteFile("cmd/app/main.go", "package main\n"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "cmd", "app", "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package main\n" {
		t.Errorf("content: %q", data)
	}
	if err := tools.WriteFile("file1.txt", "replaced"); err != nil {
		t.Fatal(err)
	}
	if got, _ := tools.ReadFile("file1.txt"); got != "replaced" {
		t.Errorf("overwrite: %q", got)
	}
}

// ---------------------------------------------------------------------------
// SearchFiles
// ---------------------------------------------------------------------------

func TestSearchFiles(t *testing.T) {
	tools, _ := newTools(t)
	got, err := tools.SearchFiles("hello", ".")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"file1.txt:1: hello world", "file2.py:1: print('hello')", "subdir/file3.md:2: some hello here"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "secret") || strings.Contains(got, "KEY=") {
		t.Errorf("hidden files must be skipped:\n%s", got)
	}

	got, err = tools.SearchFiles("nothing-matches", ".")
	if err != nil || got != "No matches found." {
		t.Errorf("no match: %q, %v", got, err)
	}
	if _, err := tools.SearchFiles("", "."); err == nil {
		t.Error("expected error for empty keyword")
	}
}

// ---------------------------------------------------------------------------
// CallTool
// ---------------------------------------------------------------------------

func TestCallTool(t *testing.T) {
	tools, _ := newTools(t)
	ctx := context.Background()

	res, err := tools.CallTool(ctx, workspace.ServerName, "write_file", map[string]any{"path": "out/result.txt", "content": "42"})
	if err != nil || res.IsError {
		t.Fatalf("write_file: %v %+v", err, res)
	}
	res, err = tools.CallTool(ctx, workspace.ServerName, "read_file", map[string]any{"path": "out/result.txt"})
	if err != nil || res.IsError || res.Text() != "42" {
		t.Fatalf("read_file: %v %+v", err, res)
	}
	res, err = tools.CallTool(ctx, workspace.ServerName, "list_files", map[string]any{"directory": "out", "recursive": true})
	if err != nil || res.Text() != "result.txt" {
		t.Fatalf("list_files: %v %+v", err, res)
	}

	// ファイルの問題はツールのエラー結果になる
	res, err = tools.CallTool(ctx, workspace.ServerName, "read_file", map[string]any{"path": "../x"})
	if err != nil || !res.IsError {
		t.Errorf("outside path should be a tool error: %v %+v", err, res)
	}

	if _, err := tools.CallTool(ctx, workspace.ServerName, "rm", nil); err == nil {
		t.Error("unknown tool should fail")
	}
	if _, err := tools.CallTool(ctx, "fs", "read_file", nil); err == nil {
		t.Error("unknown server should fail")
	}
}

func TestToolsSchemas(t *testing.T) {
	tools, _ := newTools(t)
	var names []string
	for _, s := range tools.Tools() {
		if s.Server != workspace.ServerName {
			t.Errorf("server: %q", s.Server)
		}
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "list_files,read_file,write_file,search_files" {
		t.Errorf("tools: %s", got)
	}
	if tools.RequiresAuthorization(workspace.ServerName) {
		t.Error("workspace tools do not require authorization")
	}
}
