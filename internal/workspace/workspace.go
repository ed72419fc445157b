// Package workspace はロールが作業ディレクトリを読み書きするための組み込みツールを提供する。
//
// ツールは MCP サーバーと同じ形（mcp.ToolSchema / mcp.CallResult）で公開し、
// TOOL 指示では "workspace/<tool>" として呼び出す。パスはすべて作業ディレクトリからの相対で、
// 外に出るものは拒否する。
package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ACFHarbinger/Coding-Assistants/internal/mcp"
)

// ServerName は TOOL 指示で使うサーバー名。
const ServerName = "workspace"

const (
	maxReadBytes    = 256 * 1024
	maxSearchHits   = 200
	maxSearchLineCh = 100
)

// ErrOutsideWorkDir は作業ディレクトリの外を指すパスを渡したときに返る。
var ErrOutsideWorkDir = errors.New("workspace: path is outside the work directory")

var schemas = []mcp.ToolSchema{
	{
		Server:      ServerName,
		Name:        "list_files",
		Description: "List files under a directory of the work dir. Args: directory (default \".\"), recursive (bool).",
		InputSchema: objectSchema(map[string]string{"directory": "string", "recursive": "boolean"}),
	},
	{
		Server:      ServerName,
		Name:        "read_file",
		Description: "Read a text file. Args: path.",
		InputSchema: objectSchema(map[string]string{"path": "string"}, "path"),
	},
	{
		Server:      ServerName,
		Name:        "write_file",
		Description: "Create or overwrite a file, creating parent directories. Args: path, content.",
		InputSchema: objectSchema(map[string]string{"path": "string", "content": "string"}, "path", "content"),
	},
	{
		Server:      ServerName,
		Name:        "search_files",
		Description: "Find lines containing a keyword. Args: keyword, directory (default \".\").",
		InputSchema: objectSchema(map[string]string{"keyword": "string", "directory": "string"}, "keyword"),
	},
}

func objectSchema(props map[string]string, required ...string) map[string]any {
	p := map[string]any{}
	for name, typ := range props {
		p[name] = map[string]any{"type": typ}
	}
	s := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Tools は 1 つの作業ディレクトリに対する組み込みツール。
type Tools struct {
	root string
}

// New は root を作業ディレクトリとする Tools を返す。
func New(root string) (*Tools, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	return &Tools{root: abs}, nil
}

// Root は作業ディレクトリの絶対パスを返す。
func (t *Tools) Root() string { return t.root }

// Tools はツール定義を返す。
func (t *Tools) Tools() []mcp.ToolSchema { return slices.Clone(schemas) }

// RequiresAuthorization は常に false。危険な呼び出しの検査は呼び出し側が行う。
func (t *Tools) RequiresAuthorization(string) bool { return false }

// Close は何もしない。
func (t *Tools) Close() error { return nil }

// CallTool はツールを実行する。引数やファイルの問題は IsError の結果として返し、
// error を返すのは未知のサーバーかツールのときだけ。
func (t *Tools) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallResult, error) {
	if server != ServerName {
		return nil, fmt.Errorf("workspace: unknown server %q", server)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		text string
		err  error
	)
	switch tool {
	case "list_files":
		text, err = t.ListFiles(stringArg(args, "directory", "."), boolArg(args, "recursive"))
	case "read_file":
		text, err = t.ReadFile(stringArg(args, "path", ""))
	case "write_file":
		path := stringArg(args, "path", "")
		if err = t.WriteFile(path, stringArg(args, "content", "")); err == nil {
			text = fmt.Sprintf("wrote %s", path)
		}
	case "search_files":
		text, err = t.SearchFiles(stringArg(args, "keyword", ""), stringArg(args, "directory", "."))
	default:
		return nil, fmt.Errorf("workspace: unknown tool %q", tool)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return &mcp.CallResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}, nil
}

func errorResult(err error) *mcp.CallResult {
	return &mcp.CallResult{IsError: true, Content: []mcp.ContentBlock{{Type: "text", Text: err.Error()}}}
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// resolve は rel を作業ディレクトリ内の絶対パスにする。
func (t *Tools) resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("workspace: path is required")
	}
	if filepath.IsAbs(rel) {
		return "", ErrOutsideWorkDir
	}
	full := filepath.Join(t.root, filepath.FromSlash(rel))
	if full != t.root && !strings.HasPrefix(full, t.root+string(filepath.Separator)) {
		return "", ErrOutsideWorkDir
	}
	return full, nil
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

// ListFiles は dir 直下（recursive なら配下すべて）のファイルを dir からの相対パスで返す。
// 隠しファイルと隠しディレクトリは含めない。
func (t *Tools) ListFiles(dir string, recursive bool) (string, error) {
	full, err := t.resolve(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("workspace: directory %q does not exist", dir)
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if path == full {
				return nil
			}
			if hidden(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				rel, _ := filepath.Rel(full, path)
				files = append(files, filepath.ToSlash(rel))
			}
			return nil
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(full)
		for _, e := range entries {
			if hidden(e.Name()) {
				continue
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			files = append(files, name)
		}
	}
	if err != nil {
		return "", fmt.Errorf("workspace: list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return "(no files)", nil
	}
	slices.Sort(files)
	return strings.Join(files, "\n"), nil
}

// ReadFile はファイルの内容を返す。大きすぎるファイルは拒否する。
func (t *Tools) ReadFile(rel string) (string, error) {
	full, err := t.resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("workspace: file %q does not exist", rel)
	}
	if info.IsDir() {
		return "", fmt.Errorf("workspace: %q is a directory", rel)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("workspace: %q is too large (%d bytes)", rel, info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("workspace: read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile はファイルを作成または上書きする。親ディレクトリも作る。
func (t *Tools) WriteFile(rel, content string) error {
	full, err := t.resolve(rel)
	if err != nil {
		return err
	}
	if full == t.root {
		return fmt.Errorf("workspace: %q is a directory", rel)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("workspace: create dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", rel, err)
	}
	return nil
}

// SearchFiles は keyword を含む行を "path:line: text" 形式で返す。パスは作業ディレクトリからの相対。
func (t *Tools) SearchFiles(keyword, dir string) (string, error) {
	if keyword == "" {
		return "", errors.New("workspace: keyword is required")
	}
	full, err := t.resolve(dir)
	if err != nil {
		return "", err
	}

	var hits []string
	walkErr := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != full && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(t.root, path)
		found, err := searchFile(path, filepath.ToSlash(rel), keyword, maxSearchHits-len(hits))
		if err != nil {
			return nil
		}
		hits = append(hits, found...)
		if len(hits) >= maxSearchHits {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("workspace: search %s: %w", dir, walkErr)
	}
	if len(hits) == 0 {
		return "No matches found.", nil
	}
	return strings.Join(hits, "\n"), nil
}

func searchFile(path, rel, keyword string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan() && len(out) < limit; n++ {
		line := sc.Text()
		if !strings.Contains(line, keyword) {
			continue
		}
		line = strings.TrimSpace(line)
		if r := []rune(line); len(r) > maxSearchLineCh {
			line = string(r[:maxSearchLineCh])
		}
		out = append(out, fmt.Sprintf("%s:%d: %s", rel, n, line))
	}
	return out, sc.Err()
}
