package pipeline

import (
	"encoding/json"
	"regexp"
)

// DefaultGuardPatterns は MCP サーバーの設定に関係なく承認を求めるツール呼び出しのパターン。
var DefaultGuardPatterns = []string{
	`rm\s+-rf\s+/`,
	`dd\s+if=`,
	`mkfs`,
	`\bshutdown\b`,
	`\breboot\b`,
	`git\s+push\s+.*--force`,
}

// guard はツール呼び出しのうち危険なものを見分ける。
type guard struct {
	patterns []*regexp.Regexp
}

// newGuard は patterns をコンパイルして guard を返す。
// 不正な正規表現はパニックではなくスキップする。
func newGuard(patterns []string) *guard {
	g := &guard{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue // 不正なパターンは無視
		}
		g.patterns = append(g.patterns, re)
	}
	return g
}

// Match は "server/tool" と引数の JSON のどちらかがパターンに一致するか検査する。
func (g *guard) Match(name string, args map[string]any) bool {
	if g == nil || len(g.patterns) == 0 {
		return false
	}
	subject := name
	if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			subject += " " + string(data)
		}
	}
	for _, re := range g.patterns {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}
