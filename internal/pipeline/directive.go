package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

type directiveKind int

const (
	directiveNone directiveKind = iota
	directiveAsk
	directiveAuthorize
	directiveTool
)

// directive は応答中の指示行 1 つ。
type directive struct {
	kind   directiveKind
	text   string // ASK / AUTHORIZE の質問
	server string
	tool   string
	args   map[string]any
	err    error // TOOL 行の解析に失敗したとき
}

// parseDirective は応答の最初の指示行を返す。指示がなければ kind は directiveNone。
func parseDirective(reply string) directive {
	for line := range strings.Lines(reply) {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ASK:"):
			if q := strings.TrimSpace(strings.TrimPrefix(line, "ASK:")); q != "" {
				return directive{kind: directiveAsk, text: q}
			}
		case strings.HasPrefix(line, "AUTHORIZE:"):
			if q := strings.TrimSpace(strings.TrimPrefix(line, "AUTHORIZE:")); q != "" {
				return directive{kind: directiveAuthorize, text: q}
			}
		case strings.HasPrefix(line, "TOOL:"):
			return parseToolCall(strings.TrimSpace(strings.TrimPrefix(line, "TOOL:")))
		}
	}
	return directive{}
}

// parseToolCall は "server/tool {json}" を解釈する。引数は省略可能。
func parseToolCall(s string) directive {
	d := directive{kind: directiveTool}
	name, rawArgs, _ := strings.Cut(s, " ")
	server, tool, ok := strings.Cut(name, "/")
	if !ok || server == "" || tool == "" {
		d.err = fmt.Errorf("tool call %q: expected <server>/<tool>", name)
		return d
	}
	d.server, d.tool = server, tool

	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		return d
	}
	if err := json.Unmarshal([]byte(rawArgs), &d.args); err != nil {
		d.err = fmt.Errorf("tool call %s: arguments must be a JSON object: %w", name, err)
	}
	return d
}
