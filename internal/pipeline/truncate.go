package pipeline

import (
	"fmt"
	"strings"
)

// 次のターンに渡すツール出力の上限。
const (
	resultHeadLines = 60
	resultTailLines = 30
)

// truncateResult は先頭 head 行と末尾 tail 行を残し、中間を省略する。
// 合計行数が head+tail 以下ならそのまま返す。
func truncateResult(s string, head, tail int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	total := len(lines)
	if head+tail >= total {
		return strings.Join(lines, "\n")
	}

	var sb strings.Builder
	for _, l := range lines[:head] {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "\n--- %d lines omitted ---\n\n", total-head-tail)
	sb.WriteString(strings.Join(lines[total-tail:], "\n"))
	return sb.String()
}
