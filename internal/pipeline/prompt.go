package pipeline

import (
	"fmt"
	"strings"

	"github.com/ACFHarbinger/Coding-Assistants/internal/mcp"
	"github.com/ACFHarbinger/Coding-Assistants/internal/resources"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

// ロール名ごとの既定のシステムプロンプト。prompt_file があればそちらを使う。
var defaultPrompts = map[string]string{
	"planner": `You are a senior software architect.
Analyze the task and break it down into a numbered, step-by-step plan that a developer can follow.
Point out files that need to be read before changing anything.`,
	"developer": `You are a senior software developer.
Implement the plan you are given. Write clean, documented code and explain what you changed.`,
	"reviewer": `You are a meticulous code reviewer.
Review the developer's work against the task and the plan. List concrete defects and finish with a short verdict.`,
}

const genericPrompt = `You are %s, a member of a software engineering team.
Complete your part of the task using the output of the previous member as context.`

const directiveGuide = `When you need something from the user or the environment, put exactly one of these lines in your reply and stop:
ASK: <question for the user>
AUTHORIZE: <yes/no question the user must approve before you continue>
TOOL: <server>/<tool> <JSON object with the arguments>
Otherwise reply with your final answer.`

// systemPrompt はロールのシステムプロンプトを組み立てる。
// prompt_file の本文（なければ既定文）、ツール一覧、rule_file、workflow_file の順に並べる。
func systemPrompt(res *resources.Provider, role protocol.RoleConfig, tools []mcp.ToolSchema) (string, error) {
	m := role.Model

	base, ok := defaultPrompts[strings.ToLower(role.Name)]
	if !ok {
		base = fmt.Sprintf(genericPrompt, role.Name)
	}
	if m.PromptFile != "" {
		doc, err := res.Load(m.PromptFile)
		if err != nil {
			return "", fmt.Errorf("prompt file: %w", err)
		}
		base = doc.Body
	}

	sections := []string{base, directiveGuide}
	if len(tools) > 0 {
		var sb strings.Builder
		sb.WriteString("Available tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s/%s: %s\n", t.Server, t.Name, t.Description)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}
	for _, f := range []struct{ title, path string }{
		{"Rules", m.RuleFile},
		{"Workflow", m.WorkflowFile},
	} {
		if f.path == "" {
			continue
		}
		doc, err := res.Load(f.path)
		if err != nil {
			return "", fmt.Errorf("%s file: %w", strings.ToLower(f.title), err)
		}
		sections = append(sections, f.title+":\n"+doc.Body)
	}
	return strings.Join(sections, "\n\n"), nil
}

// userMessage は最初のターンのユーザーメッセージを返す。
func userMessage(task, prevRole, prevOutput string) string {
	if prevRole == "" {
		return "Task: " + task
	}
	return fmt.Sprintf("Task: %s\n\nOutput from %s:\n%s", task, prevRole, prevOutput)
}
