package protocol

import (
	"encoding/json"
	"fmt"
)

// AgentConfig は StartTask で executor に渡す設定。
// Roles の順序がそのまま実行順序になる。
type AgentConfig struct {
	Roles []RoleConfig `json:"roles"`
	// WorkDir が空なら executor の既定ディレクトリを使う。
	WorkDir string `json:"work_dir"`
	// MCPConfig は MCP サーバー定義の生テキスト（JSON）。空なら MCP を使わない。
	MCPConfig string `json:"mcp_config"`
}

// RoleConfig は 1 ロール分の設定。
type RoleConfig struct {
	Name  string      `json:"name"`
	Model ModelConfig `json:"model"`
}

// ModelConfig はロールが使う LLM と補助ファイル。
// PromptFile / RuleFile / WorkflowFile は空なら既定値を使う。
type ModelConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	PromptFile   string `json:"prompt_file,omitempty"`
	RuleFile     string `json:"rule_file,omitempty"`
	WorkflowFile string `json:"workflow_file,omitempty"`
}

// ID は "provider/model" 形式の識別子を返す。
func (m ModelConfig) ID() string {
	return m.Provider + "/" + m.Model
}

// MarshalJSON は roles を null ではなく常に配列として書き出す。
func (c AgentConfig) MarshalJSON() ([]byte, error) {
	type plain AgentConfig
	p := plain(c)
	if p.Roles == nil {
		p.Roles = []RoleConfig{}
	}
	return marshalNoEscape(p)
}

// UnmarshalJSON は roles の存在を検証する。work_dir と mcp_config は省略可能。
func (c *AgentConfig) UnmarshalJSON(data []byte) error {
	obj, err := objectFields(data)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := requireFields(obj, "roles"); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	type plain AgentConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	*c = AgentConfig(p)
	return nil
}

// UnmarshalJSON は name と model を検証する。
// 旧クライアントが送る "config" キーも model として受け付ける。
func (r *RoleConfig) UnmarshalJSON(data []byte) error {
	obj, err := objectFields(data)
	if err != nil {
		return fmt.Errorf("role: %w", err)
	}
	if err := requireFields(obj, "name"); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	var name string
	if err := json.Unmarshal(obj["name"], &name); err != nil {
		return fmt.Errorf("role: name: %w", err)
	}

	modelRaw, ok := obj["model"]
	if !ok || isNull(modelRaw) {
		modelRaw, ok = obj["config"]
	}
	if !ok || isNull(modelRaw) {
		return fmt.Errorf("role %q: %w", name, missingField("model"))
	}
	var model ModelConfig
	if err := json.Unmarshal(modelRaw, &model); err != nil {
		return fmt.Errorf("role %q: %w", name, err)
	}

	r.Name = name
	r.Model = model
	return nil
}

// UnmarshalJSON は provider と model を検証する。
func (m *ModelConfig) UnmarshalJSON(data []byte) error {
	obj, err := objectFields(data)
	if err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := requireFields(obj, "provider", "model"); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	type plain ModelConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	*m = ModelConfig(p)
	return nil
}
