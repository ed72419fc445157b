package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultPath は設定ファイルの既定の場所。
const DefaultPath = "config/agentrelay.yaml"

// RemoteConfig はコントローラーとして接続するときの設定。
type RemoteConfig struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ProviderConfig は LLM プロバイダーごとの接続先。空なら環境変数か既定値を使う。
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ProvidersConfig はプロバイダー別の設定。
type ProvidersConfig struct {
	Ollama    ProviderConfig `yaml:"ollama"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// CatalogConfig はモデル一覧に常に含める "provider/model" 行。
type CatalogConfig struct {
	Static []string `yaml:"static"`
}

// RoleEntry は既定のロール構成 1 件。
type RoleEntry struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	PromptFile   string `yaml:"prompt_file"`
	RuleFile     string `yaml:"rule_file"`
	WorkflowFile string `yaml:"workflow_file"`
}

// AppConfig は config/agentrelay.yaml の統合設定構造
type AppConfig struct {
	Listen        string          `yaml:"listen"`
	LogLevel      string          `yaml:"log_level"`
	LogFile       string          `yaml:"log_file"`
	MetricsAddr   string          `yaml:"metrics_addr"`
	WorkDir       string          `yaml:"work_dir"`
	MCPConfigFile string          `yaml:"mcp_config_file"`
	MaxTurns      int             `yaml:"max_turns"`
	ToolGuard     []string        `yaml:"tool_guard"`
	Remote        RemoteConfig    `yaml:"remote"`
	Providers     ProvidersConfig `yaml:"providers"`
	Catalog       CatalogConfig   `yaml:"catalog"`
	Roles         []RoleEntry     `yaml:"roles"`

	// DisableWorkspaceTools が true なら組み込みの workspace/* ツールを使わない。
	DisableWorkspaceTools bool `yaml:"disable_workspace_tools"`
}

// DefaultRoles は設定ファイルにロールがないときの構成。
func DefaultRoles() []RoleEntry {
	return []RoleEntry{
		{Name: "Planner", Provider: "openai", Model: "gpt-4o"},
		{Name: "Developer", Provider: "openai", Model: "gpt-4o-mini"},
		{Name: "Reviewer", Provider: "openai", Model: "gpt-4o"},
	}
}

// applyDefaults はゼロ値のフィールドにデフォルト値を適用する
func (c *AppConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = fmt.Sprintf(":%d", protocol.DefaultPort)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WorkDir == "" {
		c.WorkDir = "./workspace"
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 8
	}
	if c.Remote.DialTimeout == 0 {
		c.Remote.DialTimeout = 5 * time.Second
	}
	if len(c.Roles) == 0 {
		c.Roles = DefaultRoles()
	}
}

// Load は設定ファイルを読み込む。
// ${VAR} 環境変数を展開する。
// ファイルが存在しない場合はデフォルトの AppConfig を返す。
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &AppConfig{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	// 環境変数を展開（パスと URL の ${VAR}）
	for _, s := range []*string{
		&cfg.LogFile, &cfg.WorkDir, &cfg.MCPConfigFile, &cfg.Remote.Address,
		&cfg.Providers.Ollama.BaseURL, &cfg.Providers.OpenAI.BaseURL, &cfg.Providers.Anthropic.BaseURL,
	} {
		*s = expandEnvString(*s)
	}
	for i := range cfg.Roles {
		cfg.Roles[i].PromptFile = expandEnvString(cfg.Roles[i].PromptFile)
		cfg.Roles[i].RuleFile = expandEnvString(cfg.Roles[i].RuleFile)
		cfg.Roles[i].WorkflowFile = expandEnvString(cfg.Roles[i].WorkflowFile)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.MaxTurns < 0 {
		return fmt.Errorf("max_turns must not be negative (got %d)", c.MaxTurns)
	}
	for i, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("roles[%d]: name is required", i)
		}
		if r.Provider == "" || r.Model == "" {
			return fmt.Errorf("roles[%d] %s: provider and model are required", i, r.Name)
		}
	}
	return nil
}

// LoadDotEnv はカレントディレクトリの .env を環境変数に読み込む。
// ファイルがなければ何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// AgentConfig は TUI が StartTask に載せる既定の構成を組み立てる。
// mcp_config_file があればその内容を MCPConfig に入れる。
func (c *AppConfig) AgentConfig() (protocol.AgentConfig, error) {
	out := protocol.AgentConfig{WorkDir: c.WorkDir}
	for _, r := range c.Roles {
		out.Roles = append(out.Roles, protocol.RoleConfig{
			Name: r.Name,
			Model: protocol.ModelConfig{
				Provider:     r.Provider,
				Model:        r.Model,
				PromptFile:   r.PromptFile,
				RuleFile:     r.RuleFile,
				WorkflowFile: r.WorkflowFile,
			},
		})
	}
	if c.MCPConfigFile != "" {
		data, err := os.ReadFile(c.MCPConfigFile)
		if err != nil {
			return protocol.AgentConfig{}, fmt.Errorf("config: read mcp config: %w", err)
		}
		out.MCPConfig = string(data)
	}
	return out, nil
}

// expandEnvString は文字列内の ${VAR} をホスト環境変数で展開する
func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}
