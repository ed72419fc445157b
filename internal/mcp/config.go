package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern は ${VAR_NAME} 形式の環境変数参照にマッチする正規表現
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ParseConfig は StartTask の mcp_config に載ってくる JSON テキストを解釈する。
// 空白だけのテキストなら nil, nil を返す（MCP を使わない）。
// env フィールドの値に含まれる ${VAR} はホスト環境変数から展開される。
func ParseConfig(text string) (*Config, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var cfg Config
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse config: %w", err)
	}
	for name, s := range cfg.Servers {
		if strings.TrimSpace(s.Command) == "" {
			return nil, fmt.Errorf("mcp: server %q: command is required", name)
		}
		expandEnvVars(s.Env)
	}
	return &cfg, nil
}

// LoadConfig は指定パスから MCP 設定ファイルを読み込む。
// ファイルが存在しない場合は nil, nil を返す（graceful skip）。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("mcp: failed to read config %s: %w", path, err)
	}
	return ParseConfig(string(data))
}

// expandEnvVars は map 内の値に含まれる ${VAR} をホスト環境変数で展開する
func expandEnvVars(env map[string]string) {
	for k, v := range env {
		env[k] = envVarPattern.ReplaceAllStringFunc(v, func(match string) string {
			// ${VAR_NAME} から VAR_NAME を抽出
			varName := match[2 : len(match)-1]
			return os.Getenv(varName)
		})
	}
}
