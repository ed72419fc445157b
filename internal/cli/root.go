// Package cli は agentrelay のコマンドライン（cobra）を組み立てる。
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ACFHarbinger/Coding-Assistants/internal/config"
	"github.com/ACFHarbinger/Coding-Assistants/internal/logging"
)

// globalOptions は全サブコマンド共通のフラグ。
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

// NewRootCmd はルートコマンドを返す。
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "agentrelay",
		Short: "agentrelay: multi-role AI task executor with a remote control protocol",
		Long: `agentrelay runs a pipeline of LLM roles (Planner → Developer → Reviewer) on a host
and lets a controller on another machine drive it over line-delimited JSON on TCP.

Environment:
  ANTHROPIC_API_KEY     Anthropic API key
  ANTHROPIC_AUTH_TOKEN  Anthropic OAuth token
  OPENAI_API_KEY        OpenAI API key
  OLLAMA_BASE_URL       Ollama server URL (default: http://localhost:11434)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading credentials")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log_level)")
	pf.StringVar(&opts.logFormat, "log-format", "json", "log format: json or text")

	cmd.AddCommand(newHostCmd(opts))
	cmd.AddCommand(newRemoteCmd(opts))
	cmd.AddCommand(newModelsCmd(opts))
	cmd.AddCommand(newResourcesCmd(opts))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}

// load は設定ファイルを読み、--log-level の上書きを適用する。
func (o *globalOptions) load() (*config.AppConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// logger は w に書き出すロガーを返す。
func (o *globalOptions) logger(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	return logging.New(logging.Options{Level: cfg.LogLevel, Writer: w, Format: o.logFormat})
}

// fileLogger は log_file へ書くロガーを返す。TUI が端末を使っている間のログ出力先。
func (o *globalOptions) fileLogger(cfg *config.AppConfig) (*slog.Logger, func() error, error) {
	w, closeFn, err := logging.OpenFile(cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return o.logger(cfg, w), closeFn, nil
}
