package cli

import (
	"log/slog"

	"github.com/ACFHarbinger/Coding-Assistants/internal/brain"
	"github.com/ACFHarbinger/Coding-Assistants/internal/catalog"
	"github.com/ACFHarbinger/Coding-Assistants/internal/config"
	"github.com/ACFHarbinger/Coding-Assistants/internal/pipeline"
)

// knownProviders は一覧の問い合わせ対象。
var knownProviders = []brain.Provider{brain.ProviderOllama, brain.ProviderOpenAI, brain.ProviderAnthropic}

// baseURLs は providers セクションの接続先の上書きを返す。
func baseURLs(cfg *config.AppConfig) map[string]string {
	out := map[string]string{}
	for name, url := range map[string]string{
		string(brain.ProviderOllama):    cfg.Providers.Ollama.BaseURL,
		string(brain.ProviderOpenAI):    cfg.Providers.OpenAI.BaseURL,
		string(brain.ProviderAnthropic): cfg.Providers.Anthropic.BaseURL,
	} {
		if url != "" {
			out[name] = url
		}
	}
	return out
}

// providerListers は認証情報がそろっているプロバイダーの Lister を返す。
// 認証情報がないプロバイダーは debug ログを残して外す。
func providerListers(cfg *config.AppConfig, log *slog.Logger) []catalog.Lister {
	urls := baseURLs(cfg)
	var out []catalog.Lister
	for _, p := range knownProviders {
		bc, err := brain.LoadConfig(brain.ConfigHint{Provider: p, BaseURL: urls[string(p)]})
		if err != nil {
			log.Debug("provider skipped", "provider", p, "error", err)
			continue
		}
		br, err := brain.New(bc)
		if err != nil {
			log.Debug("provider skipped", "provider", p, "error", err)
			continue
		}
		out = append(out, br)
	}
	return out
}

// newCatalog は static 行と各プロバイダーの一覧をまとめる Catalog を返す。
func newCatalog(cfg *config.AppConfig, log *slog.Logger) *catalog.Catalog {
	return catalog.New(cfg.Catalog.Static, providerListers(cfg, log), catalog.WithLogger(log))
}

// newRunner は設定に従ったパイプライン実行器を返す。
func newRunner(cfg *config.AppConfig, log *slog.Logger) *pipeline.Runner {
	return pipeline.New(pipeline.ProviderBrains(baseURLs(cfg)),
		pipeline.WithLogger(log),
		pipeline.WithMaxTurns(cfg.MaxTurns),
		pipeline.WithWorkDir(cfg.WorkDir),
		pipeline.WithGuardPatterns(cfg.ToolGuard),
		pipeline.WithWorkspaceTools(!cfg.DisableWorkspaceTools),
	)
}
