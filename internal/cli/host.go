package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ACFHarbinger/Coding-Assistants/internal/bridge"
	"github.com/ACFHarbinger/Coding-Assistants/internal/config"
	"github.com/ACFHarbinger/Coding-Assistants/internal/tui"
)

type hostOptions struct {
	listen      string
	metricsAddr string
	logFile     string
	workDir     string
	headless    bool
}

func newHostCmd(g *globalOptions) *cobra.Command {
	opts := &hostOptions{}
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the task executor and accept one controller over TCP",
		Example: `  agentrelay host                       # local TUI, controllers on :5555
  agentrelay host --listen :6000 --headless
  agentrelay host --metrics-addr :9095`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			return runHost(cmd.Context(), cmd, g, cfg, opts.headless)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.listen, "listen", "l", "", "listen address (overrides listen)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics_addr)")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to this file while the TUI runs (overrides log_file)")
	f.StringVar(&opts.workDir, "work-dir", "", "task working directory (overrides work_dir)")
	f.BoolVar(&opts.headless, "headless", false, "no local TUI; log to stderr and serve controllers only")
	return cmd
}

// apply は明示されたフラグで設定を上書きする。
func (o *hostOptions) apply(cmd *cobra.Command, cfg *config.AppConfig) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = o.listen
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if f.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if f.Changed("work-dir") {
		cfg.WorkDir = o.workDir
	}
}

func runHost(parent context.Context, cmd *cobra.Command, g *globalOptions, cfg *config.AppConfig, headless bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var log *slog.Logger
	if headless {
		log = g.logger(cfg, cmd.ErrOrStderr())
	} else {
		l, closeLog, err := g.fileLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()
		log = l
	}

	agentCfg, err := cfg.AgentConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	b := bridge.New(newRunner(cfg, log), newCatalog(cfg, log),
		bridge.WithLogger(log),
		bridge.WithMetrics(bridge.NewMetrics(reg)),
	)
	go func() { _ = b.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- b.ListenAndServe(ctx, cfg.Listen) }()

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, bridge.Handler(reg), log)
		defer stop()
	}

	if headless {
		log.Info("host started", "listen", cfg.Listen, "work_dir", cfg.WorkDir, "roles", len(agentCfg.Roles))
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		}
	}

	lc := b.NewLocalController(512)
	defer lc.Close()
	// UI 起動前の通知（サーバー起動など）は履歴として渡す
	history, notices := b.WatchNotices(64)
	err = tui.Run(lc, tui.Options{
		Title:         "host " + cfg.Listen,
		Config:        agentCfg,
		Notices:       notices,
		NoticeHistory: history,
		QueryOnStart:  true,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// serveMetrics は /metrics を配信する HTTP サーバーを起動し、停止関数を返す。
func serveMetrics(addr string, h http.Handler, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
