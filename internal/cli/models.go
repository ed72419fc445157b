package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ACFHarbinger/Coding-Assistants/internal/catalog"
	"github.com/ACFHarbinger/Coding-Assistants/pkg/protocol"
)

func newModelsCmd(g *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the host would offer to a controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := g.logger(cfg, cmd.ErrOrStderr())
			cat := catalog.New(cfg.Catalog.Static, providerListers(cfg, log),
				catalog.WithLogger(log), catalog.WithTimeout(timeout))

			models, err := cat.Models(cmd.Context())
			if err != nil {
				return err
			}
			printCatalog(cmd, models)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-provider query timeout")
	return cmd
}

// printCatalog は "provider/model" を 1 行ずつ出力する。
func printCatalog(cmd *cobra.Command, models protocol.ModelCatalog) {
	out := cmd.OutOrStdout()
	if models.Len() == 0 {
		_, _ = fmt.Fprintln(out, "No models available")
		return
	}
	for _, p := range models.Providers() {
		for _, m := range models[p] {
			_, _ = fmt.Fprintln(out, p+"/"+m)
		}
	}
}
