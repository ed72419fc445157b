package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ACFHarbinger/Coding-Assistants/internal/resources"
)

func newResourcesCmd(g *globalOptions) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "resources [path]",
		Short: "List prompts, rules and workflows under <work-dir>/.agent, or show one",
		Example: `  agentrelay resources
  agentrelay resources .agent/prompts/developer.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workDir == "" {
				cfg, err := g.load()
				if err != nil {
					return err
				}
				workDir = cfg.WorkDir
			}
			p := resources.New(workDir)
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				doc, err := p.Load(args[0])
				if err != nil {
					return err
				}
				if doc.Name != "" {
					_, _ = fmt.Fprintf(out, "# %s\n", doc.Name)
				}
				if doc.Description != "" {
					_, _ = fmt.Fprintf(out, "# %s\n", doc.Description)
				}
				_, _ = fmt.Fprintln(out, doc.Body)
				return nil
			}

			list, err := p.List()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(list); err != nil {
				return fmt.Errorf("encode resources: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", "", "task working directory (default: work_dir from the config)")
	return cmd
}
