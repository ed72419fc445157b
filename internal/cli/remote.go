package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ACFHarbinger/Coding-Assistants/internal/remote"
	"github.com/ACFHarbinger/Coding-Assistants/internal/transport"
	"github.com/ACFHarbinger/Coding-Assistants/internal/tui"
)

func newRemoteCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote [address]",
		Short: "Connect to a host as its controller",
		Long: `Connect to a running "agentrelay host" and drive it from this terminal.
The address may omit the port (default 5555). Without an argument remote.address
from the config file is used.`,
		Example: `  agentrelay remote 192.168.1.10
  agentrelay remote gpu-box:6000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			addr := cfg.Remote.Address
			if len(args) == 1 {
				addr = args[0]
			}
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("no host address: pass one or set remote.address in %s", g.configPath)
			}

			log, closeLog, err := g.fileLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			agentCfg, err := cfg.AgentConfig()
			if err != nil {
				return err
			}

			c := remote.New(remote.WithLogger(log), remote.WithDialTimeout(cfg.Remote.DialTimeout))
			if err := c.Connect(cmd.Context(), addr); err != nil {
				return err
			}
			defer c.Close()

			err = tui.Run(c, tui.Options{
				Title:  "remote " + transport.NormalizeAddr(addr),
				Config: agentCfg,
			})
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
	return cmd
}
