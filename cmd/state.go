package cmd

import (
	"fmt"

	"c2c/internal/report"
	"c2c/internal/state"

	"github.com/spf13/cobra"
)

func newStateCommand(global *globalOptions) *cobra.Command {
	var nodes bool
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			st, err := state.Load(mailbox, cfg.Ports.State)
			if err != nil {
				return fmt.Errorf("persisted state on port %d is unusable: %w", cfg.Ports.State, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Headline(st))
			if err := report.RenderAllocations(out, st); err != nil {
				return err
			}
			if nodes {
				return report.RenderAssignment(out, st)
			}
			return nil
		},
	}
	stateCmd.Flags().BoolVar(&nodes, "nodes", false, "Also print what runs on every node")
	return stateCmd
}
