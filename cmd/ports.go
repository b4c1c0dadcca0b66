package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"c2c/internal/config"
	"c2c/internal/ports"

	"github.com/spf13/cobra"
)

func newPortsCommand(global *globalOptions) *cobra.Command {
	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "Inspect the port mailboxes",
	}

	peekCmd := &cobra.Command{
		Use:   "peek PORT",
		Short: "Print the value of a port, pretty printed when it is JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			port, err := resolvePort(cfg, args[0])
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			value, err := mailbox.Peek(port)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, []byte(value), "", " "); err == nil {
				value = pretty.String()
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear PORT",
		Short: "Empty a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			port, err := resolvePort(cfg, args[0])
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			if err := mailbox.Clear(port); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "port %d cleared\n", port)
			return nil
		},
	}

	portsCmd.AddCommand(peekCmd)
	portsCmd.AddCommand(clearCmd)
	return portsCmd
}

// resolvePort accepts a port number or one of the configured channel names.
func resolvePort(cfg *config.Config, arg string) (int, error) {
	named := map[string]int{
		"state":        cfg.Ports.State,
		"goal":         cfg.Ports.Goal,
		"targets":      cfg.Ports.Targets,
		"home_reserve": cfg.Ports.HomeReserve,
	}
	if port, ok := named[arg]; ok {
		return port, nil
	}
	port, err := strconv.Atoi(arg)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("%q is neither a port number nor one of state, goal, targets, home_reserve: %w", arg, ports.ErrInvalidPort)
	}
	return port, nil
}
