package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/ports"
	"c2c/internal/state"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSetGoalCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "set-goal " + strings.Join(state.GoalNames(), "|"),
		Short:     "Set the engine's goal",
		Args:      cobra.ExactArgs(1),
		ValidArgs: state.GoalNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal, err := state.ParseGoal(args[0])
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			if err := ports.Replace(mailbox, cfg.Ports.Goal, goal.String()); err != nil {
				return fmt.Errorf("failed to write goal: %w", err)
			}
			logging.Notify(logging.GetLogger().WithField("goal", goal.String()), "info").Info("Goal sent")
			fmt.Fprintf(cmd.OutOrStdout(), "goal set to %s\n", goal)
			return nil
		},
	}
}

func newSetTargetsCommand(global *globalOptions) *cobra.Command {
	var limit int
	setTargetsCmd := &cobra.Command{
		Use:   "set-targets [host...]",
		Short: "Send the target list to the engine",
		Long: "Describes the given hosts and sends them as targets. Without hosts, every rooted\n" +
			"server with money is discovered and sent, most valuable first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			network, err := openNetwork(cfg)
			if err != nil {
				return err
			}

			var targets []state.TargetDescriptor
			if len(args) > 0 {
				targets, err = describeTargets(network, args)
				if err != nil {
					return err
				}
			} else {
				targets = discoverTargets(network, cfg.Engine.Home)
				if limit > 0 && len(targets) > limit {
					targets = targets[:limit]
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("no targets found")
			}

			payload, err := json.Marshal(targets)
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			if err := ports.Replace(mailbox, cfg.Ports.Targets, string(payload)); err != nil {
				return fmt.Errorf("failed to write targets: %w", err)
			}

			names := make([]string, 0, len(targets))
			for _, t := range targets {
				names = append(names, t.Hostname)
			}
			logging.Notify(logging.GetLogger().WithFields(logrus.Fields{
				"targets": names,
				"port":    cfg.Ports.Targets,
			}), "info").Info("Setting new targets")
			fmt.Fprintf(cmd.OutOrStdout(), "targets set to %s\n", strings.Join(names, ", "))
			return nil
		},
	}
	setTargetsCmd.Flags().IntVar(&limit, "limit", 0, "Keep only the N most valuable discovered targets (0 = all)")
	return setTargetsCmd
}

// describeTargets looks each host up with score 1.
func describeTargets(h host.Host, hostnames []string) ([]state.TargetDescriptor, error) {
	seen := make(map[string]bool)
	var targets []state.TargetDescriptor
	for _, name := range hostnames {
		if seen[name] {
			continue
		}
		seen[name] = true
		data, err := h.ServerInfo(name)
		if err != nil {
			return nil, fmt.Errorf("failed to describe %s: %w", name, err)
		}
		targets = append(targets, state.TargetDescriptor{Hostname: name, Score: 1, Data: data})
	}
	return targets, nil
}

// discoverTargets walks the network from home and keeps every rooted server
// with money, scored by money per hack time.
func discoverTargets(h host.Host, home string) []state.TargetDescriptor {
	logger := logging.GetLogger()

	var targets []state.TargetDescriptor
	queue := []string{home}
	seen := map[string]bool{home: true}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		neighbors, err := h.Scan(node)
		if err != nil {
			logger.WithField("node", node).WithError(err).Warn("Failed to scan node")
		}
		for _, n := range neighbors {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}

		if node == home || !h.HasRootAccess(node) {
			continue
		}
		data, err := h.ServerInfo(node)
		if err != nil || data.Money.Max <= 0 {
			continue
		}
		t := state.TargetDescriptor{Hostname: node, Data: data}
		t.Score = t.ValuePerTime()
		targets = append(targets, t)
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Score != targets[j].Score {
			return targets[i].Score > targets[j].Score
		}
		return targets[i].Hostname < targets[j].Hostname
	})
	return targets
}

func newReserveHomeCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve-home GB",
		Short: "Keep GB of RAM free on home",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gb, err := state.ParseReservation(args[0])
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(global)
			if err != nil {
				return err
			}
			mailbox, err := openMailbox(cfg)
			if err != nil {
				return err
			}
			if err := ports.Replace(mailbox, cfg.Ports.HomeReserve, strconv.FormatFloat(gb, 'f', -1, 64)); err != nil {
				return fmt.Errorf("failed to write reservation: %w", err)
			}
			logging.Notify(logging.GetLogger().WithField("reserved_gb", gb), "info").Info("Home reservation sent")
			fmt.Fprintf(cmd.OutOrStdout(), "reserving %sGB on home\n", strconv.FormatFloat(gb, 'f', -1, 64))
			return nil
		},
	}
}
