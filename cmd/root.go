package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"c2c/internal/config"
	"c2c/internal/host"
	"c2c/internal/logging"
	"c2c/internal/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

type globalOptions struct {
	configFile string
	topology   string
	logLevel   string
}

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func Execute() error {
	loadEnvironment()
	return NewRootCommand(os.Stdout).Execute()
}

// NewRootCommand builds the command tree writing its output to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "c2c",
		Short:         "Distributed thread scheduler for the botnet",
		Long:          "Runs the C2C scheduling engine and the tools that signal it through port mailboxes",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel != "" {
				if err := logging.SetLogLevel(opts.logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				if err := logging.SetSchedulerLogLevel(opts.logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to engine configuration file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&opts.topology, "topology", "", "Path to the network topology file, overrides engine.topology")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an engine configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, opts.configFile)
		},
	}

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newSetGoalCommand(opts))
	rootCmd.AddCommand(newSetTargetsCommand(opts))
	rootCmd.AddCommand(newReserveHomeCommand(opts))
	rootCmd.AddCommand(newPortsCommand(opts))
	rootCmd.AddCommand(newStateCommand(opts))
	rootCmd.AddCommand(validateCmd)
	return rootCmd
}

func validateConfig(cmd *cobra.Command, configFile string) error {
	logger := logging.GetLogger()

	if configFile == "" {
		return fmt.Errorf("--config is required")
	}
	if _, err := config.LoadConfig(configFile); err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configFile)
	return nil
}

// loadConfig returns the configuration file's content on top of the defaults,
// or the defaults alone when no file was given.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	cfg := config.Default()
	content := ""
	if opts.configFile != "" {
		var err error
		cfg, content, err = config.LoadConfigWithContent(opts.configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
	}
	if opts.topology != "" {
		cfg.Engine.Topology = opts.topology
	}
	return cfg, content, nil
}

func openMailbox(cfg *config.Config) (*ports.FileMailbox, error) {
	mailbox, err := ports.NewFileMailbox(cfg.Ports.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open port mailboxes: %w", err)
	}
	return mailbox, nil
}

func openNetwork(cfg *config.Config) (*host.Network, error) {
	if cfg.Engine.Topology == "" {
		return nil, fmt.Errorf("a topology file is required (--topology or engine.topology)")
	}
	network, err := host.LoadTopology(cfg.Engine.Topology)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology %s: %w", cfg.Engine.Topology, err)
	}
	return network, nil
}
