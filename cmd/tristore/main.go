package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aleksaelezovic/tristore/internal/config"
	"github.com/aleksaelezovic/tristore/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// environment is the state shared by all subcommands
type environment struct {
	configPath string
	logLevel   string

	cfg config.Config
	log *zap.Logger
}

func (e *environment) load() error {
	e.cfg = config.Default()
	if e.configPath != "" {
		cfg, err := config.Load(e.configPath)
		if err != nil {
			return err
		}
		e.cfg = cfg
	}
	if e.logLevel != "" {
		e.cfg.Log.Level = e.logLevel
	}
	log, err := logging.New(e.cfg.Log.Level, e.cfg.Log.Development)
	if err != nil {
		return err
	}
	e.log = log
	return nil
}

func newRootCommand() *cobra.Command {
	env := &environment{}
	root := &cobra.Command{
		Use:           "tristore",
		Short:         "Build and inspect triple-store indices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return env.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = env.log.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&env.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(
		newBuildCommand(env),
		newPeersCommand(env),
		newOrderCommand(env),
	)
	return root
}
