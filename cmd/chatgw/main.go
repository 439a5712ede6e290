package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/chatgw/internal/config"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

type rootOptions struct {
	configPath string
	logLevel   string
	token      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "chatgw",
		Short:         "Gateway client: connect, tail events, read channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "token to identify with; the saved token is used when empty")

	cmd.AddCommand(
		newConnectCmd(opts),
		newMessagesCmd(opts),
		newSearchCmd(opts),
		newLogoutCmd(opts),
		newReplayCmd(opts),
	)
	return cmd
}

// load reads config and applies the log level
func (o *rootOptions) load() (config.Root, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	if err := observ.SetLevel(level); err != nil {
		return cfg, err
	}
	return cfg, nil
}
