package main

import (
	"github.com/spf13/cobra"

	"github.com/summitflow/summitflow-term/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "summitflow-term",
		Short: "Multiplexed terminal bridge service",
		Long: `summitflow-term runs the HTTP/WebSocket service that bridges a browser
terminal to long-lived tmux sessions: session and pane lifecycle, a
switch-hook receiver, and periodic reconciliation against the mux.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: "+config.DefaultPath()+")")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReconcileOnceCmd())

	return root
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfigOrDefaults(path string) config.Config {
	return config.EnsureFile(path)
}
