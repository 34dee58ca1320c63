package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zulandar/chatline/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "chatline.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatline",
		Short: "Chatline — support chat client for Telegram Web Apps",
		Long:  "Chatline connects to a support backend as a Telegram Web App user: chat with the assistant, send files, and call an operator.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newDevServerCmd())
	cmd.AddCommand(newLaunchDataCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatline %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig loads path. The default path may be absent, in which case
// only defaults and environment overrides apply.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
