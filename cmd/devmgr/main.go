// Device Manager - multi-tenant device and template registry
//
// This is the main entry point for the devmgr service. It exposes the
// registry over HTTP, publishes change events on MQTT and keeps device
// pre-shared keys encrypted at rest.
//
// Subcommands:
//   - serve: run the API server
//   - migrate: apply, roll back or inspect database migrations
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/devmgr/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "DEVMGR_CONFIG"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) so serve shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. The --config flag is shared by
// every subcommand.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "devmgr",
		Short:         "Device Manager - multi-tenant device registry",
		Long:          `devmgr stores device templates and devices per tenant, assembles device views from their templates and announces every change on the message bus.`,
		Version:       version + " (" + commit + ", " + date + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
	)
	return root
}

// getConfigPath returns the configuration file path.
// The flag wins, then the DEVMGR_CONFIG environment variable, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
