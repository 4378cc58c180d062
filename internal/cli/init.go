package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/clawinfra/rapport/internal/config"
)

// InitCommand handles the 'rapport init' subcommand.
func InitCommand(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("rapport init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	outputPath := fs.String("output", DefaultConfigPath, "Output config file path (.json, .toml or .yaml)")
	endpoint := fs.String("endpoint", "", "Collection API base URL")
	appID := fs.String("app-id", "", "Application id sent with every submission")
	backend := fs.String("backend", config.BackendFile, "Queue store: file, sqlite, redis or memory")
	dataDir := fs.String("data-dir", "", "Data directory (default ./data)")
	force := fs.Bool("force", false, "Overwrite an existing config file")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(*outputPath); err == nil && !*force {
		fmt.Fprintf(errOut, "Error: %s already exists (use --force to overwrite)\n", *outputPath)
		return 1
	}

	cfg := config.DefaultConfig()
	cfg.API.Endpoint = *endpoint
	cfg.API.AppID = *appID
	cfg.Store.Backend = *backend
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}

	if err := cfg.Save(*outputPath); err != nil {
		fmt.Fprintf(errOut, "Error saving config: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "Config written to %s\n", *outputPath)
	if cfg.API.Endpoint == "" {
		fmt.Fprintln(out, "No endpoint set yet: events will queue until api.endpoint is configured.")
	}
	return 0
}
