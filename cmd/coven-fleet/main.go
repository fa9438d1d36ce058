// ABOUTME: Entry point for coven-fleet, the multi-tenant chat bot fleet
// ABOUTME: Dispatches serve, tenants, status, health and init subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/2389/coven-fleet/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       __ _           _
  ___ _____   _____ _ __              / _| | ___  ___| |_
 / __/ _ \ \ / / _ \ '_ \   _____   | |_| |/ _ \/ _ \ __|
| (_| (_) \ V /  __/ | | | |_____|  |  _| |  __/  __/ |_
 \___\___/ \_/ \___|_| |_|          |_| |_|\___|\___|\__|
`

// getConfigPath returns the config file to load, or "" when none exists and
// the process should run from defaults and the environment.
// Priority: COVEN_FLEET_CONFIG > ./config.yaml > XDG_CONFIG_HOME/coven/fleet.yaml > ~/.config/coven/fleet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_FLEET_CONFIG"); envPath != "" {
		return envPath
	}
	for _, candidate := range []string{"config.yaml", defaultConfigPath()} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// defaultConfigPath is where init writes the config.
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "fleet.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "fleet.yaml")
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func usage() {
	fmt.Println("Usage: coven-fleet <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the bot fleet and control endpoint")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  tenants [--team ID]    List stored tenants")
	fmt.Println("  status                 Show live bot and session counts")
	fmt.Println("  health                 Check fleet health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// a missing .env is normal in production
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "tenants":
		err = runTenants(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx)
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
