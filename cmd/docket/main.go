package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/app"
	"github.com/ternarybob/docket/internal/common"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "docket",
		Usage:   "Court case scrape scheduler and pipeline tracker",
		Version: common.GetFullVersion(),
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path (repeatable, later files override earlier ones)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Environment file loaded before configuration",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			seedCommand(),
			statsCommand(),
			retryCommand(),
			versionCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "docket: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration: defaults -> file1 -> file2 -> ... -> env -> CLI
func loadConfig(cmd *cli.Command) (*common.Config, error) {
	if err := common.LoadEnvFile(cmd.String("env")); err != nil {
		return nil, err
	}

	configFiles := cmd.StringSlice("config")
	if len(configFiles) == 0 {
		// Check current directory first, then deployments/local for runs from the project root
		if _, err := os.Stat("docket.toml"); err == nil {
			configFiles = append(configFiles, "docket.toml")
		} else if _, err := os.Stat("deployments/local/docket.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/docket.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, cmd.Int("port"), cmd.String("host"))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// openOffline opens the application for a one-shot command. Pools are never started
// and the database is locked, so these commands cannot run beside a live server.
func openOffline(cmd *cli.Command) (*app.App, arbor.ILogger, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	config.Scraper.AutoStart = false
	config.Logging.Output = []string{"file"}

	logger := common.InitLogger(config)
	application, err := app.New(config, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", config.Storage.Badger.Path, err)
	}
	return application, logger, nil
}
