package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lukeocodes/mod-gpt/internal/config"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/logging"
	"github.com/lukeocodes/mod-gpt/internal/store"
)

// SeedCommand returns the command that installs the built-in heuristic rules.
// The run command does this on startup too; this exists for provisioning a
// database ahead of the first deploy.
func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:   "seed",
		Usage:  "Install the built-in heuristic rules into the database",
		Action: runSeed,
	}
}

func runSeed(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required to seed heuristics")
	}

	logging.Setup(cfg.General.LogLevel, cfg.General.PrettyLog)

	pg, err := store.Open(c.Context, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer pg.Close()

	created, err := engine.InstallSeedRules(c.Context, pg)
	if err != nil {
		return fmt.Errorf("failed to install seed heuristics: %w", err)
	}

	fmt.Printf("Installed %d new seed heuristics\n", created)
	return nil
}
