package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/lukeocodes/mod-gpt/internal/api"
	"github.com/lukeocodes/mod-gpt/internal/config"
	"github.com/lukeocodes/mod-gpt/internal/logging"
	"github.com/lukeocodes/mod-gpt/internal/store"
)

// ServeCommand returns the command that starts the operator API without the
// moderation pipeline. Event intake answers 503; everything under /api/v1
// works against the shared database, so configuration can be managed from a
// host that never sees platform traffic.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the operator API only, without the moderation pipeline",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.API.Port = c.Int("port")
	}

	logging.Setup(cfg.General.LogLevel, cfg.General.PrettyLog)

	ctx := context.Background()

	defaults := store.SettingsDefaults{
		DryRun:              cfg.General.DryRun,
		ProactiveModeration: cfg.Pipeline.ProactiveModeration,
	}

	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer pg.Close()
		pg.SetDefaults(defaults)
		st = pg
	} else {
		log.Warn().Msg("no database configured, operator changes will not persist")
		mem := store.NewMemoryStore()
		mem.SetDefaults(defaults)
		st = mem
	}

	server := api.NewServer(cfg.API.Port, nil, st, cfg.API.JWTSecret)
	return server.Start()
}
