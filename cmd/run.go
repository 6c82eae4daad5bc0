package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/lukeocodes/mod-gpt/internal/api"
	"github.com/lukeocodes/mod-gpt/internal/config"
	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/executor"
	"github.com/lukeocodes/mod-gpt/internal/heuristics"
	"github.com/lukeocodes/mod-gpt/internal/jobqueue"
	"github.com/lukeocodes/mod-gpt/internal/logging"
	"github.com/lukeocodes/mod-gpt/internal/platform"
	"github.com/lukeocodes/mod-gpt/internal/reasoning"
	"github.com/lukeocodes/mod-gpt/internal/store"
)

// RunCommand returns the command that starts the moderation service
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the moderation service",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runService,
	}
}

func runService(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.API.Port = c.Int("port")
	}

	logging.Setup(cfg.General.LogLevel, cfg.General.PrettyLog)

	ctx := context.Background()

	// Persistence. Without a database URL the service runs on an in-memory
	// store: automations, heuristics and conversations work but nothing
	// survives a restart, and the periodic job queue is unavailable.
	defaults := store.SettingsDefaults{
		DryRun:              cfg.General.DryRun,
		ProactiveModeration: cfg.Pipeline.ProactiveModeration,
	}

	var st store.Store
	var pg *store.PostgresStore
	if cfg.Database.URL != "" {
		pg, err = store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer pg.Close()
		pg.SetDefaults(defaults)
		st = pg
	} else {
		log.Warn().Msg("no database configured, using in-memory store")
		mem := store.NewMemoryStore()
		mem.SetDefaults(defaults)
		st = mem
	}

	if created, err := engine.InstallSeedRules(ctx, st); err != nil {
		return fmt.Errorf("failed to install seed heuristics: %w", err)
	} else if created > 0 {
		log.Info().Int("created", created).Msg("installed seed heuristics")
	}

	plat := platform.NewRESTClient(
		cfg.Platform.BaseURL,
		cfg.Platform.Token,
		cfg.Platform.BotUserID,
		cfg.Platform.RateLimit,
	)

	tracker := conversation.NewTracker(
		st,
		cfg.Platform.BotUserID,
		cfg.Pipeline.ContinuationWindow,
		cfg.Pipeline.StaleConversation,
	)

	exec := executor.New(plat, st, tracker, "ModGPT")

	// Reasoning is optional. Without an API key the pipeline degrades to
	// automations and heuristic deletions only.
	var dispatcher *reasoning.Dispatcher
	if cfg.Reasoning.APIKey != "" {
		client, err := reasoning.NewLLMClient(reasoning.Options{
			APIKey:      cfg.Reasoning.APIKey,
			Model:       cfg.Reasoning.Model,
			BaseURL:     cfg.Reasoning.BaseURL,
			Temperature: cfg.Reasoning.Temperature,
			MaxTokens:   cfg.Reasoning.MaxTokens,
			Timeout:     cfg.Reasoning.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create reasoning client: %w", err)
		}
		dispatcher = reasoning.NewDispatcher(client)
	} else {
		log.Warn().Msg("no reasoning api key configured, replies and verdicts disabled")
	}

	eng := engine.New(engine.Options{
		Store:         st,
		Matcher:       heuristics.NewMatcher(),
		Tracker:       tracker,
		Dispatcher:    dispatcher,
		Executor:      exec,
		Platform:      plat,
		MinConfidence: cfg.Pipeline.MinConfidence,
	})

	// Periodic jobs need Postgres; skip them on the in-memory store.
	if pg != nil {
		queueConfig := jobqueue.DefaultQueueConfig()
		queueConfig.SweepInterval = cfg.Pipeline.SweepInterval
		queueConfig.TickInterval = cfg.Pipeline.TickInterval

		queue, err := jobqueue.NewJobQueue(ctx, cfg.Database.URL, queueConfig, st, tracker, eng)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			if err := queue.Stop(ctx); err != nil {
				log.Error().Err(err).Msg("job queue shutdown failed")
			}
		}()
	} else {
		log.Warn().Msg("job queue disabled without a database")
	}

	server := api.NewServer(cfg.API.Port, eng, st, cfg.API.JWTSecret)
	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	// Let in-flight reasoning finish before exiting
	eng.Wait()
	return nil
}
