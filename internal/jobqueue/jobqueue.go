/*
Package jobqueue runs the pipeline's periodic work on a River-based job
queue: the stale-conversation sweep and the per-community scheduled tick.

For tunable parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/lukeocodes/mod-gpt/internal/conversation"
	"github.com/lukeocodes/mod-gpt/internal/engine"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// SweepJobArgs triggers one stale-conversation sweep across all communities.
type SweepJobArgs struct{}

// Kind returns the job kind for River
func (SweepJobArgs) Kind() string { return "conversation_sweep" }

// SweepWorker closes conversations idle past the stale cutoff.
type SweepWorker struct {
	river.WorkerDefaults[SweepJobArgs]
	tracker *conversation.Tracker
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepJobArgs]) error {
	swept, err := w.tracker.SweepStale(ctx)
	if err != nil {
		return fmt.Errorf("conversation sweep: %w", err)
	}
	log.Debug().Int("swept", swept).Msg("conversation sweep completed")
	return nil
}

// TickJobArgs fans the scheduled community review out to every known
// community.
type TickJobArgs struct{}

// Kind returns the job kind for River
func (TickJobArgs) Kind() string { return "community_tick" }

// TickWorker runs the scheduled review for each community in turn. A
// failure in one community does not block the others.
type TickWorker struct {
	river.WorkerDefaults[TickJobArgs]
	store  store.Store
	engine *engine.Engine
}

func (w *TickWorker) Work(ctx context.Context, _ *river.Job[TickJobArgs]) error {
	communities, err := w.store.Communities(ctx)
	if err != nil {
		return fmt.Errorf("list communities: %w", err)
	}

	now := time.Now().UTC()
	for _, communityID := range communities {
		ev := models.TickEvent{CommunityID: communityID, At: now}
		if err := w.engine.HandleScheduledTick(ctx, ev); err != nil {
			log.Warn().Err(err).Str("community_id", communityID).Msg("scheduled tick failed")
		}
	}
	log.Debug().Int("communities", len(communities)).Msg("scheduled tick dispatched")
	return nil
}

// JobQueue manages the River client and its periodic schedule.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates the queue with both periodic jobs registered. The
// sweep and tick intervals come from config.
func NewJobQueue(ctx context.Context, databaseURL string, config *QueueConfig, s store.Store, tracker *conversation.Tracker, eng *engine.Engine) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SweepWorker{tracker: tracker})
	river.AddWorker(workers, &TickWorker{store: s, engine: eng})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(config.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) { return SweepJobArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(config.TickInterval),
				func() (river.JobArgs, *river.InsertOpts) { return TickJobArgs{}, nil },
				nil,
			),
		},
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the workers and releases the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}
