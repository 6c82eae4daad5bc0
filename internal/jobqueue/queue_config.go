/*
Package jobqueue configuration - tunable parameters for the River queue.

## Quick reference:

- SweepInterval: how often idle conversations get closed
- TickInterval: how often each community gets its scheduled review
- MaxWorkers: concurrent job workers; both job kinds are cheap, so the
  default is deliberately small
- MaxRetries: River-level retries for a failed job run; safe here because
  both jobs are idempotent

## Database requirements:
- PostgreSQL with River schema migrations applied
- The queue shares the pipeline's database, on its own pgx pool
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers processing jobs
	MaxWorkers int

	// MaxRetries is the maximum retry attempts per job
	MaxRetries int

	// SweepInterval is how often the stale-conversation sweep runs
	SweepInterval time.Duration

	// TickInterval is how often each community's scheduled review runs
	TickInterval time.Duration
}

// DefaultQueueConfig returns the configuration used in production
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:    4,
		MaxRetries:    5,
		SweepInterval: 10 * time.Minute,
		TickInterval:  1 * time.Hour,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
