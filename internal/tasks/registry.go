// Package tasks supervises fire-and-forget background work. The webhook
// dispatcher hands publish jobs here so the reply path never waits on them,
// while every eventual failure — including a panic — is still caught and
// logged instead of crashing the process.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry runs named background tasks on detached goroutines.
type Registry struct {
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Go runs fn on a new goroutine with a fresh background context, detached
// from any request lifetime. The task's error (or recovered panic) is
// logged under a per-task ID; nothing propagates to the caller.
func (r *Registry) Go(name string, fn func(ctx context.Context) error) {
	taskID := uuid.NewString()
	r.wg.Add(1)
	r.inFlight.Add(1)

	log.Debug().Str("task", name).Str("taskId", taskID).Msg("Background task started")

	go func() {
		defer r.wg.Done()
		defer r.inFlight.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Str("task", name).Str("taskId", taskID).
					Interface("panic", rec).Msg("Background task panicked")
			}
		}()

		if err := fn(context.Background()); err != nil {
			log.Error().Err(err).Str("task", name).Str("taskId", taskID).Msg("Background task failed")
			return
		}
		log.Debug().Str("task", name).Str("taskId", taskID).Msg("Background task finished")
	}()
}

// InFlight returns the number of tasks currently running.
func (r *Registry) InFlight() int64 {
	return r.inFlight.Load()
}

// Wait blocks until all started tasks have settled. Used at shutdown and
// in tests.
func (r *Registry) Wait() {
	r.wg.Wait()
}
