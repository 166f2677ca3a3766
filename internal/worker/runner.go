package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/engine"
	"mailprobe/internal/queue"
	"mailprobe/internal/store"
)

// verifyTimeout bounds one address end to end, including browser
// navigation and SMTP retries.
const verifyTimeout = 60 * time.Second

// Runner consumes verification tasks from the queue, runs them through
// the engine, and persists the outcome. One Runner per process gives the
// process-isolated execution mode: a crash takes down a single task, not
// the batch.
type Runner struct {
	queue  *queue.Queue
	db     *store.DB
	engine *engine.Engine
	log    *zap.Logger
}

func NewRunner(q *queue.Queue, db *store.DB, eng *engine.Engine, log *zap.Logger) *Runner {
	return &Runner{queue: q, db: db, engine: eng, log: log}
}

// Run blocks, processing tasks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if backlog, err := r.queue.Len(ctx); err == nil {
		r.log.Info("worker started, waiting for tasks", zap.Int64("backlog", backlog))
	} else {
		r.log.Info("worker started, waiting for tasks")
	}

	for {
		task, err := r.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("queue pop failed", zap.Error(err))
			// Backoff on error so a dead Redis doesn't spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
		res := r.engine.Verify(vctx, task.Email, task.Method)
		cancel()

		if err := r.db.SaveResult(ctx, task.JobID, res); err != nil {
			r.log.Error("result not saved",
				zap.String("job_id", task.JobID),
				zap.String("email", task.Email),
				zap.Error(err))
			continue
		}

		r.log.Info("processed",
			zap.String("email", task.Email),
			zap.String("verdict", string(res.Verdict)))
	}
}
