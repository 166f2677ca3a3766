package task

import (
	"context"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mailprobe/internal/engine"
	"mailprobe/internal/models"
)

const (
	defaultWorkers = 4

	// Jitter between consecutive verifications per worker, so a batch
	// never hits a provider in lockstep.
	jitterMin = 500 * time.Millisecond
	jitterMax = 1500 * time.Millisecond
)

// Orchestrator fans a batch of addresses out over a bounded worker pool
// and tracks per-task progress.
type Orchestrator struct {
	engine  *engine.Engine
	log     *zap.Logger
	workers int
	pace    *rate.Limiter

	// Overridable so tests run without real pauses.
	jitterMin time.Duration
	jitterMax time.Duration

	mu    sync.Mutex
	tasks map[string]*models.Task
}

func NewOrchestrator(eng *engine.Engine, workers int, perSecond float64, log *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Orchestrator{
		engine:    eng,
		log:       log,
		workers:   workers,
		pace:      rate.NewLimiter(limit, 1),
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		tasks:     make(map[string]*models.Task),
	}
}

// StartBatch registers a task and begins verifying in the background.
func (o *Orchestrator) StartBatch(ctx context.Context, addresses []string, method string) (string, error) {
	if len(addresses) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	if method == "" {
		method = models.MethodAuto
	}

	id := uuid.NewString()
	task := &models.Task{
		ID:        id,
		Addresses: append([]string(nil), addresses...),
		Method:    method,
		Status:    models.TaskPending,
		Results:   make(map[string]models.VerificationResult),
		Start:     time.Now(),
	}

	o.mu.Lock()
	o.tasks[id] = task
	o.mu.Unlock()

	go o.run(ctx, task)

	o.log.Info("batch started",
		zap.String("task_id", id),
		zap.Int("addresses", len(addresses)),
		zap.String("method", method),
		zap.Int("workers", o.workers))
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, task *models.Task) {
	o.setStatus(task.ID, models.TaskRunning)

	feed := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for addr := range feed {
				if err := o.pace.Wait(gctx); err != nil {
					return err
				}
				if o.jitterMax > o.jitterMin {
					jitter := o.jitterMin + time.Duration(mrand.Int63n(int64(o.jitterMax-o.jitterMin)))
					select {
					case <-time.After(jitter):
					case <-gctx.Done():
						return gctx.Err()
					}
				}

				res := o.engine.Verify(gctx, addr, task.Method)
				o.recordResult(task.ID, res)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(feed)
		for _, addr := range task.Addresses {
			select {
			case feed <- addr:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	status := models.TaskCompleted
	if err := g.Wait(); err != nil {
		o.log.Warn("batch aborted", zap.String("task_id", task.ID), zap.Error(err))
		status = models.TaskFailed
	}
	o.finish(task.ID, status)
}

func (o *Orchestrator) recordResult(id string, res models.VerificationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return
	}
	task.Results[res.Address] = res
	task.Completed++
}

func (o *Orchestrator) setStatus(id string, status models.TaskStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if task, ok := o.tasks[id]; ok {
		task.Status = status
	}
}

func (o *Orchestrator) finish(id string, status models.TaskStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return
	}
	task.Status = status
	now := time.Now()
	task.End = &now
	o.log.Info("batch finished",
		zap.String("task_id", id),
		zap.String("status", string(status)),
		zap.Int("completed", task.Completed))
}

// Progress is the externally visible state of a task.
type Progress struct {
	ID        string            `json:"id"`
	Status    models.TaskStatus `json:"status"`
	Method    string            `json:"method"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Percent   float64           `json:"percent"`
	Start     time.Time         `json:"start"`
	End       *time.Time        `json:"end,omitempty"`
}

// Status reports a task's progress.
func (o *Orchestrator) Status(id string) (Progress, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return Progress{}, false
	}
	p := Progress{
		ID:        task.ID,
		Status:    task.Status,
		Method:    task.Method,
		Total:     len(task.Addresses),
		Completed: task.Completed,
		Start:     task.Start,
		End:       task.End,
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	return p, true
}

// Results returns a snapshot of a task's finished results.
func (o *Orchestrator) Results(id string) (map[string]models.VerificationResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]models.VerificationResult, len(task.Results))
	for k, v := range task.Results {
		out[k] = v
	}
	return out, true
}
