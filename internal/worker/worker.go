// Package worker runs the durable provisioning tasks that are enqueued in the
// same transaction as the write that schedules them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/sitecraft/builder-service/internal/config"
	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/models"
)

// TaskStore is the persistence the worker needs.
type TaskStore interface {
	ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Task, error)
	CompleteTask(ctx context.Context, id string, at time.Time) error
	RetryTask(ctx context.Context, id string, runAt time.Time, lastErr string) error
	FailTask(ctx context.Context, id string, at time.Time, lastErr string) error
}

// Handler processes one task kind. Handle must be idempotent: a task can run
// again after a crash or an expired lease. GiveUp, if set, is called once the
// attempt budget is spent or the error is permanent.
type Handler struct {
	Handle func(ctx context.Context, task *models.Task) error
	GiveUp func(ctx context.Context, task *models.Task, cause error) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Worker claims due tasks on a cron schedule and runs the registered handlers.
type Worker struct {
	store    TaskStore
	cfg      config.WorkerConfig
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	handlers map[string]Handler
	now      func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock replaces time.Now for due-time and backoff arithmetic.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New builds a stopped worker; register handlers, then call Start.
func New(store TaskStore, cfg config.WorkerConfig, m *metrics.Collector, opts ...Option) *Worker {
	limit := rate.Inf
	if cfg.ProviderRPS > 0 {
		limit = rate.Limit(cfg.ProviderRPS)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	w := &Worker{
		store:    store,
		cfg:      cfg,
		metrics:  m,
		limiter:  rate.NewLimiter(limit, 1),
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register sets the handler for a task kind. It must be called before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start runs RunOnce every PollInterval until Stop. Overlapping sweeps are skipped.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", w.cfg.PollInterval), func() {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Worker] Sweep failed: %v", err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule worker sweep: %w", err)
	}

	c.Start()
	w.cron = c
	w.cancel = cancel
	log.Printf("[Worker] Started: poll=%s batch=%d lease=%s", w.cfg.PollInterval, w.cfg.BatchSize, w.cfg.Lease)
	return nil
}

// Stop cancels in-flight work and waits for the running sweep to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	log.Printf("[Worker] Stopped")
}

// RunOnce claims the due tasks and processes them sequentially. It returns
// the number of tasks claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.ClaimDueTasks(ctx, w.now(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		if err := w.limiter.Wait(ctx); err != nil {
			// unprocessed claims are picked up again once their lease expires
			return len(tasks), err
		}
		w.process(ctx, task)
	}
	return len(tasks), nil
}

func (w *Worker) process(ctx context.Context, task *models.Task) {
	start := time.Now()

	h, ok := w.handlers[task.Kind]
	if !ok {
		log.Printf("[Worker] Task %s has unknown kind %q", task.ID, task.Kind)
		w.fail(ctx, task, fmt.Errorf("unknown task kind %q", task.Kind))
		w.metrics.RecordTask(task.Kind, "failed", time.Since(start))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, w.cfg.Lease)
	err := h.Handle(hctx, task)
	cancel()

	if err == nil {
		if err := w.store.CompleteTask(ctx, task.ID, w.now()); err != nil {
			log.Printf("[Worker] Failed to complete task %s: %v", task.ID, err)
		}
		w.metrics.RecordTask(task.Kind, "done", time.Since(start))
		return
	}

	if isPermanent(err) || task.Attempts >= task.MaxAttempts {
		log.Printf("[Worker] Task %s (%s) giving up after %d attempts: %v", task.ID, task.Kind, task.Attempts, err)
		if h.GiveUp != nil {
			if gerr := h.GiveUp(ctx, task, err); gerr != nil {
				// leave the task leased so a later sweep repeats the give-up
				log.Printf("[Worker] GiveUp for task %s failed: %v", task.ID, gerr)
				return
			}
		}
		w.fail(ctx, task, err)
		w.metrics.RecordTask(task.Kind, "failed", time.Since(start))
		return
	}

	runAt := w.now().Add(w.backoff(task.Attempts))
	log.Printf("[Worker] Task %s (%s) attempt %d/%d failed, retry at %s: %v",
		task.ID, task.Kind, task.Attempts, task.MaxAttempts, runAt.Format(time.RFC3339), err)
	if err := w.store.RetryTask(ctx, task.ID, runAt, err.Error()); err != nil {
		log.Printf("[Worker] Failed to reschedule task %s: %v", task.ID, err)
	}
	w.metrics.RecordTask(task.Kind, "retry", time.Since(start))
}

func (w *Worker) fail(ctx context.Context, task *models.Task, cause error) {
	if err := w.store.FailTask(ctx, task.ID, w.now(), cause.Error()); err != nil {
		log.Printf("[Worker] Failed to mark task %s failed: %v", task.ID, err)
	}
}

// backoff is Backoff * 2^(attempt-1), capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.Backoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if w.cfg.MaxBackoff > 0 && d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if w.cfg.MaxBackoff > 0 && d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}
