package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultReclaimInterval = time.Minute

	defaultFailureMessage = "Handler returned failure"
)

// Notifier receives job lifecycle events from the worker. Implementations must
// not block; the worker calls them inline.
type Notifier interface {
	JobStarted(job *Job)
	JobResolved(job *Job, outcome Outcome)
}

// Worker claims and executes one job per tick.
type Worker struct {
	store    JobStore
	registry *Registry
	logger   *slog.Logger
	notifier Notifier

	interval        time.Duration
	staleAfter      time.Duration
	reclaimInterval time.Duration

	ticking atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithNotifier(n Notifier) WorkerOption {
	return func(w *Worker) {
		w.notifier = n
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithStaleReclaim enables moving PROCESSING jobs untouched for staleAfter
// back to PENDING, checked on start and then every interval. A zero
// staleAfter leaves reclaiming off.
func WithStaleReclaim(staleAfter, interval time.Duration) WorkerOption {
	return func(w *Worker) {
		w.staleAfter = staleAfter
		if interval > 0 {
			w.reclaimInterval = interval
		}
	}
}

func NewWorker(store JobStore, registry *Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:           store,
		registry:        registry,
		logger:          slog.Default(),
		interval:        DefaultPollInterval,
		reclaimInterval: DefaultReclaimInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the polling loop. It returns immediately; calling it on a
// running worker does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx, w.stopCh)

	w.logger.Info("worker started",
		slog.Duration("poll_interval", w.interval),
		slog.Duration("stale_after", w.staleAfter),
	)
}

// Stop ends the loop and waits for an in-flight job to resolve.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var reclaim <-chan time.Time
	if w.staleAfter > 0 {
		w.reclaimStale(ctx)
		reclaimTicker := time.NewTicker(w.reclaimInterval)
		defer reclaimTicker.Stop()
		reclaim = reclaimTicker.C
	}

	for {
		select {
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.logger.Error("worker tick failed", slog.String("error", err.Error()))
			}
		case <-reclaim:
			w.reclaimStale(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		}
	}
}

func (w *Worker) reclaimStale(ctx context.Context) {
	if _, err := w.store.ReclaimStale(ctx, w.staleAfter); err != nil {
		w.logger.Error("reclaim stale jobs failed", slog.String("error", err.Error()))
	}
}

// RunOnce runs a single tick. It is what the loop calls on every interval.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	return w.Tick(ctx)
}

// Tick claims the oldest pending job, executes its handler and writes the
// terminal status. It reports whether a job was processed. A tick that starts
// while another is in progress returns immediately. Storage and transition
// errors are returned, not logged.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	if !w.ticking.CompareAndSwap(false, true) {
		w.logger.Debug("tick skipped, previous tick still running")
		return false, nil
	}
	defer w.ticking.Store(false)

	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)
	log.Debug("job claimed")
	if w.notifier != nil {
		w.notifier.JobStarted(job)
	}

	// In-flight jobs are not cancelled; shutdown waits for them to resolve.
	runCtx := context.WithoutCancel(ctx)

	outcome, cause := w.execute(runCtx, job)
	if err := w.store.Resolve(runCtx, job.ID, outcome); err != nil {
		return true, fmt.Errorf("resolve job %s: %w", job.ID, err)
	}

	if cause != nil {
		log.Warn("job failed",
			slog.String("status", string(outcome.Status())),
			slog.String("error", cause.Error()),
		)
	} else {
		log.Info("job completed")
	}

	if w.notifier != nil {
		w.notifier.JobResolved(job, outcome)
	}

	return true, nil
}

func (w *Worker) execute(ctx context.Context, job *Job) (Outcome, error) {
	payload, err := DecodePayload(job.Payload)
	if err != nil {
		return Failure(err.Error()), &DecodeError{JobID: job.ID, Err: err}
	}

	handler, ok := w.registry.Lookup(job.Type)
	if !ok {
		return UnknownType(), &UnknownHandlerError{JobID: job.ID, Type: job.Type}
	}

	if err := runHandler(ctx, handler, payload); err != nil {
		reason := err.Error()
		if reason == "" {
			reason = defaultFailureMessage
		}
		return Failure(reason), &HandlerFailure{JobID: job.ID, Type: job.Type, Reason: reason, Err: err}
	}

	return Success(), nil
}

func runHandler(ctx context.Context, handler Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Execute(ctx, payload)
}
