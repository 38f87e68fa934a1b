package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/me/qcpipe/internal/notify"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

// ErrStopped is returned by Start once the scheduler has been shut down.
// A scheduler is single use.
var ErrStopped = errors.New("scheduler already stopped")

// State is the lifecycle state of the worker pool.
type State string

const (
	StateStopped  State = "STOPPED"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// Executor runs one job to completion. Outcomes are reported through the
// completion handler, never returned.
type Executor interface {
	Execute(ctx context.Context, job model.JobSpec)
}

// Config holds scheduler configuration.
type Config struct {
	Workers        int
	DequeueTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 2, DequeueTimeout: time.Second}
}

type worker struct {
	id   int
	stop chan struct{}
}

// Scheduler owns the job queue and a pool of workers that drain it.
type Scheduler struct {
	store    store.Store
	exec     Executor
	notifier notify.Notifier
	config   Config
	logger   *slog.Logger
	queue    *Queue

	mu      sync.Mutex
	state   State
	started bool
	workers []*worker
	nextID  int
	reduced int
	wg      sync.WaitGroup
}

// New creates a stopped scheduler.
func New(st store.Store, exec Executor, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = DefaultConfig().DequeueTimeout
	}
	return &Scheduler{
		store:    st,
		exec:     exec,
		notifier: notifier,
		config:   cfg,
		logger:   logger.With("component", "scheduler"),
		queue:    NewQueue(),
		state:    StateStopped,
	}
}

// Start spawns the configured number of workers. ctx is handed to every
// execution; cancelling it is a forced termination, not a graceful stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateRunning:
		return nil
	case s.started:
		return ErrStopped
	}
	s.started = true
	s.state = StateRunning

	for range s.config.Workers {
		s.spawnLocked(ctx)
	}
	s.logger.Info("scheduler started", "workers", s.config.Workers, "queued", s.queue.Len())
	return nil
}

func (s *Scheduler) spawnLocked(ctx context.Context) {
	s.nextID++
	w := &worker{id: s.nextID, stop: make(chan struct{})}
	s.workers = append(s.workers, w)
	s.wg.Add(1)
	go s.runWorker(ctx, w)
}

// AddJob records a PENDING job and enqueues it. Unless isRecovery is set,
// a job whose molecule and calc type are already PENDING or RUNNING is
// suppressed. It reports whether the job was enqueued.
func (s *Scheduler) AddJob(inputPath, molecule string, calc model.CalcType, isRecovery bool) bool {
	log := s.logger.With("job_key", inputPath, "molecule", molecule, "calc_type", calc, "recovery", isRecovery)

	if isRecovery {
		s.store.AddOrUpdate(molecule, calc, inputPath, model.StatusPending)
	} else if !s.store.AddIfNotActive(molecule, calc, inputPath) {
		log.Info("duplicate job suppressed")
		return false
	}
	s.queue.Push(model.JobSpec{InputPath: inputPath, Molecule: molecule, CalcType: calc})
	log.Info("job queued", "queued", s.queue.Len())
	return true
}

// ReduceWorkers permanently removes one worker. The removed worker finishes
// its current job first. The pool never shrinks below one worker.
func (s *Scheduler) ReduceWorkers(reason string) bool {
	s.mu.Lock()
	size := len(s.workers)
	if size <= 1 {
		s.mu.Unlock()
		s.logger.Warn("worker floor reached, not reducing", "reason", reason, "workers", size)
		return false
	}
	w := s.workers[size-1]
	s.workers = s.workers[:size-1]
	close(w.stop)
	s.reduced++
	s.mu.Unlock()

	s.logger.Warn("worker pool reduced", "reason", reason, "worker", w.id, "from", size, "to", size-1)
	notify.Send(context.Background(), s.notifier, s.logger, notify.Message{
		Subject:  "Capacity Reduced",
		Body:     fmt.Sprintf("Worker pool reduced from %d to %d workers.\nReason: %s", size, size-1, reason),
		Severity: notify.SeverityCritical,
	})
	return true
}

// Shutdown stops every worker from dequeuing new jobs. In-flight jobs run
// to completion.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.state = StateStopping
	for _, w := range s.workers {
		close(w.stop)
	}
	s.workers = nil
	s.logger.Info("scheduler stopping", "queued", s.queue.Len())
}

// Join blocks until every worker ever started has exited.
func (s *Scheduler) Join() {
	s.wg.Wait()
	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateStopped
		s.logger.Info("scheduler stopped")
	}
	s.mu.Unlock()
}

// PoolSize returns the number of active workers.
func (s *Scheduler) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// QueueLen returns the number of jobs waiting for a worker.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of pool capacity for status reporting.
func (s *Scheduler) Info() model.PoolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.PoolInfo{
		State:   string(s.state),
		Workers: len(s.workers),
		Initial: s.config.Workers,
		Queued:  s.queue.Len(),
		Reduced: s.reduced,
	}
}

func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()
	log := s.logger.With("worker", w.id)
	log.Debug("worker started")

	for {
		job, ok := s.queue.Pop(s.config.DequeueTimeout, w.stop)
		if !ok {
			select {
			case <-w.stop:
				log.Debug("worker exiting")
				return
			default:
				continue
			}
		}
		s.dispatch(ctx, log, job)
	}
}

// dispatch runs a single job. A panic escaping the executor is logged and
// the worker moves on to its next job.
func (s *Scheduler) dispatch(ctx context.Context, log *slog.Logger, job model.JobSpec) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker recovered from panic", "job_key", job.InputPath, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	log.Info("dispatching job", "job_key", job.InputPath, "molecule", job.Molecule, "calc_type", job.CalcType)
	s.exec.Execute(ctx, job)
}
