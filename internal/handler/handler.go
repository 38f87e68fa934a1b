// Package handler applies the outcome of every execution: it publishes
// results, chains follow-up calculations, and enforces the retry policy.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/fsutil"
	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/internal/notify"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

// DefaultMaxRetries is the number of temporary failures a job may have
// before the next one becomes permanent.
const DefaultMaxRetries = 3

// Submitter is the scheduler capability the handler needs. It is bound
// after both objects exist.
type Submitter interface {
	AddJob(inputPath, molecule string, calc model.CalcType, isRecovery bool) bool
	ReduceWorkers(reason string) bool
}

// Toolkit is the set of output-format operations used on success.
type Toolkit interface {
	ExtractFinalGeometry(outPath string) (model.Geometry, error)
	GenerateInput(molecule string, geom model.Geometry, calc model.CalcType) (string, error)
	RenderEnergyPlot(outPath, destDir string) (string, error)
}

// Archiver copies published products to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, molecule string, paths []string) error
}

// Config holds handler configuration.
type Config struct {
	MaxRetries int
	RetryDir   string // temporary failures park their input here
}

// FromConfig derives handler settings from the process configuration.
func FromConfig(cfg config.Config) Config {
	return Config{MaxRetries: cfg.Scheduler.MaxRetries, RetryDir: cfg.Paths.RetryDir}
}

// Handler implements executor.Handler.
type Handler struct {
	config   Config
	store    store.Store
	toolkit  Toolkit
	notifier notify.Notifier
	history  history.Recorder
	archiver Archiver
	logger   *slog.Logger

	mu        sync.RWMutex
	submitter Submitter
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithHistory records every attempt outcome in r.
func WithHistory(r history.Recorder) Option {
	return func(h *Handler) { h.history = r }
}

// WithArchiver uploads products after each success.
func WithArchiver(a Archiver) Option {
	return func(h *Handler) { h.archiver = a }
}

// New creates a Handler. SetSubmitter must be called before any job runs.
func New(cfg Config, st store.Store, toolkit Toolkit, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Handler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	h := &Handler{
		config:   cfg,
		store:    st,
		toolkit:  toolkit,
		notifier: notifier,
		history:  history.Nop{},
		logger:   logger.With("component", "handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSubmitter binds the scheduler.
func (h *Handler) SetSubmitter(s Submitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.submitter = s
}

func (h *Handler) scheduler() Submitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.submitter
}

// MarkRunning records that a worker picked up the job.
func (h *Handler) MarkRunning(jobKey string) {
	if !h.store.SetStatus(jobKey, model.StatusRunning) {
		h.logger.Warn("running job has no record", "job_key", jobKey)
	}
}

// HandleSuccess publishes the results of a normally terminated run.
func (h *Handler) HandleSuccess(ctx context.Context, s model.Success) {
	log := h.logger.With("job_key", s.JobKey, "molecule", s.Molecule, "calc_type", s.CalcType)
	log.Info("job completed", "duration", s.Duration)

	molDir := filepath.Join(s.ProductDir, s.Molecule)
	published, err := h.publish(s, molDir)
	if err != nil {
		// The run succeeded; a publish error is reported but the job
		// still counts as completed.
		log.Error("failed to publish results", "product_dir", molDir, "error", err)
	}

	attempt := h.attemptNumber(s.JobKey)
	h.store.SetStatus(s.JobKey, model.StatusCompleted)
	h.record(ctx, log, &history.Attempt{
		JobKey:   s.JobKey,
		Molecule: s.Molecule,
		CalcType: s.CalcType,
		Attempt:  attempt,
		Outcome:  model.StatusCompleted,
		Duration: s.Duration,
	})

	resultPath := filepath.Join(molDir, filepath.Base(s.ResultPath))
	if plot, err := h.toolkit.RenderEnergyPlot(resultPath, molDir); err != nil {
		log.Warn("energy plot not generated", "error", err)
	} else {
		published = append(published, plot)
	}

	if h.archiver != nil && len(published) > 0 {
		if err := h.archiver.Archive(ctx, s.Molecule, published); err != nil {
			log.Error("archive failed", "error", err)
		}
	}

	if next := s.CalcType.Chains(); next != "" {
		h.chain(log, s.Molecule, next, resultPath, molDir)
	}

	notify.Send(ctx, h.notifier, log, notify.Message{
		Subject:   fmt.Sprintf("Job Success: %s (%s)", s.Molecule, s.CalcType),
		Body:      fmt.Sprintf("Job for %s (%s) finished successfully in %s.\nResults: %s", s.Molecule, s.CalcType, s.Duration.Round(time.Millisecond), molDir),
		Severity:  notify.SeverityInfo,
		Throttled: true,
	})
}

// publish copies the output log and, when present, the wavefunction file
// into the molecule's product directory.
func (h *Handler) publish(s model.Success, molDir string) ([]string, error) {
	if err := os.MkdirAll(molDir, 0o755); err != nil {
		return nil, err
	}

	var published []string
	dst := filepath.Join(molDir, filepath.Base(s.ResultPath))
	if err := fsutil.CopyFile(s.ResultPath, dst); err != nil {
		return nil, fmt.Errorf("copy output: %w", err)
	}
	published = append(published, dst)

	gbw := filepath.Join(s.WorkDir, model.StemOf(s.ResultPath)+".gbw")
	if fsutil.Exists(gbw) {
		dst := filepath.Join(molDir, filepath.Base(gbw))
		if err := fsutil.CopyFile(gbw, dst); err != nil {
			return published, fmt.Errorf("copy wavefunction: %w", err)
		}
		published = append(published, dst)
	}
	return published, nil
}

// chain submits the follow-up calculation built from the final geometry
// of resultPath. Failures are logged and never fail the finished job.
func (h *Handler) chain(log *slog.Logger, molecule string, next model.CalcType, resultPath, molDir string) {
	geom, err := h.toolkit.ExtractFinalGeometry(resultPath)
	if err != nil {
		log.Error("could not extract final geometry, chain skipped", "next", next, "error", err)
		return
	}
	content, err := h.toolkit.GenerateInput(molecule, geom, next)
	if err != nil {
		log.Error("could not generate chained input", "next", next, "error", err)
		return
	}
	inp := filepath.Join(molDir, model.InputName(molecule, next))
	if err := os.WriteFile(inp, []byte(content), 0o644); err != nil {
		log.Error("could not write chained input", "path", inp, "error", err)
		return
	}

	sub := h.scheduler()
	if sub == nil {
		log.Error("no scheduler bound, chained job not submitted", "path", inp)
		return
	}
	if sub.AddJob(inp, molecule, next, false) {
		log.Info("chained job submitted", "next", next, "path", inp)
	}
}

// HandleFailure applies the retry policy to a failed attempt.
func (h *Handler) HandleFailure(ctx context.Context, f model.Failure) {
	log := h.logger.With("job_key", f.JobKey, "molecule", f.Molecule, "calc_type", f.CalcType,
		"error_type", f.ErrorType, "retry_count", f.RetryCount)

	permanent := f.RetryCount > h.config.MaxRetries || f.ErrorType.IsFatal()
	outcome := model.StatusFailed
	if permanent {
		outcome = model.StatusPermanentFailed
	}
	h.store.SetStatus(f.JobKey, outcome)
	h.record(ctx, log, &history.Attempt{
		JobKey:    f.JobKey,
		Molecule:  f.Molecule,
		CalcType:  f.CalcType,
		Attempt:   f.RetryCount,
		Outcome:   outcome,
		ErrorType: f.ErrorType,
		Message:   f.Message,
		Duration:  f.Duration,
	})

	if permanent {
		log.Error("job failed permanently", "message", f.Message)
		body := fmt.Sprintf("Job for %s (%s) will not be retried.\nError type: %s\nAttempts: %d\nReason: %s",
			f.Molecule, f.CalcType, f.ErrorType, f.RetryCount, f.Message)
		notify.Send(ctx, h.notifier, log, notify.Message{
			Subject:   fmt.Sprintf("Job Permanently Failed: %s (%s)", f.Molecule, f.CalcType),
			Body:      body,
			Severity:  notify.SeverityCritical,
			Throttled: true,
		})
		if f.ErrorType == model.ErrorFatalResource {
			h.reduceCapacity(log)
		}
		return
	}

	log.Warn("job failed, will retry on next start", "message", f.Message, "max_retries", h.config.MaxRetries)
	h.park(log, f.JobKey)
	body := fmt.Sprintf("Job for %s (%s) failed on attempt %d of %d and will be retried on the next start.\nError type: %s\nReason: %s",
		f.Molecule, f.CalcType, f.RetryCount, h.config.MaxRetries+1, f.ErrorType, f.Message)
	notify.Send(ctx, h.notifier, log, notify.Message{
		Subject:   fmt.Sprintf("Job Failed: %s (%s)", f.Molecule, f.CalcType),
		Body:      body,
		Severity:  notify.SeverityWarning,
		Throttled: true,
	})
}

func (h *Handler) reduceCapacity(log *slog.Logger) {
	sub := h.scheduler()
	if sub == nil {
		log.Error("no scheduler bound, capacity not reduced")
		return
	}
	sub.ReduceWorkers("Resource Limit")
}

// park keeps a copy of the input for a cold retry. The executor removes
// the original after this returns.
func (h *Handler) park(log *slog.Logger, jobKey string) {
	if h.config.RetryDir == "" {
		return
	}
	dst := model.ParkedPath(h.config.RetryDir, jobKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		log.Error("could not park input for retry", "path", jobKey, "error", err)
		return
	}
	if err := fsutil.CopyFile(jobKey, dst); err != nil {
		log.Error("could not park input for retry", "path", jobKey, "error", err)
		return
	}
	log.Debug("input parked for retry", "path", dst)
}

func (h *Handler) attemptNumber(jobKey string) int {
	rec, _ := h.store.Get(jobKey)
	return rec.RetryCount + 1
}

func (h *Handler) record(ctx context.Context, log *slog.Logger, a *history.Attempt) {
	if err := h.history.RecordAttempt(ctx, a); err != nil {
		log.Error("failed to record attempt", "error", err)
	}
}
