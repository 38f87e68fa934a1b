package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/me/qcpipe/internal/fsutil"
	"github.com/me/qcpipe/pkg/model"
)

// Config holds LocalExecutor configuration.
type Config struct {
	Executable string // computation binary, resolved via PATH if not absolute
	WorkingDir string // parent of the per-job scratch directories
	ProductDir string // passed through to the handler on success
}

// LocalExecutor runs the computation binary as a local OS process, one job
// per call, and reports every outcome to the Handler.
type LocalExecutor struct {
	config     Config
	counter    RetryCounter
	classifier Classifier
	handler    Handler
	logger     *slog.Logger
}

// NewLocalExecutor creates a LocalExecutor.
func NewLocalExecutor(cfg Config, counter RetryCounter, classifier Classifier, handler Handler, logger *slog.Logger) *LocalExecutor {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = os.TempDir()
	}
	return &LocalExecutor{
		config:     cfg,
		counter:    counter,
		classifier: classifier,
		handler:    handler,
		logger:     logger.With("component", "local-executor"),
	}
}

// Execute runs job to completion. It never returns an error: outcomes go to
// the Handler, and the scratch directory and original input are removed
// whatever happens.
func (e *LocalExecutor) Execute(ctx context.Context, job model.JobSpec) {
	log := e.logger.With("job_key", job.InputPath, "molecule", job.Molecule, "calc_type", job.CalcType)
	start := time.Now()
	workDir := filepath.Join(e.config.WorkingDir, job.Stem())
	defer e.cleanup(log, workDir, job.InputPath)

	e.handler.MarkRunning(job.InputPath)

	localInput, err := e.prepare(workDir, job.InputPath)
	if err != nil {
		log.Error("prepare failed", "work_dir", workDir, "error", err)
		e.fail(ctx, job, fmt.Sprintf("prepare work dir: %v", err), model.ErrorRecoverable, start)
		return
	}

	verdict, logPath, err := e.runAndEvaluate(ctx, log, workDir, localInput)
	if err != nil {
		log.Error("execution failed", "error", err)
		e.fail(ctx, job, err.Error(), model.ErrorFatalExecution, start)
		return
	}

	if !verdict.Success {
		errType := verdict.ErrorType
		if errType == "" {
			errType = model.ErrorRecoverable
		}
		log.Warn("run classified as failed", "error_type", errType, "message", verdict.Message)
		e.fail(ctx, job, verdict.Message, errType, start)
		return
	}

	log.Info("run terminated normally", "duration", time.Since(start).Round(time.Millisecond))
	e.handler.HandleSuccess(ctx, model.Success{
		JobKey:     job.InputPath,
		ResultPath: logPath,
		Molecule:   job.Molecule,
		CalcType:   job.CalcType,
		WorkDir:    workDir,
		ProductDir: e.config.ProductDir,
		Duration:   time.Since(start),
	})
}

// prepare creates the scratch directory and copies the input into it.
func (e *LocalExecutor) prepare(workDir, inputPath string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	local := filepath.Join(workDir, filepath.Base(inputPath))
	if err := fsutil.CopyFile(inputPath, local); err != nil {
		return "", err
	}
	return local, nil
}

// runAndEvaluate runs the binary and classifies its log. A panic from the
// classifier or the process plumbing is turned into an error.
func (e *LocalExecutor) runAndEvaluate(ctx context.Context, log *slog.Logger, workDir, input string) (verdict Classification, logPath string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	logPath, err = e.run(ctx, log, workDir, input)
	if err != nil {
		return Classification{}, logPath, err
	}
	return e.classifier.Classify(logPath), logPath, nil
}

// run executes the binary against input inside workDir with combined
// stdout and stderr captured to <stem>.out. The exit code is logged but
// does not decide the outcome.
func (e *LocalExecutor) run(ctx context.Context, log *slog.Logger, workDir, input string) (string, error) {
	logPath := filepath.Join(workDir, model.StemOf(input)+".out")
	out, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("create log %s: %w", logPath, err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, e.config.Executable, filepath.Base(input))
	cmd.Dir = workDir
	cmd.Stdout = out
	cmd.Stderr = out

	log.Debug("starting process", "command", e.config.Executable, "input", filepath.Base(input), "work_dir", workDir)
	runErr := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		log.Debug("process exited", "exit_code", 0)
	case errors.As(runErr, &exitErr):
		log.Info("process exited with non-zero status", "exit_code", exitErr.ExitCode())
	default:
		// Non-exit errors (e.g. binary not found) mean the process never ran.
		return logPath, fmt.Errorf("run %s: %w", e.config.Executable, runErr)
	}
	return logPath, nil
}

// fail counts the attempt and hands it to the failure policy.
func (e *LocalExecutor) fail(ctx context.Context, job model.JobSpec, msg string, errType model.ErrorType, start time.Time) {
	count := e.counter.IncrementRetryCount(job.InputPath)
	e.handler.HandleFailure(ctx, model.Failure{
		JobKey:     job.InputPath,
		Molecule:   job.Molecule,
		CalcType:   job.CalcType,
		Message:    msg,
		RetryCount: count,
		ErrorType:  errType,
		Duration:   time.Since(start),
	})
}

// cleanup removes the scratch directory and the original input. Failures
// are logged only.
func (e *LocalExecutor) cleanup(log *slog.Logger, workDir, inputPath string) {
	if err := os.RemoveAll(workDir); err != nil {
		log.Warn("failed to remove work dir", "work_dir", workDir, "error", err)
	}
	if err := os.Remove(inputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove input", "path", inputPath, "error", err)
	}
}
