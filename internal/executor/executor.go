package executor

import (
	"context"

	"github.com/me/qcpipe/pkg/model"
)

// Classification is the verdict on a captured output log. ErrorType is
// only meaningful when Success is false.
type Classification struct {
	Success   bool
	Message   string
	ErrorType model.ErrorType
}

// Classifier inspects a finished run's output log.
type Classifier interface {
	Classify(logPath string) Classification
}

// Handler receives every outcome of an execution.
type Handler interface {
	// MarkRunning records that the job has been picked up.
	MarkRunning(jobKey string)

	// HandleSuccess publishes results of a normally terminated run.
	HandleSuccess(ctx context.Context, s model.Success)

	// HandleFailure applies the retry policy to a failed attempt.
	HandleFailure(ctx context.Context, f model.Failure)
}

// RetryCounter increments the persisted retry count of a job.
type RetryCounter interface {
	IncrementRetryCount(jobKey string) int
}
