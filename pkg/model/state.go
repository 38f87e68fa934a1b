package model

import "strings"

// Status represents the lifecycle state of a job record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusPermanentFailed Status = "PERMANENT_FAILED"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsActive returns true if the job is queued or executing. Two submissions
// of the same molecule and calc type may not both be active.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsTerminal returns true if the job will never run again on its own.
// FAILED is not terminal: the input is parked for a cold retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPermanentFailed
}

// ParseStatus converts a (case-insensitive) string to a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusPermanentFailed:
		return st, true
	}
	return "", false
}

// ValidTransitions defines the allowed status transitions for job records.
// A record may always be reset to PENDING by a new submission.
var ValidTransitions = map[Status][]Status{
	StatusPending:         {StatusRunning},
	StatusRunning:         {StatusCompleted, StatusFailed, StatusPermanentFailed},
	StatusFailed:          {StatusPending},
	StatusCompleted:       {StatusPending},
	StatusPermanentFailed: {StatusPending},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CalcType identifies the kind of quantum-chemistry computation.
type CalcType string

const (
	CalcOpt  CalcType = "opt"
	CalcFreq CalcType = "freq"
	CalcSP   CalcType = "sp"
)

// String returns the string representation of the calc type.
func (c CalcType) String() string {
	return string(c)
}

// Chains returns the calc type submitted automatically after a successful
// run of c, or "" if c does not chain.
func (c CalcType) Chains() CalcType {
	if c == CalcOpt {
		return CalcFreq
	}
	return ""
}

// ParseCalcType validates a calc type name.
func ParseCalcType(s string) (CalcType, bool) {
	c := CalcType(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CalcOpt, CalcFreq, CalcSP:
		return c, true
	}
	return "", false
}

// ErrorType classifies why an execution attempt failed.
type ErrorType string

const (
	ErrorRecoverable    ErrorType = "RECOVERABLE"
	ErrorFatalExecution ErrorType = "FATAL_EXECUTION"
	ErrorFatalResource  ErrorType = "FATAL_RESOURCE"
	ErrorFatalInput     ErrorType = "FATAL_INPUT"
)

// String returns the string representation of the error type.
func (e ErrorType) String() string {
	return string(e)
}

// IsFatal reports whether the failure can never succeed on retry.
func (e ErrorType) IsFatal() bool {
	return strings.HasPrefix(string(e), "FATAL")
}
