package model

import "time"

// Success describes a finished run whose output was classified as normal
// termination.
type Success struct {
	JobKey     string
	ResultPath string // primary output log inside WorkDir
	Molecule   string
	CalcType   CalcType
	WorkDir    string
	ProductDir string
	Duration   time.Duration
}

// Failure describes a failed attempt. RetryCount is the count after this
// attempt was recorded.
type Failure struct {
	JobKey     string
	Molecule   string
	CalcType   CalcType
	Message    string
	RetryCount int
	ErrorType  ErrorType
	Duration   time.Duration
}
