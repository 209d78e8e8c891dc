package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a ConversionJob.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// ConversionJob is one invocation of the pipeline. Only the converter mutates it.
type ConversionJob struct {
	ID         string
	InputPath  string
	OutputPath string
	Deflection DeflectionParameters
	// ASCII selects ASCII STL output instead of binary.
	ASCII  bool
	Status JobStatus
	Log    []string

	// OnLog, when set, receives each log line as it is appended.
	OnLog func(line string)
}

// NewConversionJob creates a pending job using the default tolerances.
func NewConversionJob(id, input, output string) *ConversionJob {
	return &ConversionJob{
		ID:         id,
		InputPath:  input,
		OutputPath: output,
		Deflection: DefaultDeflection(),
		Status:     StatusPending,
	}
}

// Logf appends a formatted status line.
func (j *ConversionJob) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	j.Log = append(j.Log, line)
	if j.OnLog != nil {
		j.OnLog(line)
	}
}

// ConversionResult is the immutable outcome of a job.
type ConversionResult struct {
	JobID        string
	Status       JobStatus
	OutputPath   string
	Err          error
	ErrorMessage string
	Triangles    int
	Bytes        int64
	Duration     time.Duration
}

func (r ConversionResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}
