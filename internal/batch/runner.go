package batch

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
)

// Outcome pairs a job with its result.
type Outcome struct {
	Job    *models.ConversionJob
	Result models.ConversionResult
}

// Runner converts jobs with at most Concurrency conversions in flight.
type Runner struct {
	Converter   *pipeline.Converter
	Concurrency int
	// Progress receives every log line with the index of the job that produced it.
	// Calls are serialized.
	Progress func(index int, line string)
}

// Run converts all jobs and returns their outcomes in input order. Failures are reported in
// the outcomes, never as an error; jobs not started before ctx is done are marked failed.
func (r *Runner) Run(ctx context.Context, jobs []*models.ConversionJob) []Outcome {
	conv := r.Converter
	if conv == nil {
		conv = pipeline.New()
	}
	limit := r.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	var mu sync.Mutex
	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, job := range jobs {
		if r.Progress != nil {
			job.OnLog = func(line string) {
				mu.Lock()
				defer mu.Unlock()
				r.Progress(i, line)
			}
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				job.Status = models.StatusFailed
				outcomes[i] = Outcome{Job: job, Result: models.ConversionResult{
					JobID:        job.ID,
					Status:       models.StatusFailed,
					Err:          err,
					ErrorMessage: "not started: " + err.Error(),
				}}
				return nil
			}
			outcomes[i] = Outcome{Job: job, Result: conv.Convert(gctx, job)}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return outcomes
}

// Failed counts the outcomes that did not succeed.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Result.Succeeded() {
			n++
		}
	}
	return n
}
