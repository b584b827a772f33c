package session

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one Send on one session.
type Job struct {
	Session  *Session
	Content  string
	Priority int
}

// Result is the outcome of a Job.
type Result struct {
	Reply string
	Err   error
}

// SendAll runs jobs concurrently, at most limit at a time (limit <= 0 means no limit).
// Results line up with jobs and failures are independent. A session may appear in
// only one job per batch; later jobs reusing it fail with ErrSessionShared, and
// jobs without a session fail with ErrNoSession.
func SendAll(ctx context.Context, jobs []Job, limit int) []Result {
	results := make([]Result, len(jobs))
	seen := make(map[*Session]struct{}, len(jobs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := range jobs {
		job := jobs[i]
		if job.Session == nil {
			results[i].Err = ErrNoSession
			continue
		}
		if _, dup := seen[job.Session]; dup {
			results[i].Err = ErrSessionShared
			continue
		}
		seen[job.Session] = struct{}{}

		g.Go(func() error {
			reply, err := job.Session.Send(ctx, job.Content, job.Priority)
			results[i] = Result{Reply: reply, Err: err}
			return nil
		})
	}

	_ = g.Wait() // Jobs report through results.
	return results
}
