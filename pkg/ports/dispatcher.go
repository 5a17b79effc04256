package ports

import "context"

// Job is a unit of processing handed to a Dispatcher.
type Job func(ctx context.Context) error

// Handle tracks a submitted Job.
type Handle interface {
	// ID identifies the job.
	ID() string
	// Done is closed once the job has finished.
	Done() <-chan struct{}
	// Wait blocks until the job finishes or ctx is done and returns the job's error.
	Wait(ctx context.Context) error
}

// Dispatcher executes jobs outside the caller's goroutine.
type Dispatcher interface {
	Submit(ctx context.Context, name string, job Job) (Handle, error)
}
