package domain

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunNew       RunStatus = "NEW"
	RunRunning   RunStatus = "RUNNING"
	RunHalted    RunStatus = "HALTED"
	RunCompleted RunStatus = "COMPLETED"
	RunError     RunStatus = "ERROR"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunNew, RunRunning, RunHalted, RunCompleted, RunError:
		return true
	}
	return false
}

// Run is one execution of a named pipeline over a set of items.
type Run struct {
	ID           string         `json:"id"`
	PipelineName string         `json:"pipeline_name"`
	Status       RunStatus      `json:"status"`
	Auxiliary    map[string]any `json:"auxiliary"`
	Created      time.Time      `json:"created"`
	Modified     time.Time      `json:"modified"`
}

// NewRun creates an unsaved run in status NEW.
func NewRun(id, pipeline string) *Run {
	return &Run{
		ID:           id,
		PipelineName: pipeline,
		Status:       RunNew,
		Auxiliary:    make(map[string]any),
	}
}

// Touch updates the modification timestamp, setting Created on first use.
func (r *Run) Touch(now time.Time) {
	if r.Created.IsZero() {
		r.Created = now
	}
	r.Modified = now
}
