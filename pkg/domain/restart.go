package domain

import "fmt"

// RestartPoint selects where a suspended item resumes.
type RestartPoint string

const (
	// RestartTask re-runs the step the item stopped at.
	RestartTask RestartPoint = "restart_task"
	// ContinueNext runs the step after the one the item stopped at.
	ContinueNext RestartPoint = "continue_next"
	// RestartPrev re-runs the step before the one the item stopped at.
	RestartPrev RestartPoint = "restart_prev"
)

// ParseRestartPoint validates a restart point name.
func ParseRestartPoint(s string) (RestartPoint, error) {
	switch p := RestartPoint(s); p {
	case RestartTask, ContinueNext, RestartPrev:
		return p, nil
	}
	return "", fmt.Errorf("unknown restart point %q", s)
}
