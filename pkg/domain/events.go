package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventRunStart   EventType = "run_start"
	EventRunFinish  EventType = "run_finish"
	EventItemStart  EventType = "item_start"
	EventItemFinish EventType = "item_finish"
	EventStepEnter  EventType = "step_enter"
	EventStepLeave  EventType = "step_leave"
	EventTransition EventType = "transition"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Pipeline  string    `json:"pipeline"`
}

// RunEvent is emitted when a batch starts and when the run is finalized.
type RunEvent struct {
	EventBase
	Status RunStatus `json:"status"`
	Items  int       `json:"items"`
}

// ItemEvent is emitted when an item enters and leaves processing.
type ItemEvent struct {
	EventBase
	ItemID int64      `json:"item_id"`
	Status ItemStatus `json:"status"`
}

// StepEvent is emitted around each step execution.
type StepEvent struct {
	EventBase
	ItemID   int64         `json:"item_id"`
	Task     string        `json:"task"`
	Position Position      `json:"position"`
	Duration time.Duration `json:"duration,omitempty"`
	Signal   Signal        `json:"signal,omitempty"`
}

// TransitionEvent is emitted after a signal has been handled and persisted.
type TransitionEvent struct {
	EventBase
	ItemID   int64      `json:"item_id"`
	Signal   Signal     `json:"signal"`
	Status   ItemStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
	Action   string     `json:"action,omitempty"`
	Position Position   `json:"position"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnRunStart   func(context.Context, *RunEvent)
	OnRunFinish  func(context.Context, *RunEvent)
	OnItemStart  func(context.Context, *ItemEvent)
	OnItemFinish func(context.Context, *ItemEvent)
	OnStepEnter  func(context.Context, *StepEvent)
	OnStepLeave  func(context.Context, *StepEvent)
	OnTransition func(context.Context, *TransitionEvent)
}
