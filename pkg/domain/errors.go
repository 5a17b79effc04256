package domain

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a run ID cannot be found in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrItemNotFound is returned when an item ID cannot be found in the store.
var ErrItemNotFound = errors.New("item not found")

// ErrMissingData is returned when a run is started without data or item IDs.
var ErrMissingData = errors.New("no data or item ids given")

// ErrMissingObject is returned when a referenced item does not exist.
var ErrMissingObject = errors.New("item does not exist")

// ErrMissingModel is returned when a referenced run does not exist.
var ErrMissingModel = errors.New("run does not exist")

// ErrDefinitionNotFound is returned when a pipeline name is not registered.
var ErrDefinitionNotFound = errors.New("pipeline definition not found")

// ErrItemCompleted is returned when resuming an item that already completed.
var ErrItemCompleted = errors.New("item already completed")

// ErrNoRun is returned when resuming an item that is not attached to a run.
var ErrNoRun = errors.New("item is not attached to a run")

// ErrAddress is returned when a position does not resolve inside a step tree.
var ErrAddress = errors.New("invalid position")

// ErrHalted and ErrWaiting classify an InterruptError.
var (
	ErrHalted  = errors.New("item halted")
	ErrWaiting = errors.New("item waiting")
)

// DefinitionError reports an unknown pipeline name.
type DefinitionError struct {
	Name string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("pipeline %q: %s", e.Name, ErrDefinitionNotFound)
}

func (e *DefinitionError) Unwrap() error { return ErrDefinitionNotFound }

// AddressError reports a position that does not resolve inside a tree.
type AddressError struct {
	Position Position
	Reason   string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", ErrAddress, e.Position, e.Reason)
}

func (e *AddressError) Unwrap() error { return ErrAddress }

// StepError wraps the error a step failed with, keeping where it happened.
type StepError struct {
	ItemID   int64
	Task     string
	Position Position
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("item %d: task %q at [%s]: %v", e.ItemID, e.Task, e.Position, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// InterruptError is returned when an item is suspended and the caller asked
// processing to stop on halts.
type InterruptError struct {
	ItemID   int64
	Signal   Signal
	Message  string
	Action   string
	Position Position
}

func (e *InterruptError) Error() string {
	msg := fmt.Sprintf("item %d %s at [%s]", e.ItemID, e.Signal, e.Position)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *InterruptError) Is(target error) bool {
	switch target {
	case ErrHalted:
		return e.Signal == SignalHalt && e.Action != ""
	case ErrWaiting:
		return e.Signal == SignalWait || (e.Signal == SignalHalt && e.Action == "")
	}
	return false
}

// PanicError carries a recovered panic from a step.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}
