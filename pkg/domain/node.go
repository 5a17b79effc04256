package domain

import (
	"context"
	"log/slog"
)

// StepFunc is the signature of every pipeline step.
// A step may mutate the item's Payload and Auxiliary maps in place; everything
// else it wants from the engine is requested through the returned Outcome.
type StepFunc func(ctx context.Context, item *Item, scope *Scope) Outcome

// Scope is the read-mostly view of the engine handed to a step.
type Scope struct {
	Run      *Run
	Pipeline string
	// Position is a copy of the address of the running step.
	Position Position
	Logger   *slog.Logger
}

// Node is an element of a step tree: either a Task or a Block.
type Node interface {
	isNode()
}

// Task is a leaf of the step tree.
type Task struct {
	Name        string
	Description string
	// Hidden tasks are control-flow plumbing and are kept out of the task history.
	Hidden bool
	Fn     StepFunc
}

// Block is an ordered list of nodes. A pipeline definition is a top-level Block.
type Block []Node

func (Task) isNode()  {}
func (Block) isNode() {}

// NewTask wraps a step function into a named Task.
func NewTask(name string, fn StepFunc) Task {
	return Task{Name: name, Fn: fn}
}

// TaskInfo describes the task found at a position.
type TaskInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
	Position    Position `json:"position"`
}
