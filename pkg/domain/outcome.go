package domain

import "errors"

// Signal tells the engine what to do after a step returns.
type Signal string

const (
	// SignalContinue advances to the next step. It is the zero value.
	SignalContinue Signal = ""
	// SignalJump moves the cursor as described by Outcome.Jump.
	SignalJump Signal = "jump"
	// SignalWait suspends the item until an external actor resolves the recorded action.
	SignalWait Signal = "wait"
	// SignalHalt suspends the item. Without an action it behaves like SignalWait.
	SignalHalt Signal = "halt"
	// SignalStop completes the item early and ends the batch.
	SignalStop Signal = "stop"
	// SignalSkip leaves the item as it is and moves on to the next item.
	SignalSkip Signal = "skip"
	// SignalAbort ends the batch without touching the item.
	SignalAbort Signal = "abort"
	// SignalError marks the item as failed.
	SignalError Signal = "error"
)

// JumpKind selects one of the cursor operations a step may request.
type JumpKind int

const (
	// JumpRelative moves the cursor Offset siblings at the current depth.
	JumpRelative JumpKind = iota
	// JumpInto moves Offset siblings and descends into the Block found there.
	JumpInto
	// JumpOut leaves Levels enclosing blocks and continues after the node reached.
	JumpOut
)

// Jump describes a cursor movement.
type Jump struct {
	Kind   JumpKind
	Offset int
	Levels int
}

// Outcome is the tagged result of a step.
type Outcome struct {
	Signal  Signal
	Message string
	Action  string
	Payload any
	Err     error
	Jump    Jump
}

// Next continues with the following step.
func Next() Outcome { return Outcome{} }

// WaitFor suspends the item, recording the action an external actor must resolve.
func WaitFor(message, action string, payload any) Outcome {
	return Outcome{Signal: SignalWait, Message: message, Action: action, Payload: payload}
}

// HaltWith suspends the item. An empty action makes it equivalent to WaitFor.
func HaltWith(message, action string) Outcome {
	return Outcome{Signal: SignalHalt, Message: message, Action: action}
}

// StopWith completes the item and ends the batch.
func StopWith(message string) Outcome {
	return Outcome{Signal: SignalStop, Message: message}
}

// SkipItem moves on to the next item.
func SkipItem() Outcome { return Outcome{Signal: SignalSkip} }

// AbortBatch ends processing of the current batch.
func AbortBatch() Outcome { return Outcome{Signal: SignalAbort} }

// Fail marks the item as failed with err.
func Fail(err error) Outcome {
	if err == nil {
		err = errors.New("step failed")
	}
	return Outcome{Signal: SignalError, Err: err, Message: err.Error()}
}

// MoveBy requests a relative jump of offset siblings.
func MoveBy(offset int) Outcome {
	return Outcome{Signal: SignalJump, Jump: Jump{Kind: JumpRelative, Offset: offset}}
}

// MoveInto requests a jump of offset siblings followed by a descent into that Block.
func MoveInto(offset int) Outcome {
	return Outcome{Signal: SignalJump, Jump: Jump{Kind: JumpInto, Offset: offset}}
}

// MoveOut requests leaving levels enclosing blocks.
func MoveOut(levels int) Outcome {
	return Outcome{Signal: SignalJump, Jump: Jump{Kind: JumpOut, Levels: levels}}
}

// Interrupts reports whether the signal stops processing of the current item.
func (s Signal) Interrupts() bool {
	switch s {
	case SignalContinue, SignalJump:
		return false
	}
	return true
}
