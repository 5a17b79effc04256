package dsl

import (
	"context"

	"github.com/aretw0/callpath/pkg/domain"
)

// Halt suspends the item. With an empty action it behaves like Wait.
func Halt(message, action string) domain.Task {
	return domain.NewTask("halt", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.HaltWith(message, action)
	})
}

// Wait suspends the item until action is resolved.
func Wait(message, action string) domain.Task {
	return domain.NewTask("wait", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.WaitFor(message, action, nil)
	})
}

// Stop completes the item early and ends the batch.
func Stop(message string) domain.Task {
	return domain.NewTask("stop", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.StopWith(message)
	})
}

// Skip moves on to the next item.
func Skip() domain.Task {
	return domain.NewTask("skip", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.SkipItem()
	})
}

// Abort ends the batch.
func Abort() domain.Task {
	return domain.NewTask("abort", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.AbortBatch()
	})
}
