package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/callpath/pkg/domain"
)

// LogHooks returns lifecycle hooks that write every event to logger.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_start", "run_id", e.RunID, "pipeline", e.Pipeline, "items", e.Items)
		},
		OnRunFinish: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_finish", "run_id", e.RunID, "pipeline", e.Pipeline, "status", e.Status)
		},
		OnItemStart: func(ctx context.Context, e *domain.ItemEvent) {
			logger.DebugContext(ctx, "item_start", "run_id", e.RunID, "item_id", e.ItemID)
		},
		OnItemFinish: func(ctx context.Context, e *domain.ItemEvent) {
			logger.InfoContext(ctx, "item_finish", "run_id", e.RunID, "item_id", e.ItemID, "status", e.Status)
		},
		OnStepEnter: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_enter", "item_id", e.ItemID, "task", e.Task, "position", e.Position.String())
		},
		OnStepLeave: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_leave",
				"item_id", e.ItemID,
				"task", e.Task,
				"signal", e.Signal,
				"duration", e.Duration,
			)
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			logger.InfoContext(ctx, "transition",
				"item_id", e.ItemID,
				"signal", e.Signal,
				"status", e.Status,
				"action", e.Action,
				"position", e.Position.String(),
			)
		},
	}
}

// Combine merges hook sets so that every non-nil callback runs in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnRunStart = chain(out.OnRunStart, h.OnRunStart)
		out.OnRunFinish = chain(out.OnRunFinish, h.OnRunFinish)
		out.OnItemStart = chain(out.OnItemStart, h.OnItemStart)
		out.OnItemFinish = chain(out.OnItemFinish, h.OnItemFinish)
		out.OnStepEnter = chain(out.OnStepEnter, h.OnStepEnter)
		out.OnStepLeave = chain(out.OnStepLeave, h.OnStepLeave)
		out.OnTransition = chain(out.OnTransition, h.OnTransition)
	}
	return out
}

func chain[E any](first, second func(context.Context, E)) func(context.Context, E) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(ctx context.Context, e E) {
		first(ctx, e)
		second(ctx, e)
	}
}
