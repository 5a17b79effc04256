package dsl

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/callpath/pkg/domain"
)

// Predicate decides a branch or loop condition.
type Predicate func(ctx context.Context, item *domain.Item, scope *domain.Scope) (bool, error)

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(ctx context.Context, item *domain.Item, scope *domain.Scope) (bool, error) {
		ok, err := p(ctx, item, scope)
		return !ok, err
	}
}

// If runs then only when cond holds.
//
//	[head, [then...]]
func If(cond Predicate, then ...domain.Node) domain.Block {
	head := hidden("if", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		ok, err := cond(ctx, item, scope)
		if err != nil {
			return domain.Fail(err)
		}
		if ok {
			return domain.MoveBy(1)
		}
		return domain.MoveBy(2)
	})
	return domain.Block{head, domain.Block(then)}
}

// IfElse runs then when cond holds and otherwise when it does not.
//
//	[head, [then...], skip, [otherwise...]]
func IfElse(cond Predicate, then, otherwise domain.Block) domain.Block {
	head := hidden("if_else", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		ok, err := cond(ctx, item, scope)
		if err != nil {
			return domain.Fail(err)
		}
		if ok {
			return domain.MoveBy(1)
		}
		return domain.MoveBy(3)
	})
	skip := hidden("else", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.MoveBy(2)
	})
	return domain.Block{head, then, skip, otherwise}
}

// While repeats body as long as cond holds.
//
//	[head, [body...], tail]
func While(cond Predicate, body ...domain.Node) domain.Block {
	head := hidden("while", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		ok, err := cond(ctx, item, scope)
		if err != nil {
			return domain.Fail(err)
		}
		key := scope.Position.String()
		if !ok {
			exitLoop(item, key)
			return domain.MoveBy(3)
		}
		enterLoop(item, key)
		return domain.MoveBy(1)
	})
	return domain.Block{head, domain.Block(body), backEdge("end_while")}
}

// For runs body for i = start; i < stop; i += step (i > stop for a negative
// step). The current value is readable with LoopValue(item, name) while the
// loop runs. Iterator state is kept in the item's auxiliary metadata so the
// loop resumes at the right iteration after a halt.
//
//	[head, [body...], tail]
func For(start, stop, step int, name string, body ...domain.Node) domain.Block {
	head := hidden("for", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		if step == 0 {
			return domain.Fail(errors.New("for loop with zero step"))
		}
		key := scope.Position.String()
		i := start
		if state, ok := iterators(item)[key].(map[string]any); ok {
			if v, ok := domain.AsInt(state["value"]); ok {
				i = v
			}
		}
		if (step > 0 && i >= stop) || (step < 0 && i <= stop) {
			exitLoop(item, key)
			return domain.MoveBy(3)
		}
		iterators(item)[key] = map[string]any{"value": i, "var": name}
		if name != "" {
			item.Auxiliary[name] = i
		}
		enterLoop(item, key)
		return domain.MoveBy(1)
	})
	tail := hidden("end_for", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		key := headKey(scope.Position)
		state, ok := iterators(item)[key].(map[string]any)
		if !ok {
			return domain.Fail(fmt.Errorf("no iterator for loop at [%s]", key))
		}
		v, _ := domain.AsInt(state["value"])
		state["value"] = v + step
		return domain.MoveBy(-2)
	})
	return domain.Block{head, domain.Block(body), tail}
}

// BreakLoop leaves the innermost enclosing For or While, however deeply the
// step is nested inside the loop body.
func BreakLoop() domain.Task {
	return hidden("break", func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
		loops, _ := item.Auxiliary[domain.AuxLoops].([]any)
		if len(loops) == 0 {
			return domain.Fail(errors.New("break outside of a loop"))
		}
		key, _ := loops[len(loops)-1].(string)
		headPos, err := domain.ParsePosition(key)
		if err != nil {
			return domain.Fail(err)
		}
		levels := len(scope.Position) - len(headPos) + 1
		exitLoop(item, key)
		return domain.MoveOut(levels)
	})
}

// LoopValue returns the current value of the For loop variable name.
func LoopValue(item *domain.Item, name string) (int, bool) {
	return domain.AsInt(item.Auxiliary[name])
}

func hidden(name string, fn domain.StepFunc) domain.Task {
	return domain.Task{Name: name, Hidden: true, Fn: fn}
}

func backEdge(name string) domain.Task {
	return hidden(name, func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
		return domain.MoveBy(-2)
	})
}

// headKey derives the loop head address from the tail address.
func headKey(tail domain.Position) string {
	head := tail.Clone()
	head[len(head)-1] -= 2
	return head.String()
}

func iterators(item *domain.Item) map[string]any {
	if item.Auxiliary == nil {
		item.Auxiliary = make(map[string]any)
	}
	m, ok := item.Auxiliary[domain.AuxIterators].(map[string]any)
	if !ok {
		m = make(map[string]any)
		item.Auxiliary[domain.AuxIterators] = m
	}
	return m
}

func enterLoop(item *domain.Item, key string) {
	loops, _ := item.Auxiliary[domain.AuxLoops].([]any)
	if len(loops) > 0 && loops[len(loops)-1] == key {
		return
	}
	item.Auxiliary[domain.AuxLoops] = append(loops, key)
}

// exitLoop drops every trace of the loop at key, including loops nested in it
// that a break skipped over.
func exitLoop(item *domain.Item, key string) {
	loops, _ := item.Auxiliary[domain.AuxLoops].([]any)
	for i := len(loops) - 1; i >= 0; i-- {
		if k, _ := loops[i].(string); k == key {
			for _, inner := range loops[i+1:] {
				k, _ := inner.(string)
				dropIterator(item, k)
			}
			loops = loops[:i]
			break
		}
	}
	dropIterator(item, key)
	if len(loops) == 0 {
		delete(item.Auxiliary, domain.AuxLoops)
	} else {
		item.Auxiliary[domain.AuxLoops] = loops
	}
}

func dropIterator(item *domain.Item, key string) {
	iters, ok := item.Auxiliary[domain.AuxIterators].(map[string]any)
	if !ok {
		return
	}
	if state, ok := iters[key].(map[string]any); ok {
		if name, _ := state["var"].(string); name != "" {
			delete(item.Auxiliary, name)
		}
	}
	delete(iters, key)
	if len(iters) == 0 {
		delete(item.Auxiliary, domain.AuxIterators)
	}
}
