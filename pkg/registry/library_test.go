package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStep(t *testing.T, lib *registry.Library, name string, args map[string]any, item *domain.Item) domain.Outcome {
	t.Helper()
	fn, err := lib.Step(name, args)
	require.NoError(t, err)
	return fn(context.Background(), item, &domain.Scope{})
}

func TestLibrary_PayloadSteps(t *testing.T) {
	lib := registry.NewLibrary()
	item := domain.NewItem(nil)

	runStep(t, lib, "set", map[string]any{"key": "title", "value": "hello"}, item)
	runStep(t, lib, "add", map[string]any{"key": "count", "amount": "5"}, item)
	runStep(t, lib, "add", map[string]any{"key": "count"}, item)
	runStep(t, lib, "append", map[string]any{"key": "tags", "value": "x"}, item)
	runStep(t, lib, "append", map[string]any{"key": "tags", "value": "y"}, item)

	assert.Equal(t, "hello", item.Payload["title"])
	assert.Equal(t, 6, item.Payload["count"])
	assert.Equal(t, []any{"x", "y"}, item.Payload["tags"])

	runStep(t, lib, "unset", map[string]any{"key": "title"}, item)
	assert.NotContains(t, item.Payload, "title")
}

func TestLibrary_AddRejectsNonNumbers(t *testing.T) {
	lib := registry.NewLibrary()
	item := domain.NewItem(map[string]any{"count": "many"})

	out := runStep(t, lib, "add", map[string]any{"key": "count"}, item)
	assert.Equal(t, domain.SignalError, out.Signal)
}

func TestLibrary_SignalSteps(t *testing.T) {
	lib := registry.NewLibrary()
	item := domain.NewItem(nil)

	halt := runStep(t, lib, "halt", map[string]any{"message": "check", "action": "approve"}, item)
	assert.Equal(t, domain.SignalHalt, halt.Signal)
	assert.Equal(t, "approve", halt.Action)

	assert.Equal(t, domain.SignalWait, runStep(t, lib, "wait", nil, item).Signal)
	assert.Equal(t, domain.SignalStop, runStep(t, lib, "stop", nil, item).Signal)
	assert.Equal(t, domain.SignalSkip, runStep(t, lib, "skip", nil, item).Signal)
	assert.Equal(t, domain.SignalAbort, runStep(t, lib, "abort", nil, item).Signal)

	fail := runStep(t, lib, "fail", map[string]any{"message": "nope"}, item)
	assert.Equal(t, domain.SignalError, fail.Signal)
	assert.EqualError(t, fail.Err, "nope")
}

func TestLibrary_ArgumentErrors(t *testing.T) {
	lib := registry.NewLibrary()

	_, err := lib.Step("set", map[string]any{"value": 1})
	assert.ErrorContains(t, err, "missing key")

	_, err = lib.Step("set", map[string]any{"key": "a", "bogus": 1})
	assert.ErrorContains(t, err, "invalid arguments")

	_, err = lib.Step("unknown", nil)
	assert.ErrorContains(t, err, "step not found")

	_, err = lib.Predicate("less_than", map[string]any{"key": "a", "value": "x"})
	assert.Error(t, err)
}

func TestLibrary_SleepHonoursContext(t *testing.T) {
	lib := registry.NewLibrary()
	fn, err := lib.Step("sleep", map[string]any{"duration": "1h"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out := fn(ctx, domain.NewItem(nil), &domain.Scope{})
	assert.Equal(t, domain.SignalError, out.Signal)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestLibrary_Predicates(t *testing.T) {
	lib := registry.NewLibrary()
	item := domain.NewItem(map[string]any{"n": float64(3), "s": "x"})
	ctx := context.Background()

	cases := []struct {
		name string
		args map[string]any
		want bool
	}{
		{"equals", map[string]any{"key": "n", "value": 3}, true},
		{"equals", map[string]any{"key": "s", "value": "y"}, false},
		{"has_key", map[string]any{"key": "s"}, true},
		{"has_key", map[string]any{"key": "missing"}, false},
		{"less_than", map[string]any{"key": "n", "value": 4}, true},
		{"greater_than", map[string]any{"key": "n", "value": 4}, false},
	}
	for _, tc := range cases {
		p, err := lib.Predicate(tc.name, tc.args)
		require.NoError(t, err)
		got, err := p(ctx, item, &domain.Scope{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %v", tc.name, tc.args)
	}
}

func TestLibrary_CustomStep(t *testing.T) {
	lib := registry.NewLibrary()
	lib.RegisterStep("shout", func(map[string]any) (domain.StepFunc, error) {
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			item.Payload["shout"] = true
			return domain.Next()
		}, nil
	})

	assert.Contains(t, lib.Steps(), "shout")
	item := domain.NewItem(nil)
	runStep(t, lib, "shout", nil, item)
	assert.Equal(t, true, item.Payload["shout"])
}
