package callpath_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/pkg/adapters/memory"
	"github.com/aretw0/callpath/pkg/adapters/worker"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func add(key string, n int) domain.Task {
	return dsl.Step("add", func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
		v, _ := domain.AsInt(item.Payload[key])
		item.Payload[key] = v + n
		return domain.Next()
	})
}

func setup(t *testing.T, defs ...domain.Definition) (*callpath.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	eng, err := callpath.New(store, registry.New().MustRegister(defs...))
	require.NoError(t, err)
	return eng, store
}

func onlyItem(t *testing.T, eng *callpath.Engine, runID string) *domain.Item {
	t.Helper()
	items, err := eng.Items(context.Background(), ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestNew_RequiresStoreAndResolver(t *testing.T) {
	_, err := callpath.New(nil, registry.New())
	assert.Error(t, err)
	_, err = callpath.New(memory.NewStore(), nil)
	assert.Error(t, err)
}

func TestHaltThenResume(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("halting").Then(
		add("x", 20),
		dsl.Halt("Test", "foo"),
	).Build())

	runID, err := eng.Start(ctx, "halting", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)

	item := onlyItem(t, eng, runID)
	assert.Equal(t, domain.ItemHalted, item.Status)
	assert.Equal(t, "foo", item.Action())
	assert.Equal(t, "Test", item.ActionMessage())
	assert.EqualValues(t, 20, item.Payload["x"])

	run, err := eng.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunHalted, run.Status)

	task, err := eng.CurrentTask(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "halt", task.Name)

	resumed, err := eng.Resume(ctx, item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, runID, resumed)

	item = onlyItem(t, eng, runID)
	assert.Equal(t, domain.ItemCompleted, item.Status)
	assert.EqualValues(t, 20, item.Payload["x"])

	run, err = eng.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestStepErrorReachesCaller(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	eng, _ := setup(t, dsl.New("failing").Then(
		dsl.Step("error_step", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
			return domain.Fail(boom)
		}),
	).Build())

	runID, err := eng.Start(ctx, "failing", callpath.Input{Data: []map[string]any{{"id": 0}}})
	require.ErrorIs(t, err, boom)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "error_step", stepErr.Task)

	item := onlyItem(t, eng, runID)
	assert.Equal(t, domain.ItemError, item.Status)
	assert.Contains(t, item.ErrorMessage(), "boom")

	run, err := eng.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunError, run.Status)
}

func TestBatchWithHaltedItem(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("maybe").Then(
		dsl.If(func(_ context.Context, item *domain.Item, _ *domain.Scope) (bool, error) {
			return item.Payload["hold"] == true, nil
		}, dsl.Halt("held", "release")),
		add("x", 1),
	).Build())

	runID, err := eng.Start(ctx, "maybe", callpath.Input{Data: []map[string]any{
		{"hold": true},
		{"hold": false},
	}}, callpath.StopOnHalt(false))
	require.NoError(t, err)

	items, err := eng.Items(ctx, ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].Status.Suspended())
	assert.Equal(t, domain.ItemCompleted, items[1].Status)
	assert.EqualValues(t, 1, items[1].Payload["x"])

	run, err := eng.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunHalted, run.Status)
}

func TestStopOnHaltReturnsInterrupt(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("hold").Then(dsl.Halt("held", "release"), add("x", 1)).Build())

	runID, err := eng.Start(ctx, "hold", callpath.Input{Data: []map[string]any{{}, {}}}, callpath.StopOnHalt(true))
	require.Error(t, err)
	var interrupt *domain.InterruptError
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "release", interrupt.Action)

	items, err := eng.Items(ctx, ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.ItemHalted, items[0].Status)
	assert.Equal(t, domain.ItemInitial, items[1].Status)
}

func TestNestedLoop(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("loop").Then(
		dsl.For(0, 4, 1, "i",
			dsl.For(0, 5, 1, "j", add("x", 1)),
		),
	).Build())

	runID, err := eng.Start(ctx, "loop", callpath.Input{Data: []map[string]any{{"x": 0}}})
	require.NoError(t, err)

	item := onlyItem(t, eng, runID)
	assert.Equal(t, domain.ItemCompleted, item.Status)
	assert.EqualValues(t, 20, item.Payload["x"])
	assert.NotContains(t, item.Auxiliary, domain.AuxIterators)
	assert.NotContains(t, item.Auxiliary, domain.AuxLoops)
	assert.NotContains(t, item.Auxiliary, "i")
}

func TestStart_ValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	eng, store := setup(t, dsl.New("p").Then(add("x", 1)).Build())

	_, err := eng.Start(ctx, "missing", callpath.Input{Data: []map[string]any{{}}})
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)

	_, err = eng.Start(ctx, "p", callpath.Input{})
	assert.ErrorIs(t, err, domain.ErrMissingData)

	_, err = eng.Start(ctx, "p", callpath.Input{ItemIDs: []int64{999}})
	assert.ErrorIs(t, err, domain.ErrMissingObject)

	runs, err := store.ListRuns(ctx, ports.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStart_ExistingItems(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("p").DataType("record").Then(add("x", 1)).Build())

	item, err := eng.CreateItem(ctx, map[string]any{"x": 41})
	require.NoError(t, err)
	assert.Empty(t, item.RunID)

	runID, err := eng.Start(ctx, "p", callpath.Input{ItemIDs: []int64{item.ID}})
	require.NoError(t, err)

	loaded, err := eng.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, runID, loaded.RunID)
	assert.Equal(t, "record", loaded.DataType)
	assert.EqualValues(t, 42, loaded.Payload["x"])
}

func TestResume_Errors(t *testing.T) {
	ctx := context.Background()
	eng, store := setup(t, dsl.New("p").Then(add("x", 1)).Build())

	_, err := eng.Resume(ctx, 12345, domain.ContinueNext)
	assert.ErrorIs(t, err, domain.ErrMissingObject)

	detached, err := eng.CreateItem(ctx, nil)
	require.NoError(t, err)
	_, err = eng.Resume(ctx, detached.ID, domain.ContinueNext)
	assert.ErrorIs(t, err, domain.ErrNoRun)

	orphan := domain.NewItem(nil)
	orphan.RunID = "gone"
	orphan.Status = domain.ItemHalted
	require.NoError(t, store.SaveItem(ctx, orphan))
	_, err = eng.Resume(ctx, orphan.ID, domain.ContinueNext)
	assert.ErrorIs(t, err, domain.ErrMissingModel)

	runID, err := eng.Start(ctx, "p", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)
	done := onlyItem(t, eng, runID)
	_, err = eng.Resume(ctx, done.ID, domain.ContinueNext)
	assert.ErrorIs(t, err, domain.ErrItemCompleted)

	_, err = eng.Resume(ctx, done.ID, "sideways")
	assert.Error(t, err)
}

func TestResume_RestartTask(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	eng, _ := setup(t, dsl.New("retry").Then(
		dsl.Step("flaky", func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
			attempts++
			if attempts == 1 {
				return domain.Fail(errors.New("not yet"))
			}
			return domain.Next()
		}),
	).Build())

	runID, err := eng.Start(ctx, "retry", callpath.Input{Data: []map[string]any{{}}})
	require.Error(t, err)
	item := onlyItem(t, eng, runID)
	require.Equal(t, domain.ItemError, item.Status)

	_, err = eng.Resume(ctx, item.ID, domain.RestartTask)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, domain.ItemCompleted, onlyItem(t, eng, runID).Status)
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t, dsl.New("count").Then(add("x", 1), dsl.Halt("wait", "go")).Build())

	runID, err := eng.Start(ctx, "count", callpath.Input{Data: []map[string]any{{"x": 0}}})
	require.NoError(t, err)

	_, err = eng.Restart(ctx, runID)
	require.NoError(t, err)

	item := onlyItem(t, eng, runID)
	assert.EqualValues(t, 2, item.Payload["x"])
	assert.Equal(t, domain.ItemHalted, item.Status)

	_, err = eng.Restart(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrMissingModel)
}

func TestResume_WaitsForRestartOfSameRun(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	gate := dsl.Step("gate", func(ctx context.Context, _ *domain.Item, _ *domain.Scope) domain.Outcome {
		calls++
		if calls == 2 {
			close(entered)
			<-release
		}
		return domain.HaltWith("wait", "go")
	})
	eng, _ := setup(t, dsl.New("gated").Then(gate).Build())

	runID, err := eng.Start(ctx, "gated", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)
	item := onlyItem(t, eng, runID)

	restarted := make(chan error, 1)
	go func() {
		_, err := eng.Restart(ctx, runID)
		restarted <- err
	}()
	<-entered

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = eng.Resume(short, item.ID, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-restarted)
	assert.Equal(t, 2, calls)

	_, err = eng.Resume(ctx, item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemCompleted, onlyItem(t, eng, runID).Status)
}

func TestAsync(t *testing.T) {
	ctx := context.Background()
	def := dsl.New("p").Then(add("x", 1)).Build()

	eng, _ := setup(t, def)
	_, _, err := eng.StartAsync(ctx, "p", callpath.Input{Data: []map[string]any{{}}})
	assert.ErrorIs(t, err, callpath.ErrNoDispatcher)

	pool := worker.NewPool(worker.WithPoolConcurrency(2))
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	async, err := callpath.New(memory.NewStore(), registry.New().MustRegister(def), callpath.WithDispatcher(pool))
	require.NoError(t, err)

	runID, h, err := async.StartAsync(ctx, "p", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)

	// The run exists before the job is picked up.
	_, err = async.Run(ctx, runID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(waitCtx))

	item := onlyItem(t, async, runID)
	assert.Equal(t, domain.ItemCompleted, item.Status)

	_, h, err = async.RestartAsync(ctx, runID)
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx))
	assert.EqualValues(t, 2, onlyItem(t, async, runID).Payload["x"])
}

func TestDeleteAndPipelines(t *testing.T) {
	ctx := context.Background()
	eng, _ := setup(t,
		dsl.New("b").Then(add("x", 1)).Build(),
		dsl.New("a").Then(add("x", 1)).Build(),
	)
	assert.Equal(t, []string{"a", "b"}, eng.Pipelines())

	runID, err := eng.Start(ctx, "a", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)
	item := onlyItem(t, eng, runID)

	require.NoError(t, eng.DeleteItem(ctx, item.ID, false))
	soft, err := eng.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, soft.Deleted)

	require.NoError(t, eng.DeleteRun(ctx, runID))
	_, err = eng.Run(ctx, runID)
	assert.True(t, callpath.IsNotFound(err))
}
