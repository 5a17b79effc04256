package dsl_test

import (
	"context"
	"testing"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *domain.Item, *domain.Scope) domain.Outcome { return domain.Next() }

func TestBuilder_Definition(t *testing.T) {
	def := dsl.New("ingest").
		Describe("ingest records").
		DataType("record").
		Then(dsl.Step("fetch", noop)).
		Then(dsl.Seq(dsl.Step("a", noop), dsl.Step("b", noop))).
		Build()

	assert.Equal(t, "ingest", def.Name)
	assert.Equal(t, "ingest records", def.Description)
	assert.Equal(t, "record", def.DataType)
	require.Len(t, def.Steps, 2)

	task, ok := def.Steps[0].(domain.Task)
	require.True(t, ok)
	assert.Equal(t, "fetch", task.Name)
	assert.False(t, task.Hidden)

	block, ok := def.Steps[1].(domain.Block)
	require.True(t, ok)
	assert.Len(t, block, 2)
}

func TestBuilder_BuildCopiesSteps(t *testing.T) {
	b := dsl.New("copy").Then(dsl.Step("a", noop))
	first := b.Build()
	b.Then(dsl.Step("b", noop))

	assert.Len(t, first.Steps, 1)
	assert.Len(t, b.Build().Steps, 2)
}

func TestFlowShapes(t *testing.T) {
	always := func(context.Context, *domain.Item, *domain.Scope) (bool, error) { return true, nil }

	assert.Len(t, dsl.If(always, dsl.Step("x", noop)), 2)
	assert.Len(t, dsl.IfElse(always, dsl.Seq(), dsl.Seq()), 4)
	assert.Len(t, dsl.While(always), 3)

	loop := dsl.For(0, 3, 1, "i", dsl.Step("x", noop))
	require.Len(t, loop, 3)
	head := loop[0].(domain.Task)
	assert.True(t, head.Hidden)
}
