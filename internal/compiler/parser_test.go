package compiler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/callpath/internal/compiler"
	"github.com/aretw0/callpath/internal/runtime"
	"github.com/aretw0/callpath/pkg/adapters/memory"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func process(t *testing.T, def domain.Definition, payload map[string]any) *domain.Item {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	item := domain.NewItem(payload)
	require.NoError(t, store.SaveItem(ctx, item))

	_, err := runtime.NewEngine(store).Process(ctx, domain.NewRun("r", def.Name), def, []*domain.Item{item}, runtime.Options{})
	require.NoError(t, err)
	return item
}

func TestParser_LoadDir(t *testing.T) {
	reg := registry.New()
	require.NoError(t, compiler.NewParser(nil).LoadInto(reg, "testdata"))
	assert.Equal(t, []string{"counter", "review"}, reg.Names())

	def, err := reg.Resolve("review")
	require.NoError(t, err)
	assert.Equal(t, "record", def.DataType)
	assert.Len(t, def.Steps, 4)
}

func TestParser_ReviewPipelineHalts(t *testing.T) {
	def, err := compiler.NewParser(nil).ParseFile(filepath.Join("testdata", "review.yaml"))
	require.NoError(t, err)

	item := process(t, def, nil)
	assert.Equal(t, domain.ItemHalted, item.Status)
	assert.Equal(t, "approve", item.Action())
	assert.Equal(t, 6, item.Payload["score"])
	assert.Equal(t, "record", item.DataType)
	assert.Equal(t, "score", item.TaskHistory()[1].Name)
}

func TestParser_ReviewPipelineAccepts(t *testing.T) {
	def, err := compiler.NewParser(nil).ParseFile(filepath.Join("testdata", "review.yaml"))
	require.NoError(t, err)

	item := process(t, def, map[string]any{"score": 10})
	assert.Equal(t, domain.ItemCompleted, item.Status)
	assert.Equal(t, "done", item.Payload["state"])
	assert.Equal(t, 16, item.Payload["score"])
}

func TestParser_WhileWithBreak(t *testing.T) {
	def, err := compiler.NewParser(nil).ParseFile(filepath.Join("testdata", "counter.yml"))
	require.NoError(t, err)

	item := process(t, def, map[string]any{"n": 0})
	assert.Equal(t, domain.ItemCompleted, item.Status)
	assert.Equal(t, 5, item.Payload["n"])
	assert.Equal(t, true, item.Payload["finished"])
}

func TestParser_Errors(t *testing.T) {
	parser := compiler.NewParser(nil)
	cases := map[string]string{
		"malformed":     "name: [",
		"missing name":  "steps:\n  - task: skip\n",
		"bad name":      "name: Bad Name\nsteps:\n  - task: skip\n",
		"no steps":      "name: empty\n",
		"unknown field": "name: x\nsurprise: 1\nsteps:\n  - task: skip\n",
		"unknown task":  "name: x\nsteps:\n  - task: teleport\n",
		"two kinds":     "name: x\nsteps:\n  - task: skip\n    break: true\n",
		"zero step":     "name: x\nsteps:\n  - for: {stop: 3, step: 0}\n    do: [{task: skip}]\n",
		"no predicate":  "name: x\nsteps:\n  - if: {args: {key: a}}\n    then: [{task: skip}]\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parser.Parse([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestParser_LoadDirReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: x\nsteps:\n  - task: teleport\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	_, err := compiler.NewParser(nil).LoadDir(dir)
	assert.ErrorContains(t, err, "bad.yaml")
}
