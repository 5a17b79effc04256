package loam_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/callpath/internal/compiler"
	loamAdapter "github.com/aretw0/callpath/pkg/adapters/loam"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoader_Definitions(t *testing.T) {
	dir := seed(t, map[string]string{
		"review.md": `---
name: review
data_type: record
steps:
  - task: set
    args: {key: state, value: draft}
  - for: {start: 0, stop: 3, var: i}
    do:
      - task: add
        args: {key: count, amount: 2}
---
Park records until someone approves them.
More text that is not part of the description.`,
		"implicit.md": `---
description: Named after its file
steps:
  - task: set
    args: {key: seen, value: true}
---`,
	})

	loader, err := loamAdapter.Open(dir, compiler.NewParser(nil))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, loader.LoadInto(context.Background(), reg))
	assert.Equal(t, []string{"implicit", "review"}, reg.Names())

	def, err := reg.Resolve("review")
	require.NoError(t, err)
	assert.Equal(t, "record", def.DataType)
	assert.Equal(t, "Park records until someone approves them.", def.Description)
	require.Len(t, def.Steps, 2)
	_, isBlock := def.Steps[1].(domain.Block)
	assert.True(t, isBlock, "for loops compile to blocks")

	implicit, err := reg.Resolve("implicit")
	require.NoError(t, err)
	assert.Equal(t, "Named after its file", implicit.Description)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	dir := seed(t, map[string]string{
		"a.md": "---\nname: same\nsteps:\n  - task: set\n    args: {key: k, value: 1}\n---\n",
		"b.md": "---\nname: same\nsteps:\n  - task: set\n    args: {key: k, value: 2}\n---\n",
	})

	loader, err := loamAdapter.Open(dir, compiler.NewParser(nil))
	require.NoError(t, err)

	_, err = loader.Definitions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
	assert.Contains(t, err.Error(), "same")
}

func TestLoader_ReportsCompileErrors(t *testing.T) {
	dir := seed(t, map[string]string{
		"broken.md": "---\nname: broken\nsteps:\n  - task: no_such_task\n---\n",
	})

	loader, err := loamAdapter.Open(dir, compiler.NewParser(nil))
	require.NoError(t, err)

	_, err = loader.Definitions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoader_DefinitionsReadDocumentBodies(t *testing.T) {
	dir := seed(t, map[string]string{
		"review.md": "---\nname: review\nsteps:\n  - task: set\n    args: {key: k, value: 1}\n---\nBody line.\n",
	})

	loader, err := loamAdapter.Open(dir, compiler.NewParser(nil))
	require.NoError(t, err)
	ctx := context.Background()

	single, err := loader.Get(ctx, "review.md")
	require.NoError(t, err)
	assert.Equal(t, "Body line.", single.Description)

	defs, err := loader.Definitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, single.Description, defs[0].Description)
}
