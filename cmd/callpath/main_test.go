package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewPipeline = `name: review
description: Park items until approved
steps:
  - task: set
    args: {key: state, value: draft}
  - task: halt
    args: {message: needs approval, action: approve}
  - task: set
    args: {key: state, value: published}
`

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "pipelines")
	require.NoError(t, os.Mkdir(defs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "review.yaml"), []byte(reviewPipeline), 0o644))

	cfg := "log_level: error\n" +
		"store: {driver: sqlite, path: " + filepath.Join(dir, "callpath.db") + "}\n" +
		"definitions: " + defs + "\n" +
		"commands: " + filepath.Join(dir, "commands.yaml") + "\n"
	path := filepath.Join(dir, "callpath.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunResumeCycle(t *testing.T) {
	cfg := setupProject(t)

	out, err := execute(t, "-c", cfg, "pipelines", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "review")
	assert.Contains(t, out, "Park items until approved")

	out, err = execute(t, "-c", cfg, "run", "review", "--data", `[{"title":"a"}]`)
	require.NoError(t, err)
	assert.Contains(t, out, "status=HALTED")
	assert.Contains(t, out, "action=approve")

	m := regexp.MustCompile(`item (\d+)`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	itemID := m[1]

	out, err = execute(t, "-c", cfg, "items", "inspect", itemID)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "draft"`)
	assert.Contains(t, out, `"name": "halt"`)

	t.Cleanup(func() { graphItem = 0 })
	out, err = execute(t, "-c", cfg, "pipelines", "graph", "review", "--item", itemID)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `n1["halt"]`)
	assert.Contains(t, out, "class n0 visited;")
	assert.Contains(t, out, "current;")

	out, err = execute(t, "-c", cfg, "resume", itemID)
	require.NoError(t, err)
	assert.Contains(t, out, "status=COMPLETED")

	out, err = execute(t, "-c", cfg, "runs", "ls", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "review")

	_, err = execute(t, "-c", cfg, "resume", itemID)
	assert.Error(t, err, "completed items cannot be resumed")
}

func TestRunRejectsBadInput(t *testing.T) {
	cfg := setupProject(t)
	t.Cleanup(func() { _ = resumeCmd.Flags().Set("point", "continue_next") })

	_, err := execute(t, "-c", cfg, "run", "review", "--data", `not json`)
	assert.Error(t, err)

	_, err = execute(t, "-c", cfg, "run", "unknown", "--data", `{}`)
	assert.Error(t, err)

	_, err = execute(t, "-c", cfg, "resume", "1", "--point", "sideways")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := setupProject(t)
	out, err := execute(t, "-c", cfg, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 pipelines are valid")

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, "x.yaml"), []byte("name: x\nsteps:\n  - task: nope\n"), 0o644))
	_, err = execute(t, "-c", cfg, "validate", bad)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "callpath version "))
}

func TestParseData(t *testing.T) {
	list, err := parseData([]byte(`[{"a":1},{"b":2}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	one, err := parseData([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Len(t, one, 1)

	_, err = parseData([]byte(`42`))
	assert.Error(t, err)
}
