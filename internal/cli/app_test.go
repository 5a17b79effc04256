package cli

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/internal/config"
	"github.com/aretw0/callpath/internal/logging"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approval = `name: approval
steps:
  - task: set
    args: {key: secret_token, value: abc}
  - task: halt
    args: {message: check it, action: approve}
`

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "pipelines")
	require.NoError(t, os.Mkdir(defs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "approval.yaml"), []byte(approval), 0o644))

	cfg := config.Default()
	cfg.Store.Driver = driver
	cfg.Store.Path = filepath.Join(dir, "data", "callpath.db")
	cfg.Definitions = defs
	cfg.Commands = filepath.Join(dir, "commands.yaml")
	cfg.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "sqlite")

	app, err := Open(ctx, cfg, logging.NewNop(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"approval"}, app.Engine.Pipelines())
	assert.True(t, app.Registry.Frozen())

	runID, err := app.Engine.Start(ctx, "approval", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// A second process sees the suspended item and can resume it.
	app, err = Open(ctx, cfg, logging.NewNop(), Options{})
	require.NoError(t, err)
	defer app.Close()

	items, err := app.Engine.Items(ctx, ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ItemHalted, items[0].Status)

	_, err = app.Engine.Resume(ctx, items[0].ID, domain.ContinueNext)
	require.NoError(t, err)

	run, err := app.Engine.Run(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)

	count, err := testutil.GatherAndCount(app.Metrics, "callpath_runs_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one pipeline/status series after the resume")
}

func TestOpen_EncryptedAndRedacted(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "memory")
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg.Redact = []string{"(?i)token"}

	app, err := Open(ctx, cfg, logging.NewNop(), Options{Async: true})
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.Pool)

	runID, h, err := app.Engine.StartAsync(ctx, "approval", callpath.Input{Data: []map[string]any{{}}})
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))

	items, err := app.Engine.Items(ctx, ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "abc", items[0].Payload["secret_token"])

	masked, err := app.Redacted().ListItems(ctx, ports.ItemFilter{RunID: runID})
	require.NoError(t, err)
	require.Len(t, masked, 1)
	assert.Equal(t, "***", masked[0].Payload["secret_token"])
}

func TestOpen_MissingDefinitions(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Definitions = filepath.Join(t.TempDir(), "absent")

	app, err := Open(context.Background(), cfg, logging.NewNop(), Options{})
	require.NoError(t, err)
	defer app.Close()
	assert.Empty(t, app.Engine.Pipelines())
}

func TestOpen_InvalidPipeline(t *testing.T) {
	cfg := testConfig(t, "memory")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Definitions, "bad.yaml"), []byte("name: bad\nsteps:\n  - task: nope\n"), 0o644))

	_, err := Open(context.Background(), cfg, logging.NewNop(), Options{})
	assert.Error(t, err)
}

func TestOpen_LoamDefinitions(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.DefinitionsSource = "loam"
	cfg.Definitions = t.TempDir()
	doc := "---\nname: greet\nsteps:\n  - task: set\n    args: {key: greeting, value: hello}\n---\nSay hello.\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Definitions, "greet.md"), []byte(doc), 0o644))

	app, err := Open(context.Background(), cfg, logging.NewNop(), Options{})
	require.NoError(t, err)
	defer app.Close()

	def, err := app.Engine.Definition("greet")
	require.NoError(t, err)
	assert.Equal(t, "Say hello.", def.Description)
}
