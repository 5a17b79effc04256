package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
)

// ErrNotRegistered is returned for commands missing from the allow-list.
var ErrNotRegistered = errors.New("command not registered")

// StepName is the library name of the step built by Runner.StepFactory.
const StepName = "exec"

// Runner executes local processes on behalf of pipeline steps.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	registry map[string]ProcessConfig
	baseDir  string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(commands map[string]ProcessConfig) RunnerOption {
	return func(r *Runner) {
		for name, c := range commands {
			c.Name = name
			r.registry[name] = c
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]ProcessConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted script/command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = ProcessConfig{
		Name:    name,
		Command: command,
		Args:    args,
	}
}

// Names lists the registered commands.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named command for item.
//
// The item payload is written to stdin as JSON. Arguments are passed as
// CALLPATH_ARG_<NAME> environment variables, never as command flags, to rule
// out flag injection. Stdout is decoded as JSON when it looks like JSON and
// returned as a trimmed string otherwise.
func (r *Runner) Execute(ctx context.Context, name string, item *domain.Item, args map[string]any) (any, error) {
	proc, ok := r.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	stdin, err := json.Marshal(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	cmd.Stdin = bytes.NewReader(stdin)

	env := []string{
		"CALLPATH_ITEM_ID=" + strconv.FormatInt(item.ID, 10),
		"CALLPATH_RUN_ID=" + item.RunID,
	}
	for k, v := range proc.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		env = append(env, fmt.Sprintf("CALLPATH_ARG_%s=%s", strings.ToUpper(k), envValue(v)))
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("execution of %s failed: %w. Stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var result any
		if err := json.Unmarshal([]byte(trimmed), &result); err == nil {
			return result, nil
		}
	}
	return trimmed, nil
}

// envValue renders primitives with fmt and everything else as JSON.
func envValue(v any) string {
	switch v.(type) {
	case string, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

type execArgs struct {
	Command string         `mapstructure:"command"`
	SaveTo  string         `mapstructure:"save_to"`
	Args    map[string]any `mapstructure:"args"`
}

// StepFactory builds "exec" steps:
//
//	- task: exec
//	  args: {command: enrich, save_to: enrichment, args: {mode: fast}}
//
// With save_to the result is stored under that payload key. Without it a JSON
// object result is merged into the payload and anything else is dropped.
// Failures end the step with an error outcome.
func (r *Runner) StepFactory() registry.StepFactory {
	return func(raw map[string]any) (domain.StepFunc, error) {
		var a execArgs
		if err := registry.DecodeArgs(raw, &a); err != nil {
			return nil, err
		}
		if a.Command == "" {
			return nil, errors.New("command is required")
		}
		if _, ok := r.registry[a.Command]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, a.Command)
		}
		return func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
			result, err := r.Execute(ctx, a.Command, item, a.Args)
			if err != nil {
				return domain.Fail(err)
			}
			if a.SaveTo != "" {
				item.Payload[a.SaveTo] = result
				return domain.Next()
			}
			if fields, ok := result.(map[string]any); ok {
				for k, v := range fields {
					item.Payload[k] = v
				}
			}
			return domain.Next()
		}, nil
	}
}

// Install registers the exec step on lib.
func (r *Runner) Install(lib *registry.Library) {
	lib.RegisterStep(StepName, r.StepFactory())
}
