package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/internal/cli"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Start a new run of a pipeline",
	Long: `Starts a new run of the named pipeline.
Items come from --data (a JSON object or array of objects, or - for stdin)
and from --item (IDs of stored items). The command returns once every item
completed or suspended.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := runInput(cmd)
		if err != nil {
			return err
		}
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		runID, err := app.Engine.Start(cmd.Context(), args[0], in, runOptions(cmd)...)
		return report(cmd, app, runID, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <item-id>",
	Short: "Resume a suspended or failed item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		pointName, _ := cmd.Flags().GetString("point")
		point, err := domain.ParseRestartPoint(pointName)
		if err != nil {
			return err
		}
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		runID, err := app.Engine.Resume(cmd.Context(), id, point, runOptions(cmd)...)
		return report(cmd, app, runID, err)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <run-id>",
	Short: "Reprocess every top-level item of a run from the first step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		runID, err := app.Engine.Restart(cmd.Context(), args[0], runOptions(cmd)...)
		return report(cmd, app, runID, err)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd, restartCmd)

	runCmd.Flags().StringP("data", "d", "", "JSON object or array of objects to create items from (- reads stdin)")
	runCmd.Flags().Int64Slice("item", nil, "ID of a stored item to process (repeatable)")
	resumeCmd.Flags().String("point", string(domain.ContinueNext), "Where to resume: restart_task, continue_next or restart_prev")

	for _, c := range []*cobra.Command{runCmd, resumeCmd, restartCmd} {
		c.Flags().Bool("stop-on-halt", false, "Return at the first suspended or failed item")
	}
}

func runOptions(cmd *cobra.Command) []callpath.RunOption {
	stop, _ := cmd.Flags().GetBool("stop-on-halt")
	return []callpath.RunOption{callpath.StopOnHalt(stop)}
}

func runInput(cmd *cobra.Command) (callpath.Input, error) {
	var in callpath.Input
	in.ItemIDs, _ = cmd.Flags().GetInt64Slice("item")

	raw, _ := cmd.Flags().GetString("data")
	if raw == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return in, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return in, nil
	}
	data, err := parseData([]byte(raw))
	if err != nil {
		return in, err
	}
	in.Data = data
	return in, nil
}

// parseData accepts a single JSON object or an array of objects.
func parseData(raw []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one map[string]any
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object or array of objects: %w", err)
	}
	return []map[string]any{one}, nil
}

// report prints the run and its items. Step failures and interrupts are shown
// and turned into a non-zero exit; other errors are returned as is.
func report(cmd *cobra.Command, app *cli.App, runID string, runErr error) error {
	if runID == "" {
		return runErr
	}
	ctx := cmd.Context()
	run, err := app.Engine.Run(ctx, runID)
	if err != nil {
		return errors.Join(runErr, err)
	}
	items, err := app.Engine.Items(ctx, ports.ItemFilter{RunID: runID})
	if err != nil {
		return errors.Join(runErr, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s  pipeline=%s  status=%s\n", run.ID, run.PipelineName, run.Status)
	for _, item := range items {
		printItemLine(out, item)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		return fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
	}
	return nil
}

func printItemLine(w io.Writer, item *domain.Item) {
	line := fmt.Sprintf("  item %d  %-9s  [%s]", item.ID, item.Status, item.Position)
	if action := item.Action(); action != "" {
		line += fmt.Sprintf("  action=%s", action)
	}
	if msg := item.ActionMessage(); msg != "" {
		line += fmt.Sprintf("  message=%q", msg)
	}
	if msg := item.ErrorMessage(); msg != "" && item.Status == domain.ItemError {
		line += fmt.Sprintf("  error=%q", firstLine(msg))
	}
	fmt.Fprintln(w, line)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
