package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/callpath/internal/cli"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage runs",
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		filter := ports.RunFilter{}
		filter.Pipeline, _ = cmd.Flags().GetString("pipeline")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		for _, s := range statuses {
			filter.Status = append(filter.Status, domain.RunStatus(strings.ToUpper(s)))
		}

		runs, err := app.Engine.Runs(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s  %-9s  %s\n",
				r.ID, r.PipelineName, r.Status, r.Modified.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var runsInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Inspect a run and its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		run, err := app.Engine.Run(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading run '%s': %w", args[0], err)
		}
		items, err := app.Redacted().ListItems(cmd.Context(), ports.ItemFilter{RunID: run.ID})
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(struct {
			*domain.Run
			Items []*domain.Item `json:"items"`
		}{run, items}, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling run: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var runsRmCmd = &cobra.Command{
	Use:   "rm <run-id>...",
	Short: "Remove one or more runs with their items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		failed := 0
		for _, id := range args {
			if err := app.Engine.DeleteRun(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed run '%s'\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d runs not removed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsLsCmd, runsInspectCmd, runsRmCmd)

	runsLsCmd.Flags().String("pipeline", "", "Only runs of this pipeline")
	runsLsCmd.Flags().StringSlice("status", nil, "Only runs with these statuses")
}
