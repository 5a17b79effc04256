package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/callpath/internal/cli"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/spf13/cobra"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage stored items",
}

var itemsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List items",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		filter := ports.ItemFilter{}
		filter.RunID, _ = cmd.Flags().GetString("run")
		filter.DataType, _ = cmd.Flags().GetString("data-type")
		filter.TopLevel, _ = cmd.Flags().GetBool("top-level")
		filter.IncludeDeleted, _ = cmd.Flags().GetBool("deleted")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		for _, s := range statuses {
			filter.Status = append(filter.Status, domain.ItemStatus(strings.ToUpper(s)))
		}

		items, err := app.Engine.Items(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No items found.")
			return nil
		}
		for _, item := range items {
			printItemLine(cmd.OutOrStdout(), item)
		}
		return nil
	},
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <json>",
	Short: "Store a new item outside of any run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		item, err := app.Engine.CreateItem(cmd.Context(), payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), item.ID)
		return nil
	},
}

var itemsInspectCmd = &cobra.Command{
	Use:   "inspect <item-id>",
	Short: "Inspect the state of an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		redact, _ := cmd.Flags().GetStringSlice("redact")
		item, err := app.Redacted(redact...).LoadItem(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("error loading item %d: %w", id, err)
		}

		view := struct {
			*domain.Item
			Task *domain.TaskInfo `json:"task,omitempty"`
		}{Item: item}
		if item.RunID != "" && !item.Position.IsZero() && item.Status != domain.ItemCompleted {
			if task, err := app.Engine.CurrentTask(cmd.Context(), item); err == nil {
				view.Task = &task
			}
		}

		// Pretty print JSON
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling item: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var itemsRmCmd = &cobra.Command{
	Use:   "rm <item-id>...",
	Short: "Remove one or more items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hard, _ := cmd.Flags().GetBool("hard")
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		failed := 0
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err == nil {
				err = app.Engine.DeleteItem(cmd.Context(), id, hard)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", arg, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed item '%s'\n", arg)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d items not removed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.AddCommand(itemsLsCmd, itemsAddCmd, itemsInspectCmd, itemsRmCmd)

	itemsLsCmd.Flags().String("run", "", "Only items of this run")
	itemsLsCmd.Flags().String("data-type", "", "Only items of this data type")
	itemsLsCmd.Flags().StringSlice("status", nil, "Only items with these statuses")
	itemsLsCmd.Flags().Bool("top-level", false, "Only items without a parent")
	itemsLsCmd.Flags().Bool("deleted", false, "Include soft deleted items")

	itemsInspectCmd.Flags().StringSlice("redact", nil, "Extra regular expressions of payload keys to mask")

	itemsRmCmd.Flags().Bool("hard", false, "Remove the item and its descendants instead of marking it deleted")
}
