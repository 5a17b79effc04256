package main

import (
	"fmt"
	"os"

	"github.com/aretw0/callpath/internal/cli"
	"github.com/aretw0/callpath/internal/compiler"
	"github.com/aretw0/callpath/internal/presentation/graph"
	loamAdapter "github.com/aretw0/callpath/pkg/adapters/loam"
	"github.com/aretw0/callpath/pkg/adapters/process"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/spf13/cobra"
)

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "Inspect pipeline definitions",
}

var pipelinesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the loaded pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		names := app.Engine.Pipelines()
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No pipelines found in %s.\n", app.Config.Definitions)
			return nil
		}
		for _, name := range names {
			def, err := app.Engine.Definition(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", def.Name, def.Description)
		}
		return nil
	},
}

var pipelinesGraphCmd = &cobra.Command{
	Use:   "graph <name>",
	Short: "Render a pipeline as a Mermaid flowchart",
	Long:  `Prints the step tree as Mermaid. With --item, tasks the item visited and its current position are highlighted.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, cli.Options{})
		if err != nil {
			return err
		}
		defer app.Close()

		def, err := app.Engine.Definition(args[0])
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if graphItem > 0 {
			item, err := app.Engine.Item(cmd.Context(), graphItem)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFor(item)
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, overlay))
		return nil
	},
}

var graphItem int64

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check pipeline files for errors",
	Long:  `Parses every pipeline file and reports unknown tasks, bad arguments and malformed control flow.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dir := cfg.Definitions
		if len(args) > 0 {
			dir = args[0]
		}
		if _, err := os.Stat(dir); err != nil {
			return err
		}

		commands, err := process.LoadCommands(cfg.Commands)
		if err != nil {
			return err
		}
		lib := registry.NewLibrary()
		process.NewRunner(process.WithRegistry(commands)).Install(lib)

		parser := compiler.NewParser(lib)
		var defs []domain.Definition
		if cfg.DefinitionsSource == "loam" {
			var loader *loamAdapter.Loader
			if loader, err = loamAdapter.Open(dir, parser); err == nil {
				defs, err = loader.Definitions(cmd.Context())
			}
		} else {
			defs, err = parser.LoadDir(dir)
		}
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d pipelines are valid.\n", len(defs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pipelinesCmd, validateCmd)
	pipelinesCmd.AddCommand(pipelinesLsCmd, pipelinesGraphCmd)
	pipelinesGraphCmd.Flags().Int64Var(&graphItem, "item", 0, "Highlight the path of this item")
}
