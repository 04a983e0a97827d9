package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/assetrun/assetrun/internal/build"
	"github.com/assetrun/assetrun/internal/task"
)

func listCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "tasks"},
		Short:   "List the available tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			b, err := build.New(build.Options{
				Config: cfg,
				Logger: newLogger(cfg.Log, false, io.Discard),
			})
			if err != nil {
				return err
			}
			return printTasks(os.Stdout, b.Registry().Tasks(), cfg.DefaultTask)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to assetrun.json")

	return cmd
}

// printTasks writes one line per task: name, dependencies and description.
// The default task is marked with an asterisk.
func printTasks(w io.Writer, tasks []task.Task, defaultTask string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tasks {
		name := t.Name
		if name == defaultTask {
			name += " *"
		}
		deps := "-"
		if len(t.Deps) > 0 {
			deps = strings.Join(t.Deps, ", ")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, deps, t.Description)
	}
	return tw.Flush()
}
