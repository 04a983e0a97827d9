package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/errors"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default assetrun.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := writeDefaultConfig(dir, force)
			if err != nil {
				return err
			}
			success("Created %s", path)
			info("Run 'assetrun list' to see the available tasks")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration")

	return cmd
}

func writeDefaultConfig(dir string, force bool) (string, error) {
	path := filepath.Join(dir, config.ConfigFileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", errors.New(errors.CodeConfigInvalid).
				WithDetailf("%s already exists", path).
				WithSuggestion("Use --force to overwrite it")
		}
	}
	if err := config.New().SaveTo(path); err != nil {
		return "", err
	}
	return path, nil
}
