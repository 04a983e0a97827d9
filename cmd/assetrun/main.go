package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/assetrun/assetrun/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if os.Getenv("NO_COLOR") != "" {
		errors.DisableColors()
	}

	rootCmd := &cobra.Command{
		Use:   "assetrun",
		Short: "Asset build orchestrator for Go web projects",
		Long: `assetrun builds the front-end assets of a Go web project.

It runs named tasks in dependency order:

  • Sass compilation with dart-sass
  • JavaScript bundling and minification with esbuild
  • go generate and GOOS=js GOARCH=wasm builds
  • File watching with live reload
  • Publishing to S3-compatible storage

Tasks are configured in assetrun.json at the project root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		listCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
