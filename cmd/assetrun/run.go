package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/assetrun/assetrun/internal/build"
	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/metrics"
	"github.com/assetrun/assetrun/internal/task"
)

type runOptions struct {
	configPath string
	parallel   bool
	keepGoing  bool
	failFast   bool
	verbose    bool
	noServe    bool
	jobs       int
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a task and its dependencies",
		Long: `Run a task after every task it depends on.

With no argument the configured default task is run. Watch tasks
(sass:watch, js:watch, go:watch, watch) run until interrupted.

Examples:
  assetrun run
  assetrun run build --parallel
  assetrun run watch --no-serve
  assetrun run ci --keep-going`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			parallelSet := cmd.Flags().Changed("parallel")
			return runTask(cmd.Context(), name, opts, parallelSet)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to assetrun.json (default: search upwards from the working directory)")
	cmd.Flags().BoolVarP(&opts.parallel, "parallel", "p", false, "Run independent tasks concurrently")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "Maximum concurrent tasks with --parallel (0 = unlimited)")
	cmd.Flags().BoolVarP(&opts.keepGoing, "keep-going", "k", false, "Keep running tasks that do not depend on a failed one")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop compiling Sass at the first failing file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.noServe, "no-serve", false, "Do not start the dev server from the watch task")

	return cmd
}

func runTask(ctx context.Context, name string, opts runOptions, parallelSet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, opts.verbose, os.Stderr)

	runOpts := task.RunOptions{
		Parallel:  cfg.Parallel,
		Jobs:      opts.jobs,
		KeepGoing: opts.keepGoing,
	}
	if parallelSet {
		runOpts.Parallel = opts.parallel
	}

	b, err := build.New(build.Options{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics.New(),
		FailFast:    opts.failFast,
		NoDevServer: opts.noServe,
		Run:         runOpts,
	})
	if err != nil {
		return err
	}

	if name == "" {
		name = cfg.DefaultTask
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watching := b.IsWatchTask(name)
	if watching {
		info("Watching for changes (press Ctrl+C to stop)")
	}

	start := time.Now()
	if err := b.Run(ctx, name, runOpts); err != nil {
		if watching && ctx.Err() != nil {
			return nil
		}
		return err
	}

	if watching {
		info("Stopped")
		return nil
	}
	success("%s finished in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}

// loadConfig loads path, or searches upwards from the working directory
// when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, found, err := config.LoadFromWorkingDir()
	if err != nil {
		return nil, err
	}
	if !found {
		warn("No %s found, using defaults", config.ConfigFileName)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
