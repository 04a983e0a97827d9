package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/task"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "info", Format: "json"}, false, &buf)
	logger.Debug("hidden")
	logger.Info("shown", "task", "sass")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out)
	}
	if rec["task"] != "sass" {
		t.Errorf("task attr = %v, want sass", rec["task"])
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "error"}, true, &buf).Debug("verbose")
	if !strings.Contains(buf.String(), "verbose") {
		t.Error("--verbose should enable debug records")
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	tasks := []task.Task{
		{Name: "sass", Description: "Compile Sass sources to CSS"},
		{Name: "build", Deps: []string{"sass", "assets:js"}, Description: "Build every asset"},
	}

	if err := printTasks(&buf, tasks, "sass"); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "sass *") {
		t.Errorf("default task not marked: %q", lines[0])
	}
	if !strings.Contains(lines[1], "sass, assets:js") || !strings.Contains(lines[1], "Build every asset") {
		t.Errorf("unexpected build line: %q", lines[1])
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	path, err := writeDefaultConfig(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, config.ConfigFileName) {
		t.Errorf("path = %s", path)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.DefaultTask != config.DefaultTask {
		t.Errorf("DefaultTask = %q, want %q", cfg.DefaultTask, config.DefaultTask)
	}

	_, err = writeDefaultConfig(dir, false)
	if errors.Code(err) != errors.CodeConfigInvalid {
		t.Errorf("second write: got %v, want %s", err, errors.CodeConfigInvalid)
	}
	if _, err := writeDefaultConfig(dir, true); err != nil {
		t.Errorf("--force: %v", err)
	}
}

func TestRunTaskCustomCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)

	cfg := config.New()
	cfg.DefaultTask = "hello"
	cfg.Tasks = []config.TaskConfig{{Name: "hello", Command: "go env GOOS"}}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	if err := runTask(context.Background(), "", runOptions{configPath: path}, false); err != nil {
		t.Fatalf("runTask: %v", err)
	}

	err := runTask(context.Background(), "missing", runOptions{configPath: path}, false)
	if errors.Code(err) != errors.CodeUnknownTask {
		t.Errorf("unknown task: got %v, want %s", err, errors.CodeUnknownTask)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if errors.Code(err) != errors.CodeConfigNotFound {
		t.Errorf("got %v, want %s", err, errors.CodeConfigNotFound)
	}
}
