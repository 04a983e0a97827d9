// Package sass compiles Sass sources to CSS.
//
// The compiler itself is an external collaborator (dart-sass); this package
// enumerates sources, maps them to output paths, writes results atomically
// and aggregates per-file failures.
package sass

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/fsutil"
)

// Output styles accepted by dart-sass.
const (
	StyleExpanded   = "expanded"
	StyleCompressed = "compressed"
)

// Options are passed to the Compiler for every file.
type Options struct {
	// Style is StyleExpanded or StyleCompressed.
	Style string

	// LoadPaths are extra directories searched by @use and @import.
	LoadPaths []string
}

// Compiler turns one Sass file into CSS.
type Compiler interface {
	Compile(ctx context.Context, path string, opts Options) ([]byte, error)
}

// FileError is a compile error in a single source file.
type FileError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *FileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Root is the directory relative globs and destinations resolve against.
	Root string

	// Style is the CSS output style. Defaults to StyleExpanded.
	Style string

	// LoadPaths are passed to the compiler in addition to the glob base.
	LoadPaths []string

	// FailFast stops the batch at the first failing file.
	FailFast bool

	// Logger receives per-file errors. Defaults to slog.Default().
	Logger *slog.Logger

	// OnFile is called after each source file with its compile error, if any.
	OnFile func(path string, err error)
}

// Pipeline compiles every Sass source matching a glob.
type Pipeline struct {
	compiler Compiler
	opts     PipelineOptions
}

// NewPipeline creates a pipeline around compiler.
func NewPipeline(compiler Compiler, opts PipelineOptions) *Pipeline {
	if opts.Style == "" {
		opts.Style = StyleExpanded
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{compiler: compiler, opts: opts}
}

// Compile compiles every non-partial file matching sourceGlob into destDir,
// mirroring the source tree below the glob base. A failing file is logged and
// the rest of the batch still compiles, unless FailFast is set. Outputs whose
// bytes are unchanged are not rewritten.
//
// Files lists every output of the run, including ones already up to date.
func (p *Pipeline) Compile(ctx context.Context, sourceGlob, destDir string) compile.Result {
	start := time.Now()
	logger := p.opts.Logger

	pattern := fsutil.Resolve(p.opts.Root, sourceGlob)
	base := fsutil.GlobBase(pattern)
	dest := fsutil.Resolve(p.opts.Root, destDir)

	sources, err := fsutil.Glob(p.opts.Root, sourceGlob)
	if err != nil {
		return withDuration(compile.Failed(errors.New(errors.CodeSassCompile).
			WithDetailf("cannot expand %q", sourceGlob).
			Wrap(err)), start)
	}

	opts := Options{
		Style:     p.opts.Style,
		LoadPaths: append([]string{base}, p.opts.LoadPaths...),
	}

	var (
		merr    *multierror.Error
		outputs []string
		total   int
	)
	for _, src := range sources {
		if IsPartial(src) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return withDuration(compile.Result{Status: compile.Failure, Err: err, Files: outputs}, start)
		}
		total++

		out, err := p.compileFile(ctx, src, base, dest, opts)
		if p.opts.OnFile != nil {
			p.opts.OnFile(src, err)
		}
		if err != nil {
			logger.Error("sass compile failed", "file", relTo(p.opts.Root, src), "error", describe(err))
			merr = multierror.Append(merr, err)
			// Without a compiler every remaining file fails the same way.
			if p.opts.FailFast || errors.Is(err, errors.ErrSassBinary) {
				break
			}
			continue
		}
		outputs = append(outputs, out)
	}

	if merr != nil {
		batchErr := errors.New(errors.CodeSassCompile).
			WithDetailf("%d of %d files failed", len(merr.Errors), total)
		var fe *FileError
		if len(merr.Errors) == 1 && errors.As(merr.Errors[0], &fe) && fe.Line > 0 {
			batchErr.WithLocation(fe.Path, fe.Line, fe.Column)
		}
		return withDuration(compile.Result{
			Status: compile.Failure,
			Err:    batchErr.Wrap(merr.ErrorOrNil()),
			Files:  outputs,
		}, start)
	}

	logger.Debug("sass compiled", "files", len(outputs), "dest", relTo(p.opts.Root, dest))
	return withDuration(compile.Succeeded("", outputs...), start)
}

func (p *Pipeline) compileFile(ctx context.Context, src, base, dest string, opts Options) (string, error) {
	rel, err := filepath.Rel(base, src)
	if err != nil {
		return "", &FileError{Path: src, Message: err.Error()}
	}
	out := filepath.Join(dest, OutputName(rel))

	css, err := p.compiler.Compile(ctx, src, opts)
	if err != nil {
		return "", err
	}

	changed, err := fsutil.WriteFileAtomic(out, css, 0o644)
	if err != nil {
		return "", &FileError{Path: src, Message: fmt.Sprintf("write %s: %v", out, err)}
	}
	if changed {
		p.opts.Logger.Debug("wrote css", "file", relTo(p.opts.Root, out))
	}
	return out, nil
}

// describe renders a per-file failure as one line, with its source
// location when dart-sass reported one.
func describe(err error) string {
	var fe *FileError
	if !errors.As(err, &fe) {
		return err.Error()
	}
	e := errors.New(errors.CodeSassCompile).WithDetail(fe.Message)
	if fe.Line > 0 {
		e.Location = &errors.Location{File: fe.Path, Line: fe.Line, Column: fe.Column}
	} else {
		e.Location = &errors.Location{File: fe.Path}
	}
	return e.FormatCompact()
}

// IsPartial reports whether path is a Sass partial (basename starting with
// an underscore). Partials are only compiled through the files that use them.
func IsPartial(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}

// OutputName maps a source path to its CSS path: .scss and .sass become .css.
func OutputName(path string) string {
	switch ext := filepath.Ext(path); ext {
	case ".scss", ".sass":
		return strings.TrimSuffix(path, ext) + ".css"
	default:
		return path + ".css"
	}
}

func withDuration(r compile.Result, start time.Time) compile.Result {
	r.Duration = time.Since(start)
	return r
}

func relTo(root, path string) string {
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
