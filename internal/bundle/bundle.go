// Package bundle concatenates vendor and local JavaScript into one minified
// file.
package bundle

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/fsutil"
)

// Separator joins the bundled files.
const Separator = "\n"

// Minifier compresses a JavaScript bundle.
type Minifier interface {
	Minify(ctx context.Context, src []byte) ([]byte, error)
}

// Passthrough is a Minifier that returns its input unchanged.
type Passthrough struct{}

// Minify implements Minifier.
func (Passthrough) Minify(_ context.Context, src []byte) ([]byte, error) {
	return src, nil
}

// Bundler builds a single JavaScript file from a fixed vendor list and a
// local glob.
type Bundler struct {
	root     string
	minifier Minifier
	logger   *slog.Logger
}

// NewBundler creates a Bundler resolving relative paths against root.
func NewBundler(root string, minifier Minifier, logger *slog.Logger) *Bundler {
	if minifier == nil {
		minifier = Passthrough{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundler{root: root, minifier: minifier, logger: logger}
}

// Bundle writes vendor files in declared order followed by the files matching
// localGlob in lexicographic order to outputPath, joined with Separator and
// minified. A local file that is already a vendor entry, or is the output
// itself, is included once at most.
//
// Every vendor file is checked before anything is read: a missing one fails
// the bundle with a MissingFile error and nothing is written.
func (b *Bundler) Bundle(ctx context.Context, vendor []string, localGlob, outputPath string) compile.Result {
	start := time.Now()
	out := fsutil.Resolve(b.root, outputPath)

	files := make([]string, 0, len(vendor))
	seen := map[string]bool{out: true}
	var missing []string
	for _, v := range vendor {
		path := fsutil.Resolve(b.root, v)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			missing = append(missing, v)
			continue
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	if len(missing) > 0 {
		return done(compile.Failed(errors.New(errors.CodeMissingFile).
			WithDetailf("vendor file not found: %s", strings.Join(missing, ", "))), start)
	}

	if localGlob != "" {
		locals, err := fsutil.Glob(b.root, localGlob)
		if err != nil {
			return done(compile.Failed(errors.New(errors.CodeMissingFile).
				WithDetailf("cannot expand %q", localGlob).
				Wrap(err)), start)
		}
		for _, path := range locals {
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}

	parts := make([]string, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return done(compile.Failed(err), start)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return done(compile.Failed(errors.New(errors.CodeMissingFile).
				WithDetailf("cannot read %s", path).
				Wrap(err)), start)
		}
		parts = append(parts, string(data))
	}

	minified, err := b.minifier.Minify(ctx, []byte(strings.Join(parts, Separator)))
	if err != nil {
		return done(compile.Failed(errors.New(errors.CodeMinify).
			WithDetailf("bundle %s", outputPath).
			Wrap(err)), start)
	}

	changed, err := fsutil.WriteFileAtomic(out, minified, 0o644)
	if err != nil {
		return done(compile.Failed(errors.New(errors.CodeMinify).
			WithDetailf("cannot write %s", out).
			Wrap(err)), start)
	}

	b.logger.Debug("bundled javascript", "output", outputPath, "files", len(files), "bytes", len(minified), "changed", changed)
	return done(compile.Succeeded("", out), start)
}

func done(r compile.Result, start time.Time) compile.Result {
	r.Duration = time.Since(start)
	return r
}
