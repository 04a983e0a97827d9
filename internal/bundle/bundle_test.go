package bundle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestBundler(root string, m Minifier) *Bundler {
	return NewBundler(root, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type failingMinifier struct{}

func (failingMinifier) Minify(context.Context, []byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected token")
}

func TestBundle_Order(t *testing.T) {
	root := t.TempDir()
	write(t, root, "vendor/a.js", "A")
	write(t, root, "vendor/b.js", "B")
	write(t, root, "js/c.js", "C")

	res := newTestBundler(root, Passthrough{}).
		Bundle(context.Background(), []string{"vendor/a.js", "vendor/b.js"}, "js/**/*.js", "static/js/app.js")

	require.True(t, res.OK(), "%v", res.Err)
	out := filepath.Join(root, "static", "js", "app.js")
	assert.Equal(t, []string{out}, res.Files)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC", string(data))
}

func TestBundle_VendorOrderIsDeclaredOrder(t *testing.T) {
	root := t.TempDir()
	write(t, root, "vendor/z.js", "Z")
	write(t, root, "vendor/a.js", "A")

	res := newTestBundler(root, nil).
		Bundle(context.Background(), []string{"vendor/z.js", "vendor/a.js"}, "", "out.js")

	require.True(t, res.OK())
	data, err := os.ReadFile(filepath.Join(root, "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "Z\nA", string(data))
}

func TestBundle_LocalFilesSorted(t *testing.T) {
	root := t.TempDir()
	write(t, root, "js/b.js", "B")
	write(t, root, "js/a.js", "A")
	write(t, root, "js/sub/c.js", "C")

	res := newTestBundler(root, nil).Bundle(context.Background(), nil, "js/**/*.js", "out.js")

	require.True(t, res.OK())
	data, err := os.ReadFile(filepath.Join(root, "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC", string(data))
}

func TestBundle_NoDuplicatesNoSelfInclusion(t *testing.T) {
	root := t.TempDir()
	write(t, root, "js/vendor.js", "V")
	write(t, root, "js/app.js", "APP")
	write(t, root, "js/bundle.js", "OLD BUNDLE")

	res := newTestBundler(root, nil).
		Bundle(context.Background(), []string{"js/vendor.js"}, "js/*.js", "js/bundle.js")

	require.True(t, res.OK())
	data, err := os.ReadFile(filepath.Join(root, "js", "bundle.js"))
	require.NoError(t, err)
	assert.Equal(t, "V\nAPP", string(data))
}

func TestBundle_MissingVendorWritesNothing(t *testing.T) {
	root := t.TempDir()
	write(t, root, "vendor/b.js", "B")
	write(t, root, "js/c.js", "C")

	res := newTestBundler(root, nil).
		Bundle(context.Background(), []string{"vendor/a.js", "vendor/b.js"}, "js/*.js", "out/app.js")

	assert.Equal(t, compile.Failure, res.Status)
	assert.True(t, errors.Is(res.Err, errors.ErrMissingFile))
	assert.Contains(t, res.Err.Error(), "vendor/a.js")
	assert.NoFileExists(t, filepath.Join(root, "out", "app.js"))
	assert.NoDirExists(t, filepath.Join(root, "out"))
}

func TestBundle_MinifierError(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.js", "A")

	res := newTestBundler(root, failingMinifier{}).Bundle(context.Background(), []string{"a.js"}, "", "out.js")

	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, errors.ErrMinify))
	assert.Contains(t, res.Err.Error(), "unexpected token")
	assert.NoFileExists(t, filepath.Join(root, "out.js"))
}

func TestEsbuildMinifier(t *testing.T) {
	src := []byte("function add(first, second) {\n  return first + second;\n}\nwindow.add = add;\n")

	out, err := EsbuildMinifier{}.Minify(context.Background(), src)

	require.NoError(t, err)
	assert.Less(t, len(out), len(src))
	assert.NotContains(t, string(out), "second")
	assert.Contains(t, string(out), "window.add")
}

func TestEsbuildMinifier_SyntaxError(t *testing.T) {
	_, err := EsbuildMinifier{}.Minify(context.Background(), []byte("function ("))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle.js:1:")
}

func TestBundle_WithEsbuild(t *testing.T) {
	root := t.TempDir()
	write(t, root, "vendor/lib.js", "var library = { version: 1 };")
	write(t, root, "js/main.js", "console.log(library.version);")

	res := newTestBundler(root, EsbuildMinifier{}).
		Bundle(context.Background(), []string{"vendor/lib.js"}, "js/*.js", "app.min.js")

	require.True(t, res.OK(), "%v", res.Err)
	data, err := os.ReadFile(filepath.Join(root, "app.min.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "console.log")
	assert.NotContains(t, string(data), "\n\n")
}
