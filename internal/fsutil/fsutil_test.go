package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGlobBase(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"assets/sass/**/*.scss", "assets/sass"},
		{"./assets/sass/**/*.scss", "assets/sass"},
		{"sass/*.scss", "sass"},
		{"**/*.js", "."},
		{"frontend/{a,b}/*.go", "frontend"},
		{"static/js/app.js", "static/js"},
		{"/abs/dir/**/*.scss", "/abs/dir"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), filepath.Clean(GlobBase(tt.pattern)))
		})
	}
}

func TestGlob_RecursiveSorted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sass", "b.scss"), "")
	writeFile(t, filepath.Join(root, "sass", "a.scss"), "")
	writeFile(t, filepath.Join(root, "sass", "deep", "c.scss"), "")
	writeFile(t, filepath.Join(root, "sass", "notes.txt"), "")

	files, err := Glob(root, "sass/**/*.scss")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "sass", "a.scss"),
		filepath.Join(root, "sass", "b.scss"),
		filepath.Join(root, "sass", "deep", "c.scss"),
	}, files)
}

func TestGlob_MissingDirectory(t *testing.T) {
	files, err := Glob(t.TempDir(), "nope/**/*.scss")

	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("frontend/**/*.go", "frontend/components/card.go"))
	assert.True(t, Match("frontend/**/*.go", "frontend/main.go"))
	assert.False(t, Match("frontend/**/*.go", "assets/main.go"))
	assert.False(t, Match("frontend/**/*.go", "frontend/main.scss"))
}

func TestWriteFileAtomic_SkipsIdenticalBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "app.css")

	changed, err := WriteFileAtomic(path, []byte("body{}"), 0o644)
	require.NoError(t, err)
	assert.True(t, changed)

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	changed, err = WriteFileAtomic(path, []byte("body{}"), 0o644)
	require.NoError(t, err)
	assert.False(t, changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past), "file must not be rewritten")

	changed, err = WriteFileAtomic(path, []byte("body{color:red}"), 0o644)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashBytes([]byte("abc")))
}
