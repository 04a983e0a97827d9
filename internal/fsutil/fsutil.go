// Package fsutil holds the file helpers shared by the asset pipelines:
// `**` glob expansion, glob bases and atomic writes.
package fsutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-zglob"
)

// Resolve makes path absolute relative to root. Absolute paths are returned
// cleaned.
func Resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// Glob expands pattern (with `**` support) relative to root and returns the
// matching regular files as absolute paths in lexicographic order. A pattern
// matching nothing, or rooted in a directory that does not exist, yields an
// empty list.
func Glob(root, pattern string) ([]string, error) {
	matches, err := zglob.Glob(Resolve(root, pattern))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		m = filepath.FromSlash(m)
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// Match reports whether path matches pattern with `**` semantics. Both are
// expected in the same form (both absolute or both relative).
func Match(pattern, path string) bool {
	ok, err := zglob.Match(filepath.ToSlash(pattern), filepath.ToSlash(path))
	return err == nil && ok
}

// HasMagic reports whether s contains glob metacharacters.
func HasMagic(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// GlobBase returns the non-magic directory prefix of pattern, the directory
// outputs are made relative to. "assets/sass/**/*.scss" has the base
// "assets/sass"; a pattern without magic has its parent directory as base.
func GlobBase(pattern string) string {
	slashed := filepath.ToSlash(pattern)
	if !HasMagic(slashed) {
		return filepath.Dir(pattern)
	}

	segments := strings.Split(slashed, "/")
	var base []string
	for _, seg := range segments {
		if HasMagic(seg) {
			break
		}
		base = append(base, seg)
	}
	if len(base) == 0 {
		return "."
	}
	joined := strings.Join(base, "/")
	if joined == "" {
		return string(filepath.Separator)
	}
	return filepath.FromSlash(joined)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory and a rename, so readers never observe a partial file. The write
// is skipped when path already holds identical bytes; changed reports
// whether the file was written.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (changed bool, err error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return false, err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
