package sass

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/assetrun/assetrun/internal/errors"
)

const (
	// Version is the dart-sass release installed when none is found.
	Version = "1.77.8"

	// ReleaseURL is the base URL of the dart-sass standalone releases.
	ReleaseURL = "https://github.com/sass/dart-sass/releases/download"

	// DefaultBinDir is where releases are unpacked, relative to the home
	// directory.
	DefaultBinDir = ".assetrun/bin"
)

// Binary locates the dart-sass executable and installs the standalone
// release when it is missing. It implements Locator.
type Binary struct {
	// Version is the dart-sass release to install.
	Version string

	// BinDir holds one directory per installed version.
	BinDir string

	// DownloadBaseURL overrides ReleaseURL.
	DownloadBaseURL string

	// HTTPClient is used for downloads. If nil, a default client is used.
	HTTPClient *http.Client

	// Configured is an explicit executable name or path. When set, it is
	// the only candidate.
	Configured string

	// AutoInstall downloads the release when no executable is found.
	AutoInstall bool

	Logger *slog.Logger

	path string
	err  error
	mu   sync.Mutex
}

// NewBinary creates a Binary with default settings. configured may be empty.
func NewBinary(configured string) *Binary {
	return &Binary{
		Version:         Version,
		BinDir:          defaultBinDir(),
		DownloadBaseURL: ReleaseURL,
		Configured:      configured,
		AutoInstall:     true,
		Logger:          slog.Default(),
	}
}

func defaultBinDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultBinDir)
	}
	return filepath.Join(home, DefaultBinDir)
}

// Locate resolves the executable: the configured one, then `sass` on PATH,
// then an installed release, then a fresh install. The result is cached, and
// so is a failure, so one batch never retries a download per file.
func (b *Binary) Locate(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path != "" {
		return b.path, nil
	}
	if b.err != nil {
		return "", b.err
	}

	path, err := b.locate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.err = err
		}
		return "", err
	}
	b.path = path
	return path, nil
}

func (b *Binary) locate(ctx context.Context) (string, error) {
	if b.Configured != "" {
		path, err := exec.LookPath(b.Configured)
		if err != nil {
			return "", errors.New(errors.CodeSassBinary).
				WithDetailf("configured sass executable %q not found", b.Configured).
				Wrap(err)
		}
		return path, nil
	}

	if path, err := exec.LookPath(executableName); err == nil {
		return path, nil
	}

	path := b.binaryPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if !b.AutoInstall {
		return "", errors.New(errors.CodeSassBinary).
			WithDetailf("no %s on PATH and none installed at %s", executableName, path)
	}

	if err := b.install(ctx); err != nil {
		return "", err
	}
	return path, nil
}

// IsInstalled reports whether the configured version is unpacked.
func (b *Binary) IsInstalled() bool {
	_, err := os.Stat(b.binaryPath())
	return err == nil
}

// binaryPath is per version so upgrades never reuse an older release.
func (b *Binary) binaryPath() string {
	return filepath.Join(b.BinDir, b.Version, "dart-sass", executableName)
}

func (b *Binary) downloadURL() string {
	base := b.DownloadBaseURL
	if base == "" {
		base = ReleaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), b.Version, archiveName(b.Version))
}

func (b *Binary) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Binary) install(ctx context.Context) error {
	url := b.downloadURL()
	b.logger().Info("downloading dart-sass", "version", b.Version, "url", url)

	if err := os.MkdirAll(b.BinDir, 0o755); err != nil {
		return installError("create bin directory", err)
	}

	archive, err := b.download(ctx, url)
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	// Unpack next to the final location, then rename into place.
	staging, err := os.MkdirTemp(b.BinDir, "."+b.Version+".tmp-*")
	if err != nil {
		return installError("create staging directory", err)
	}
	defer os.RemoveAll(staging)

	if strings.HasSuffix(archive, ".zip") {
		err = extractZip(archive, staging)
	} else {
		err = extractTarGz(archive, staging)
	}
	if err != nil {
		return installError("unpack "+archiveName(b.Version), err)
	}

	if _, err := os.Stat(filepath.Join(staging, "dart-sass", executableName)); err != nil {
		return installError("archive has no dart-sass/"+executableName, err)
	}

	final := filepath.Join(b.BinDir, b.Version)
	if err := os.Rename(staging, final); err != nil {
		if b.IsInstalled() {
			return nil
		}
		return installError("install release", err)
	}

	b.logger().Info("installed dart-sass", "path", b.binaryPath())
	return nil
}

// download fetches url into a temp file and returns its path.
func (b *Binary) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", installError("create request", err)
	}

	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", installError("download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.CodeSassBinary).
			WithDetailf("download failed with status %d (URL: %s)", resp.StatusCode, url)
	}

	f, err := os.CreateTemp(b.BinDir, ".download-*-"+archiveName(b.Version))
	if err != nil {
		return "", installError("create file", err)
	}
	written, err := io.Copy(f, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(f.Name())
		return "", installError("write archive", err)
	}

	b.logger().Debug("downloaded dart-sass", "bytes", written)
	return f.Name(), nil
}

func installError(step string, err error) error {
	return errors.New(errors.CodeSassBinary).WithDetailf("failed to %s", step).Wrap(err)
}

// safeJoin joins name below dest, rejecting entries that escape it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the install directory", name)
	}
	return target, nil
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
