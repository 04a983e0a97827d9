//go:build darwin

package sass

const (
	platformName   = "macos"
	archiveExt     = "tar.gz"
	executableName = "sass"
)
