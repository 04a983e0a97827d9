//go:build linux

package sass

const (
	platformName   = "linux"
	archiveExt     = "tar.gz"
	executableName = "sass"
)
