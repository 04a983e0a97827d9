//go:build !darwin && !linux && !windows

package sass

import "runtime"

// No standalone release exists; installs fail with a download error and
// sass must be on PATH.
var platformName = runtime.GOOS

const (
	archiveExt     = "tar.gz"
	executableName = "sass"
)
