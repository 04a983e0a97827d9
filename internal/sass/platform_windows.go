//go:build windows

package sass

const (
	platformName   = "windows"
	archiveExt     = "zip"
	executableName = "sass.bat"
)
