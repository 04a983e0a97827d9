package sass

import (
	"fmt"
	"runtime"
)

func archName() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return runtime.GOARCH
	}
}

// archiveName is the standalone release asset for the running platform,
// e.g. dart-sass-1.77.8-linux-x64.tar.gz.
func archiveName(version string) string {
	return fmt.Sprintf("dart-sass-%s-%s-%s.%s", version, platformName, archName(), archiveExt)
}
