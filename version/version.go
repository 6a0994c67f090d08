// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildTime = "unknown"
)

// String renders the multi-line output of `bootwatch version`.
func String() string {
	return fmt.Sprintf("Version:    %s\nRevision:   %s\nBuilt:      %s\nGo version: %s\nOS/Arch:    %s/%s\n",
		Version, Revision, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
