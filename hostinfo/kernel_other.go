//go:build !unix

package hostinfo

import (
	"runtime"
)

func kernel() (kind, version string) {
	return runtime.GOOS, ""
}
