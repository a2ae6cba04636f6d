//go:build !unix

package faultline

import (
	"os"
)

func defaultCrashSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
