//go:build unix

package faultline

import (
	"os"
	"syscall"
)

func defaultCrashSignals() []os.Signal {
	return []os.Signal{syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGABRT, syscall.SIGTERM}
}
