package faultline_test

import (
	"time"

	"github.com/sharnoff/faultline"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

const jiffy = time.Millisecond

var testEnv = faultline.StaticEnvironment{
	Name:    "faultline-test",
	Details: "SYSTEM DETAILS:\n\n    Host         : test\n\n",
	Started: time.Date(2024, 3, 1, 14, 2, 59, 0, time.UTC),
	DumpDir: ".",
}
