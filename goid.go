package faultline

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the id of the calling goroutine, or zero if it can't be determined.
//
// The runtime doesn't expose goroutine ids, but the first line of a single-goroutine stack dump
// is always "goroutine N [status]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	line := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if len(line) == n {
		return 0
	}
	if idx := bytes.IndexByte(line, ' '); idx >= 0 {
		line = line[:idx]
	}

	id, err := strconv.ParseUint(string(line), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
