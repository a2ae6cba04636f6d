//go:build !linux

package faultline

func resolveNative(pc uintptr) (function, file string, line int, ok bool) {
	return "", "", 0, false
}
