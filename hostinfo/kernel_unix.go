//go:build unix

package hostinfo

import (
	"golang.org/x/sys/unix"
)

func kernel() (kind, version string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", ""
	}
	return unix.ByteSliceToString(u.Sysname[:]), unix.ByteSliceToString(u.Release[:])
}
