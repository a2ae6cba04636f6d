//go:build unix

package main

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func raiseSegfault() error {
	return errors.Wrap(unix.Kill(unix.Getpid(), unix.SIGSEGV), "could not send SIGSEGV")
}
