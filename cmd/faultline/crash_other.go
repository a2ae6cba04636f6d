//go:build !unix

package main

import "github.com/pkg/errors"

func raiseSegfault() error {
	return errors.New("sending SIGSEGV is not supported on this platform")
}
