//go:build linux

package tstate

import "golang.org/x/sys/unix"

func nativeThreadID() int {
	return unix.Gettid()
}
