//go:build !linux

package tstate

func nativeThreadID() int {
	return 0
}
