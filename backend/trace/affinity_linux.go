//go:build linux

package trace

import "golang.org/x/sys/unix"

// threadID returns the OS thread the caller runs on.
func threadID() int { return unix.Gettid() }
