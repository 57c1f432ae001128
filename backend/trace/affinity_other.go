//go:build !linux

package trace

// threadID returns -1 where the thread cannot be identified, which turns
// the context affinity check off.
func threadID() int { return -1 }
