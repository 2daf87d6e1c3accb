//go:build linux

package pool

import (
	"golang.org/x/sys/unix"
)

// setAffinity binds the calling OS thread to a single CPU core. The caller must have locked its
// goroutine to the thread.
func setAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	return unix.SchedSetaffinity(0, &set)
}
