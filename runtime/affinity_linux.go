//go:build linux

package runtime

import "golang.org/x/sys/unix"

// pinToCPU restricts the calling thread to the given CPU. The caller must
// hold the OS thread.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
