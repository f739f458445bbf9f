package thread

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetCPUAffinity pins the calling OS thread to coreID.
// Callers must hold runtime.LockOSThread for the pin to stay with their goroutine.
func SetCPUAffinity(coreID int) error {
	if coreID < 0 || coreID >= runtime.NumCPU() {
		return errors.Errorf("invalid core %d", coreID)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)
	return errors.Wrap(unix.SchedSetaffinity(0, &set), "sched_setaffinity")
}
