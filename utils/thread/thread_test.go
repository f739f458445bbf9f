package thread

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSetCPUAffinityRejectsInvalidCore(t *testing.T) {
	for _, core := range []int{-1, runtime.NumCPU()} {
		if err := SetCPUAffinity(core); err == nil {
			t.Errorf("SetCPUAffinity(%d) succeeded", core)
		}
	}
}

func TestSetCPUAffinity(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var orig unix.CPUSet
	if err := unix.SchedGetaffinity(0, &orig); err != nil {
		t.Skipf("sched_getaffinity: %v", err)
	}
	defer unix.SchedSetaffinity(0, &orig)

	if err := SetCPUAffinity(0); err != nil {
		t.Skipf("sched_setaffinity not permitted here: %v", err)
	}

	var got unix.CPUSet
	if err := unix.SchedGetaffinity(0, &got); err != nil {
		t.Fatalf("sched_getaffinity: %v", err)
	}
	if got.Count() != 1 || !got.IsSet(0) {
		t.Errorf("affinity = %d cores, core 0 set: %v", got.Count(), got.IsSet(0))
	}
}
