package executor

import (
	"os/exec"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// startPinned starts cmd with its CPU affinity restricted to cpus. The
// forking thread is pinned for the duration of Start so the child inherits
// the mask from its first instruction, before the JVM creates any thread.
// When the mask cannot be applied the program starts unpinned; only a failed
// Start is an error.
func startPinned(cmd *exec.Cmd, cpus []int, logger *logrus.Logger) error {
	if len(cpus) == 0 {
		return cmd.Start()
	}

	runtime.LockOSThread()

	var original unix.CPUSet
	if err := unix.SchedGetaffinity(0, &original); err != nil {
		runtime.UnlockOSThread()
		logger.WithError(err).Warn("Failed to read cpu affinity, starting unpinned")
		return cmd.Start()
	}

	var pinned unix.CPUSet
	for _, cpu := range cpus {
		pinned.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &pinned); err != nil {
		runtime.UnlockOSThread()
		logger.WithField("cpus", cpus).WithError(err).Warn("Failed to set cpu affinity, starting unpinned")
		return cmd.Start()
	}

	startErr := cmd.Start()

	// A thread whose mask could not be restored stays locked and is
	// discarded by the runtime when this goroutine exits.
	if err := unix.SchedSetaffinity(0, &original); err == nil {
		runtime.UnlockOSThread()
	}
	return startErr
}
