package executor

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gc-diffbench/internal/collectors"
	"gc-diffbench/internal/logging"

	"github.com/sirupsen/logrus"
)

// waitDelay bounds how long Wait keeps draining pipes held open by a
// grandchild that escaped the process group.
const waitDelay = 2 * time.Second

type SpawnRequest struct {
	Command []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Image and Mounts are only used by container spawners.
	Image  string
	Mounts []string
	// CPUs pins the program to these logical CPUs when non-empty.
	CPUs []int
}

type SpawnResult struct {
	Outcome  Outcome
	Counters *collectors.HardwareCounters
}

// Spawner starts one program and waits for it under a deadline. It never
// returns an error: every failure is folded into the Outcome.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) SpawnResult
}

// ProcessSpawner runs cells as local child processes in their own process
// group so a timeout kills the whole tree.
type ProcessSpawner struct {
	MaxOutputBytes   int
	HardwareCounters bool
	logger           *logrus.Logger
}

func NewProcessSpawner(maxOutputBytes int, hardwareCounters bool) *ProcessSpawner {
	return &ProcessSpawner{
		MaxOutputBytes:   maxOutputBytes,
		HardwareCounters: hardwareCounters,
		logger:           logging.GetLogger(),
	}
}

func (s *ProcessSpawner) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	if len(req.Command) == 0 {
		return SpawnResult{Outcome: SpawnFailed{Reason: "empty command"}}
	}
	if err := ctx.Err(); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: "interrupted: " + err.Error()}}
	}

	stdout := newCappedBuffer(s.MaxOutputBytes)
	stderr := newCappedBuffer(s.MaxOutputBytes)

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	if err := startPinned(cmd, req.CPUs, s.logger); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: err.Error()}}
	}
	pid := cmd.Process.Pid

	var perfCollector *collectors.PerfCollector
	if s.HardwareCounters {
		pc, err := collectors.NewPerfCollector(pid)
		if err != nil {
			s.logger.WithField("pid", pid).WithError(err).Debug("Hardware counters unavailable")
		} else {
			perfCollector = pc
			defer pc.Close()
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	result := SpawnResult{}
	select {
	case err := <-done:
		code, waitErr := exitCode(cmd, err)
		if waitErr != nil {
			result.Outcome = SpawnFailed{Reason: waitErr.Error()}
		} else {
			result.Outcome = Completed{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}
		}
	case <-deadline:
		killGroup(pid)
		<-done
		result.Outcome = TimedOut{PartialStdout: stdout.String(), PartialStderr: stderr.String()}
	case <-ctx.Done():
		killGroup(pid)
		<-done
		result.Outcome = SpawnFailed{Reason: "interrupted: " + ctx.Err().Error()}
	}

	if perfCollector != nil {
		if counters, err := perfCollector.Collect(); err == nil {
			result.Counters = counters
		}
	}
	return result
}

func killGroup(pid int) {
	// Negative pid addresses the process group created by Setpgid.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// exitCode maps the Wait result to an exit status; signals map to 128+n as
// a shell would report them.
func exitCode(cmd *exec.Cmd, err error) (int, error) {
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, err
		}
	}
	state := cmd.ProcessState
	if state == nil {
		return 0, err
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return state.ExitCode(), nil
}

// cappedBuffer keeps the first max bytes written and silently drops the
// rest so a chatty program cannot exhaust memory.
type cappedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - len(b.buf)
	if b.max <= 0 {
		room = len(p)
	}
	if room < len(p) {
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
