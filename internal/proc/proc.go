// Package proc owns supervision of long-lived collaborator processes.
//
// Ownership boundary:
// - child process start/stop lifecycle
// - liveness and exit-status observation
//
// Coordination is signals and waits only; no pipes, no shared state.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

var (
	ErrStopTimeout = errors.New("proc: process ignored termination signal")
	ErrUnclean     = errors.New("proc: process exited uncleanly")
	ErrNotRunning  = errors.New("proc: process is not running")
)

// Handle supervises one child process. The child inherits stdout and
// stderr so collaborators can report visually.
type Handle struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	werr error
}

// Start launches the command and begins reaping it in the background.
// name labels the process in errors.
func Start(name, command string, args ...string) (*Handle, error) {
	cmd := exec.Command(command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proc: start %s (%s): %w", name, command, err)
	}

	h := &Handle{name: name, cmd: cmd, done: make(chan struct{})}
	go func() {
		h.werr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Alive reports whether the child is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitStatus returns the child's exit code; ok is false while it still
// runs.
func (h *Handle) ExitStatus() (int, bool) {
	select {
	case <-h.done:
		return h.cmd.ProcessState.ExitCode(), true
	default:
		return 0, false
	}
}

// Stop terminates the child and waits at most timeout for it to exit.
// A clean stop is exit status zero or death by the termination signal
// itself; anything else is an error, and a child that outlives the
// wait is killed and reported as ErrStopTimeout.
func (h *Handle) Stop(timeout time.Duration) error {
	select {
	case <-h.done:
		return h.exitError()
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Lost the race with exit; fall through to the bounded wait.
		if !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("proc: signal %s: %w", h.name, err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.exitError()
	case <-timer.C:
		_ = h.cmd.Process.Kill()
		<-h.done
		return fmt.Errorf("%w: %s after %s", ErrStopTimeout, h.name, timeout)
	}
}

// exitError maps the reaped status to the clean/unclean contract.
func (h *Handle) exitError() error {
	if h.werr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.werr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGTERM {
			return nil
		}
		return fmt.Errorf("%w: %s: exit %d", ErrUnclean, h.name, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %s: %v", ErrUnclean, h.name, h.werr)
}
