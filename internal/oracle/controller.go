package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/proc"
)

var (
	// ErrOracleDied means the background writer observed an I/O outcome
	// that violated its declared expectation, or fell over.
	ErrOracleDied = errors.New("oracle: background writer exited unexpectedly")
	// ErrOracleStop means the writer did not shut down cleanly when
	// asked, which is itself an I/O-correctness violation.
	ErrOracleStop = errors.New("oracle: background writer failed to stop cleanly")
)

// Controller keeps exactly one oracle process running with the current
// expectation. The stop-before-mutate / restart-after-mutate protocol
// is the caller's loop; the controller enforces each step.
type Controller struct {
	command  string
	device   string
	stopWait time.Duration
	log      zerolog.Logger

	handle *proc.Handle
	expect pr.Expectation
}

// NewController wires the oracle command for one device. The command
// is invoked as: command <device> <pass|fail>.
func NewController(command, device string, stopWait time.Duration, log zerolog.Logger) *Controller {
	if stopWait <= 0 {
		stopWait = 10 * time.Second
	}
	return &Controller{command: command, device: device, stopWait: stopWait, log: log}
}

// Running reports whether an oracle process is currently supervised.
func (c *Controller) Running() bool {
	return c.handle != nil && c.handle.Alive()
}

// Expectation returns the expectation the running oracle was started
// with; meaningful only while Running.
func (c *Controller) Expectation() pr.Expectation {
	return c.expect
}

// died reports an oracle that exited on its own: a handle is still
// held but the process is gone. Only Stop clears the handle, so this
// cannot fire for a deliberate stop.
func (c *Controller) died() error {
	if c.handle == nil || c.handle.Alive() {
		return nil
	}
	code, _ := c.handle.ExitStatus()
	return fmt.Errorf("%w: expectation %s, exit status %d", ErrOracleDied, c.expect, code)
}

// Start launches the oracle with the given expectation. Starting over
// a live oracle is a protocol bug and is rejected; starting over a
// dead one would discard its exit status, so that surfaces the death
// instead.
func (c *Controller) Start(expect pr.Expectation) error {
	if c.Running() {
		return fmt.Errorf("oracle: already running with expectation %s", c.expect)
	}
	if err := c.died(); err != nil {
		return err
	}
	h, err := proc.Start("io-oracle", c.command, c.device, expect.String())
	if err != nil {
		return err
	}
	c.handle = h
	c.expect = expect
	c.log.Info().Stringer("expect", expect).Str("device", c.device).Msg("oracle started")
	return nil
}

// Stop terminates the oracle and waits for a clean exit. A non-clean
// exit means the writer saw something it should not have.
func (c *Controller) Stop() error {
	if c.handle == nil {
		return nil
	}
	h := c.handle
	c.handle = nil
	if err := h.Stop(c.stopWait); err != nil {
		return fmt.Errorf("%w: %v", ErrOracleStop, err)
	}
	c.log.Info().Stringer("expect", c.expect).Msg("oracle stopped")
	return nil
}

// PrepareFor stops the oracle iff the upcoming operation would change
// its expectation; otherwise it keeps running across the operation.
// An oracle found dead here is fatal, not a candidate for replacement.
func (c *Controller) PrepareFor(next pr.Expectation) error {
	if err := c.died(); err != nil {
		return err
	}
	if !c.Running() || next == c.expect {
		return nil
	}
	c.log.Debug().Stringer("from", c.expect).Stringer("to", next).Msg("expectation changing, stopping oracle")
	return c.Stop()
}

// Reconcile restarts the oracle after an operation if PrepareFor took
// it down (or it has never run). An oracle that exited on its own is
// never restarted; its exit status is the finding.
func (c *Controller) Reconcile(expect pr.Expectation) error {
	if err := c.died(); err != nil {
		return err
	}
	if c.Running() {
		return nil
	}
	return c.Start(expect)
}

// CheckAlive asserts the oracle is still running; an unexpected exit
// surfaces the exit status.
func (c *Controller) CheckAlive() error {
	if c.handle == nil {
		return fmt.Errorf("%w: never started", ErrOracleDied)
	}
	return c.died()
}
