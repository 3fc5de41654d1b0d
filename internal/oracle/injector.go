package oracle

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/proc"
)

var ErrInjectorDied = errors.New("oracle: path-failure injector exited unexpectedly")

// Injector supervises the external path-failure injector. On stop the
// injector restores all paths before exiting; a non-clean exit leaves
// the topology in doubt and is fatal.
type Injector struct {
	command  string
	device   string
	stopWait time.Duration
	log      zerolog.Logger

	handle *proc.Handle
}

// NewInjector wires the injector command for one multipath device.
func NewInjector(command, device string, stopWait time.Duration, log zerolog.Logger) *Injector {
	if stopWait <= 0 {
		stopWait = 30 * time.Second
	}
	return &Injector{command: command, device: device, stopWait: stopWait, log: log}
}

// Start launches the injector.
func (i *Injector) Start() error {
	if i.handle != nil && i.handle.Alive() {
		return fmt.Errorf("oracle: injector already running")
	}
	h, err := proc.Start("path-injector", i.command, i.device)
	if err != nil {
		return err
	}
	i.handle = h
	i.log.Info().Str("device", i.device).Msg("path-failure injector started")
	return nil
}

// CheckAlive asserts the injector has not fallen over mid-run.
func (i *Injector) CheckAlive() error {
	if i.handle == nil {
		return nil
	}
	if i.handle.Alive() {
		return nil
	}
	code, _ := i.handle.ExitStatus()
	return fmt.Errorf("%w: exit status %d", ErrInjectorDied, code)
}

// Stop terminates the injector and waits for path restoration.
func (i *Injector) Stop() error {
	if i.handle == nil {
		return nil
	}
	h := i.handle
	i.handle = nil
	if err := h.Stop(i.stopWait); err != nil {
		return err
	}
	i.log.Info().Msg("path-failure injector stopped, paths restored")
	return nil
}
