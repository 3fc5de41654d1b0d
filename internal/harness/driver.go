package harness

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/oracle"
	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/verify"
)

// Phase is the driver loop state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseExecuting
	PhaseVerifying
	PhaseOracleChecking
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseExecuting:
		return "executing"
	case PhaseVerifying:
		return "verifying"
	case PhaseOracleChecking:
		return "oracle-checking"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// cleanupKey is the throwaway key used to force the unit clean; the
// clear that follows removes it together with everything else.
const cleanupKey pr.Key = 0x1

// Harness sequences select -> execute -> verify -> oracle-check until
// interrupted or a fatal condition fires. It owns the model
// exclusively; no other goroutine touches it.
type Harness struct {
	exec     *Executor
	verifier *verify.Verifier
	oracle   *oracle.Controller
	injector *oracle.Injector
	rng      *rand.Rand
	log      zerolog.Logger

	// MaxIterations bounds the run; zero means run until interrupted.
	MaxIterations int

	state pr.State
	phase Phase
}

// New assembles the driver. injector may be nil when fault injection
// is disabled.
func New(exec *Executor, verifier *verify.Verifier, ctl *oracle.Controller, injector *oracle.Injector, rng *rand.Rand, log zerolog.Logger) *Harness {
	return &Harness{
		exec:     exec,
		verifier: verifier,
		oracle:   ctl,
		injector: injector,
		rng:      rng,
		log:      log,
	}
}

// Phase returns the current loop state, for status surfacing.
func (h *Harness) Phase() Phase {
	return h.phase
}

// State returns the current tracked model.
func (h *Harness) State() pr.State {
	return h.state
}

// Run drives the loop until ctx is canceled (clean shutdown, nil) or a
// fatal condition aborts it. Cleanup runs on every exit path.
func (h *Harness) Run(ctx context.Context) error {
	err := h.run(ctx)
	h.transition(PhaseTerminated)
	cleanupErr := h.Cleanup()
	if err != nil {
		return err
	}
	return cleanupErr
}

func (h *Harness) run(ctx context.Context) error {
	h.transition(PhaseIdle)
	if err := h.startup(); err != nil {
		return err
	}

	for iteration := 1; ; iteration++ {
		select {
		case <-ctx.Done():
			h.log.Info().Int("iterations", iteration-1).Msg("interrupted, shutting down")
			return nil
		default:
		}

		h.transition(PhaseSelecting)
		legal := pr.LegalOps(h.state)
		op := legal[h.rng.Intn(len(legal))]
		next := pr.Predict(h.state, op)
		h.log.Info().
			Int("iteration", iteration).
			Stringer("op", op).
			Stringer("state", h.state).
			Stringer("expect", next).
			Msg("operation selected")

		if err := h.oracle.PrepareFor(next); err != nil {
			return err
		}

		h.transition(PhaseExecuting)
		state, err := h.exec.Execute(h.state, op)
		if err != nil {
			return err
		}
		h.state = state
		if err := h.state.Validate(); err != nil {
			return err
		}
		if err := h.oracle.Reconcile(pr.Expect(h.state)); err != nil {
			return err
		}

		h.transition(PhaseVerifying)
		h.state, err = h.verifier.Verify(h.state)
		if err != nil {
			return err
		}

		h.transition(PhaseOracleChecking)
		if err := h.oracle.CheckAlive(); err != nil {
			return err
		}
		if h.injector != nil {
			if err := h.injector.CheckAlive(); err != nil {
				return err
			}
		}

		if h.MaxIterations > 0 && iteration >= h.MaxIterations {
			h.log.Info().Int("iterations", iteration).Msg("iteration budget reached")
			return nil
		}
	}
}

// startup forces the unit into the ground state, verifies it, and
// brings up the background collaborators.
func (h *Harness) startup() error {
	if err := h.scrub(); err != nil {
		return err
	}
	if err := h.verifier.VerifyClean(); err != nil {
		return err
	}
	h.state = pr.NewState()

	if h.injector != nil {
		if err := h.injector.Start(); err != nil {
			return err
		}
	}
	if err := h.oracle.Start(pr.Expect(h.state)); err != nil {
		return err
	}
	h.log.Info().Stringer("state", h.state).Msg("ground state established")
	return nil
}

// scrub removes every registration and reservation regardless of who
// left them: register a throwaway key ignoring any reservation, then
// clear with it.
func (h *Harness) scrub() error {
	if err := h.exec.local.RegisterIgnore(cleanupKey); err != nil {
		return err
	}
	return h.exec.local.Clear(cleanupKey)
}

// Cleanup restores a clean unit and stops the collaborators. It is
// idempotent and safe mid-operation: every step is attempted, the
// first error is reported.
func (h *Harness) Cleanup() error {
	var first error
	keep := func(err error) {
		if err != nil {
			h.log.Error().Err(err).Msg("cleanup step failed")
			if first == nil {
				first = err
			}
		}
	}

	keep(h.oracle.Stop())
	if h.injector != nil {
		keep(h.injector.Stop())
	}
	keep(h.scrub())
	h.state = pr.NewState()
	h.log.Info().Msg("cleanup complete")
	return first
}

func (h *Harness) transition(p Phase) {
	if h.phase == p {
		return
	}
	h.log.Trace().Stringer("from", h.phase).Stringer("to", p).Msg("phase transition")
	h.phase = p
}
