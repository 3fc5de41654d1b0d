package harness

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/oracle"
	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/prtool"
	"github.com/danmuck/prex/internal/testutil/prsim"
	"github.com/danmuck/prex/internal/verify"
)

// simDaemon adapts the simulated device to the verifier's second
// channel: the daemon view tracks the local initiator's registration.
type simDaemon struct {
	dev *prsim.Device
}

func (d simDaemon) PRKey() (pr.Key, error)   { return d.dev.RegisteredKey("local"), nil }
func (d simDaemon) PRFlagSet() (bool, error) { return d.dev.PRFlagSet("local"), nil }

func simClientConfig() prtool.Config {
	cfg := prtool.DefaultConfig()
	// Zero backoff: unit-attention retries must not slow the tests.
	cfg.Backoff = prtool.BackoffConfig{}
	return cfg
}

func newSimParts(t *testing.T, seed int64, injectUA bool) (*prsim.Device, *Executor, *verify.Verifier, *rand.Rand) {
	t.Helper()
	dev := prsim.NewDevice()
	dev.InjectUnitAttentions = injectUA
	rng := rand.New(rand.NewSource(seed))
	log := zerolog.Nop()
	local := prtool.NewClient(dev.Path("local"), "/dev/mapper/mpatha", simClientConfig(), rng, log)
	peer := prtool.NewClient(dev.Path("peer"), "/dev/sdz", simClientConfig(), rng, log)
	exec := NewExecutor(local, peer, rng, log)
	verifier := verify.New(local, simDaemon{dev}, log)
	return dev, exec, verifier, rng
}

// Any sequence drawn from the legal set must execute cleanly and keep
// the three views (model, tool reports, daemon view) in agreement.
func TestPropertyRandomLegalSequencesNeverMismatch(t *testing.T) {
	for _, injectUA := range []bool{false, true} {
		for seed := int64(1); seed <= 4; seed++ {
			dev, exec, verifier, rng := newSimParts(t, seed, injectUA)
			state := pr.NewState()
			for step := 0; step < 400; step++ {
				legal := pr.LegalOps(state)
				op := legal[rng.Intn(len(legal))]
				predicted := pr.Predict(state, op)

				next, err := exec.Execute(state, op)
				if err != nil {
					t.Fatalf("seed=%d ua=%v step=%d: execute %s from %s: %v", seed, injectUA, step, op, state, err)
				}
				if got := pr.Expect(next); got != predicted {
					t.Fatalf("seed=%d step=%d: %s predicted %s, state %s yields %s", seed, step, op, predicted, next, got)
				}
				if err := next.Validate(); err != nil {
					t.Fatalf("seed=%d step=%d: %s produced invalid state: %v", seed, step, op, err)
				}

				state, err = verifier.Verify(next)
				if err != nil {
					t.Fatalf("seed=%d ua=%v step=%d: verify after %s: %v", seed, injectUA, step, op, err)
				}
				if state.HolderKey() != dev.HolderKey() {
					t.Fatalf("seed=%d step=%d: model holder key %s, device says %s", seed, step, state.HolderKey(), dev.HolderKey())
				}
			}
		}
	}
}

func TestExecutorScenarioRegisterReserveUnregister(t *testing.T) {
	_, exec, verifier, _ := newSimParts(t, 7, false)
	state := pr.NewState()

	// Register from a clean device.
	state = mustExec(t, exec, verifier, state, pr.OpRegisterNew)
	if state.LocalKey != 0x2 || pr.Expect(state) != pr.ExpectPass {
		t.Fatalf("after register: %s expect %s", state, pr.Expect(state))
	}

	// Take the reservation.
	state = mustExec(t, exec, verifier, state, pr.OpReserve)
	if state.Holder != pr.HolderLocal || state.LocalKey != 0x2 {
		t.Fatalf("after reserve: %s", state)
	}

	// Unregister while holding; the reservation goes with the key.
	state = mustExec(t, exec, verifier, state, pr.OpRegisterUnreg)
	if state.Registered() || state.Holder != pr.HolderNone || pr.Expect(state) != pr.ExpectPass {
		t.Fatalf("after unregister: %s expect %s", state, pr.Expect(state))
	}
}

func TestExecutorScenarioPreemptByPeer(t *testing.T) {
	dev, exec, verifier, _ := newSimParts(t, 7, false)
	state := pr.NewState()
	state = mustExec(t, exec, verifier, state, pr.OpRegisterNew) // 0x2
	state = mustExec(t, exec, verifier, state, pr.OpRegisterNew) // 0x3
	state = mustExec(t, exec, verifier, state, pr.OpReserve)

	preempted := state.LocalKey
	state = mustExec(t, exec, verifier, state, pr.OpPreemptByPeer)
	if state.Registered() || state.Holder != pr.HolderPeer {
		t.Fatalf("after preempt-by-peer: %s", state)
	}
	if state.Pending != 0 {
		t.Fatalf("verifier must have confirmed and cleared the pending key, got %s", state.Pending)
	}
	if dev.RegisteredKey("local") != 0 {
		t.Fatalf("device still has local key %s after preempt of %s", dev.RegisteredKey("local"), preempted)
	}
	// Peer holds and local is unregistered, so writes must fail.
	if pr.Expect(state) != pr.ExpectFail {
		t.Fatalf("peer-held reservation with local unregistered must expect failing I/O")
	}
}

func TestExecutorPreemptByLocalTakesContestedReservation(t *testing.T) {
	dev, exec, verifier, _ := newSimParts(t, 7, false)
	state := pr.NewState()
	state = mustExec(t, exec, verifier, state, pr.OpRegisterNew)
	state = mustExec(t, exec, verifier, state, pr.OpReserve)
	state = mustExec(t, exec, verifier, state, pr.OpPreemptByPeer)
	state = mustExec(t, exec, verifier, state, pr.OpRegisterNew)

	state = mustExec(t, exec, verifier, state, pr.OpPreemptByLocal)
	if state.Holder != pr.HolderLocal {
		t.Fatalf("preempting the peer holder must transfer the reservation, got %s", state)
	}
	if dev.RegisteredKey("peer") != 0 {
		t.Fatalf("peer key must be gone after preempt, got %s", dev.RegisteredKey("peer"))
	}
}

func mustExec(t *testing.T, exec *Executor, verifier *verify.Verifier, s pr.State, op pr.Op) pr.State {
	t.Helper()
	next, err := exec.Execute(s, op)
	if err != nil {
		t.Fatalf("execute %s from %s: %v", op, s, err)
	}
	next, err = verifier.Verify(next)
	if err != nil {
		t.Fatalf("verify after %s: %v", op, err)
	}
	return next
}

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestHarnessRunBoundedIterations(t *testing.T) {
	dev, exec, verifier, rng := newSimParts(t, 11, false)
	ctl := oracle.NewController(writeStub(t, "exec sleep 60"), "/dev/mapper/mpatha", 5*time.Second, zerolog.Nop())
	inj := oracle.NewInjector(writeStub(t, "exec sleep 60"), "/dev/mapper/mpatha", 5*time.Second, zerolog.Nop())

	h := New(exec, verifier, ctl, inj, rng, zerolog.Nop())
	h.MaxIterations = 30

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("bounded run must complete cleanly: %v", err)
	}
	if h.Phase() != PhaseTerminated {
		t.Fatalf("run must end terminated, got %s", h.Phase())
	}
	if dev.RegisteredKey("local") != 0 || dev.RegisteredKey("peer") != 0 || dev.HolderKey() != 0 {
		t.Fatalf("cleanup must leave the unit clean: local=%s peer=%s holder=%s",
			dev.RegisteredKey("local"), dev.RegisteredKey("peer"), dev.HolderKey())
	}
	if ctl.Running() {
		t.Fatalf("oracle must be stopped after the run")
	}
}

func TestHarnessRunCancellation(t *testing.T) {
	_, exec, verifier, rng := newSimParts(t, 13, false)
	ctl := oracle.NewController(writeStub(t, "exec sleep 60"), "/dev/mapper/mpatha", 5*time.Second, zerolog.Nop())

	h := New(exec, verifier, ctl, nil, rng, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("interrupted run must exit cleanly: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestHarnessFatalOnDeadOracle(t *testing.T) {
	_, exec, verifier, rng := newSimParts(t, 17, false)
	ctl := oracle.NewController(writeStub(t, "exit 3"), "/dev/mapper/mpatha", 5*time.Second, zerolog.Nop())

	h := New(exec, verifier, ctl, nil, rng, zerolog.Nop())
	h.MaxIterations = 50

	err := h.Run(context.Background())
	if !errors.Is(err, oracle.ErrOracleDied) && !errors.Is(err, oracle.ErrOracleStop) {
		t.Fatalf("expected oracle fault to abort the run, got %v", err)
	}
}
