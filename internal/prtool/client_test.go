package prtool

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/runner"
)

// scriptRunner replays canned results and records each invocation.
type scriptRunner struct {
	results []runner.Result
	calls   []string
}

func (r *scriptRunner) Run(name string, args ...string) (runner.Result, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	if len(r.results) == 0 {
		return runner.Result{}, nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

func newTestClient(run runner.Runner) *Client {
	c := NewClient(run, "/dev/mapper/mpatha", DefaultConfig(), nil, zerolog.Nop())
	c.sleep = func(time.Duration) {}
	return c
}

func TestRegisterOmitsReservationKeyWhenUnregistered(t *testing.T) {
	script := &scriptRunner{}
	c := newTestClient(script)

	if err := c.Register(0, pr.Key(0x2)); err != nil {
		t.Fatalf("register: %v", err)
	}
	want := "sg_persist --out --register --param-sark=0x2 /dev/mapper/mpatha"
	if script.calls[0] != want {
		t.Fatalf("unexpected invocation\nwant: %s\ngot:  %s", want, script.calls[0])
	}

	if err := c.Register(pr.Key(0x2), pr.Key(0x3)); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	want = "sg_persist --out --register --param-rk=0x2 --param-sark=0x3 /dev/mapper/mpatha"
	if script.calls[1] != want {
		t.Fatalf("unexpected invocation\nwant: %s\ngot:  %s", want, script.calls[1])
	}
}

func TestReserveCarriesWEROType(t *testing.T) {
	script := &scriptRunner{}
	c := newTestClient(script)
	if err := c.Reserve(pr.Key(0x2)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !strings.Contains(script.calls[0], "--prout-type=5") {
		t.Fatalf("reserve must request Write-Exclusive-Registrants-Only: %s", script.calls[0])
	}
}

func TestPreemptTargetsVictimKey(t *testing.T) {
	script := &scriptRunner{}
	c := newTestClient(script)
	if err := c.Preempt(pr.Key(0x1), pr.Key(0x3)); err != nil {
		t.Fatalf("preempt: %v", err)
	}
	call := script.calls[0]
	if !strings.Contains(call, "--param-rk=0x1") || !strings.Contains(call, "--param-sark=0x3") {
		t.Fatalf("preempt must name preemptor and victim: %s", call)
	}
}

func TestExchangeRetriesUnitAttentionThenSucceeds(t *testing.T) {
	script := &scriptRunner{results: []runner.Result{
		{ExitCode: 6, Stderr: []byte("Unit attention")},
		{ExitCode: 6, Stderr: []byte("Unit attention")},
		{ExitCode: 0, Stdout: []byte("PR out: command completed")},
	}}
	c := newTestClient(script)
	if err := c.Clear(pr.Key(0x2)); err != nil {
		t.Fatalf("clear should succeed after retries: %v", err)
	}
	if len(script.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(script.calls))
	}
}

func TestExchangeEscalatesExhaustedUnitAttention(t *testing.T) {
	script := &scriptRunner{}
	for i := 0; i < 10; i++ {
		script.results = append(script.results, runner.Result{ExitCode: 6, Stderr: []byte("Unit attention")})
	}
	c := newTestClient(script)
	err := c.Reserve(pr.Key(0x2))
	if !errors.Is(err, ErrUnitAttention) {
		t.Fatalf("expected exhausted unit-attention error, got %v", err)
	}
	if len(script.calls) != DefaultConfig().MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultConfig().MaxAttempts, len(script.calls))
	}
}

func TestExchangeFatalOnOtherFailures(t *testing.T) {
	script := &scriptRunner{results: []runner.Result{
		{ExitCode: 24, Stderr: []byte("PR out: reservation conflict")},
	}}
	c := newTestClient(script)
	err := c.Release(pr.Key(0x2))
	if !errors.Is(err, ErrTool) {
		t.Fatalf("expected tool failure, got %v", err)
	}
	if len(script.calls) != 1 {
		t.Fatalf("non-transient failures must not retry, got %d attempts", len(script.calls))
	}
}

func TestReadStatus(t *testing.T) {
	script := &scriptRunner{results: []runner.Result{
		{Stdout: []byte(sgReadKeysOut)},
		{Stdout: []byte(sgReadReservationOut)},
	}}
	c := newTestClient(script)
	st, err := c.ReadStatus()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !st.HasKey(0x123abc) || !st.HasKey(0x1) {
		t.Fatalf("missing registered keys: %s", st)
	}
	if st.Reservation == nil || st.Reservation.Key != 0x123abc {
		t.Fatalf("missing reservation: %s", st)
	}
}

func TestNextBackoffDelayCapsAtMax(t *testing.T) {
	cfg := DefaultBackoff()
	if d := NextBackoffDelay(cfg, 1, nil); d != cfg.InitialDelay {
		t.Fatalf("first attempt must wait the initial delay, got %s", d)
	}
	if d := NextBackoffDelay(cfg, 10, nil); d != cfg.MaxDelay {
		t.Fatalf("late attempts must cap at max delay, got %s", d)
	}
}
