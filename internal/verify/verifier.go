// Package verify owns cross-validation of the tracked reservation
// model against what the storage stack reports.
//
// Ownership boundary:
// - tracked-vs-reported comparison after every operation
// - pending-preemption confirmation
// - second-channel (multipathd) agreement checks
//
// A mismatch is never tolerated or corrected: it means either the
// storage stack broke protocol or the model is wrong, and both end the
// run.
package verify

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/prtool"
)

var ErrMismatch = errors.New("verify: state mismatch")

// DaemonChannel is the optional second reporting channel. The daemon
// tracks registrations made through the multipath map: its key must
// equal the local key and its PR flag must be set exactly while the
// local initiator is registered.
type DaemonChannel interface {
	PRKey() (pr.Key, error)
	PRFlagSet() (bool, error)
}

// StatusReader is the primary channel: the PR tool's own read queries.
type StatusReader interface {
	ReadStatus() (prtool.Status, error)
}

// Verifier re-queries the storage stack and asserts agreement with the
// tracked model.
type Verifier struct {
	tool   StatusReader
	daemon DaemonChannel
	log    zerolog.Logger
}

// New builds a verifier. daemon may be nil when no second channel
// exists (raw second-path-only configurations).
func New(tool StatusReader, daemon DaemonChannel, log zerolog.Logger) *Verifier {
	return &Verifier{tool: tool, daemon: daemon, log: log}
}

// Verify checks every reported fact against s and returns s with a
// confirmed pending preemption cleared. Any disagreement is fatal.
func (v *Verifier) Verify(s pr.State) (pr.State, error) {
	status, err := v.tool.ReadStatus()
	if err != nil {
		return s, err
	}

	if s.Registered() && !status.HasKey(s.LocalKey) {
		return s, fmt.Errorf("%w: local key %s not among registered keys (%s)", ErrMismatch, s.LocalKey, status)
	}

	switch {
	case s.Holder == pr.HolderNone && status.Reservation != nil:
		return s, fmt.Errorf("%w: expected no reservation, stack reports holder key %s", ErrMismatch, status.Reservation.Key)
	case s.Holder != pr.HolderNone && status.Reservation == nil:
		return s, fmt.Errorf("%w: expected %s reservation with key %s, stack reports none", ErrMismatch, s.Holder, s.HolderKey())
	case s.Holder != pr.HolderNone && status.Reservation.Key != s.HolderKey():
		return s, fmt.Errorf("%w: expected holder key %s (%s), stack reports %s",
			ErrMismatch, s.HolderKey(), s.Holder, status.Reservation.Key)
	}

	if s.Pending != 0 {
		if status.HasKey(s.Pending) {
			return s, fmt.Errorf("%w: preempted key %s still registered", ErrMismatch, s.Pending)
		}
		v.log.Debug().Stringer("key", s.Pending).Msg("preempted key confirmed absent")
		s = s.ClearPending()
	}

	if v.daemon != nil {
		if err := v.crossCheck(s); err != nil {
			return s, err
		}
	}

	v.log.Debug().Stringer("stack", status).Msg("state verified")
	return s, nil
}

// VerifyClean asserts the stack reports no registrations and no
// reservation, the required ground state at startup and after cleanup.
func (v *Verifier) VerifyClean() error {
	status, err := v.tool.ReadStatus()
	if err != nil {
		return err
	}
	if len(status.Keys) != 0 {
		return fmt.Errorf("%w: expected clean unit, stack reports keys %s", ErrMismatch, status)
	}
	if status.Reservation != nil {
		return fmt.Errorf("%w: expected clean unit, stack reports reservation key %s", ErrMismatch, status.Reservation.Key)
	}
	return nil
}

func (v *Verifier) crossCheck(s pr.State) error {
	key, err := v.daemon.PRKey()
	if err != nil {
		return err
	}
	if key != s.LocalKey {
		return fmt.Errorf("%w: daemon reports key %s, model says %s", ErrMismatch, key, s.LocalKey)
	}

	set, err := v.daemon.PRFlagSet()
	if err != nil {
		return err
	}
	if set != s.Registered() {
		return fmt.Errorf("%w: daemon pr flag=%v, model registered=%v", ErrMismatch, set, s.Registered())
	}
	return nil
}
