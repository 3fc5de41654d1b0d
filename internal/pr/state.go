package pr

import (
	"errors"
	"fmt"
)

var ErrInvalidState = errors.New("pr: invalid state")

// Key is a SCSI-3 persistent reservation registration key. The zero
// value on the local initiator means "unregistered"; the peer initiator
// always registers with one fixed non-zero key.
type Key uint64

func (k Key) String() string {
	return fmt.Sprintf("0x%x", uint64(k))
}

// Holder names the initiator currently granted the reservation.
type Holder int

const (
	HolderNone Holder = iota
	HolderLocal
	HolderPeer
)

func (h Holder) String() string {
	switch h {
	case HolderNone:
		return "none"
	case HolderLocal:
		return "local"
	case HolderPeer:
		return "peer"
	default:
		return fmt.Sprintf("holder(%d)", int(h))
	}
}

const (
	// DefaultPeerKey is the fixed key the peer initiator registers with.
	DefaultPeerKey Key = 0x1
	// firstLocalKey is the first fresh key handed to the local initiator.
	firstLocalKey Key = 0x2
)

// State is the tracked reservation model for one logical unit. It is a
// value: transitions return a new State and never mutate the receiver's
// origin. Pending records a just-preempted key whose absence must be
// confirmed on the next verification pass; zero means no preemption is
// pending.
type State struct {
	LocalKey Key
	PeerKey  Key
	NextKey  Key
	Holder   Holder
	Pending  Key
}

// NewState returns the empty model: local unregistered, no reservation,
// first fresh key ready to hand out.
func NewState() State {
	return State{PeerKey: DefaultPeerKey, NextKey: firstLocalKey}
}

// Registered reports whether the local initiator currently holds a
// registration.
func (s State) Registered() bool {
	return s.LocalKey != 0
}

// HolderKey returns the registration key of the current reservation
// holder, or zero when no reservation exists.
func (s State) HolderKey() Key {
	switch s.Holder {
	case HolderLocal:
		return s.LocalKey
	case HolderPeer:
		return s.PeerKey
	default:
		return 0
	}
}

// Validate enforces the model invariants that must hold between
// transitions.
func (s State) Validate() error {
	if s.PeerKey == 0 {
		return fmt.Errorf("%w: peer key must be non-zero", ErrInvalidState)
	}
	if s.Holder == HolderLocal && s.LocalKey == 0 {
		return fmt.Errorf("%w: local holds the reservation but is unregistered", ErrInvalidState)
	}
	if s.NextKey <= s.LocalKey {
		return fmt.Errorf("%w: next key %s already handed out (local %s)", ErrInvalidState, s.NextKey, s.LocalKey)
	}
	if s.NextKey <= s.PeerKey {
		return fmt.Errorf("%w: next key %s collides with peer key %s", ErrInvalidState, s.NextKey, s.PeerKey)
	}
	return nil
}

// RegisterNew hands the local initiator the next fresh key. NextKey is
// monotonic; a key is never reused within a run.
func (s State) RegisterNew() State {
	s.LocalKey = s.NextKey
	s.NextKey++
	return s
}

// Unregister drops the local registration. Unregistering the
// reservation holder clears the reservation.
func (s State) Unregister() State {
	s.LocalKey = 0
	if s.Holder == HolderLocal {
		s.Holder = HolderNone
	}
	return s
}

// AcquireReservation records the local initiator as reservation holder.
func (s State) AcquireReservation() State {
	s.Holder = HolderLocal
	return s
}

// ReleaseReservation drops the reservation if local holds it; a release
// by a non-holding registrant is a no-op on the reservation.
func (s State) ReleaseReservation() State {
	if s.Holder == HolderLocal {
		s.Holder = HolderNone
	}
	return s
}

// ClearAll models a CLEAR service action: every registration and the
// reservation are gone.
func (s State) ClearAll() State {
	s.LocalKey = 0
	s.Holder = HolderNone
	return s
}

// PreemptPeer models the local initiator preempting the peer's key.
// peerHeld says whether the peer held the reservation at preempt time
// (either originally or because it was allowed to grab an uncontested
// reservation first); only then does the reservation transfer.
func (s State) PreemptPeer(peerHeld bool) State {
	s.Pending = s.PeerKey
	if peerHeld {
		s.Holder = HolderLocal
	}
	return s
}

// PreemptLocal models the peer preempting the local initiator's key:
// the local registration is gone, and the reservation transfers to the
// peer if local held it.
func (s State) PreemptLocal() State {
	s.Pending = s.LocalKey
	if s.Holder == HolderLocal {
		s.Holder = HolderPeer
	}
	s.LocalKey = 0
	return s
}

// ClearPending acknowledges that a preempted key was confirmed absent.
func (s State) ClearPending() State {
	s.Pending = 0
	return s
}

func (s State) String() string {
	return fmt.Sprintf("local=%s peer=%s next=%s holder=%s pending=%s",
		s.LocalKey, s.PeerKey, s.NextKey, s.Holder, s.Pending)
}
