package harness

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/prtool"
)

// Executor turns one chosen operation into its external tool exchanges
// and, on success, the matching model transition. The local initiator
// acts through the multipath path; the peer initiator acts through the
// second path to the same unit.
type Executor struct {
	local *prtool.Client
	peer  *prtool.Client
	rng   *rand.Rand
	log   zerolog.Logger
}

// NewExecutor wires the two per-path tool clients. rng decides whether
// an uncontested reservation is handed to the peer before a
// preempt-by-local.
func NewExecutor(local, peer *prtool.Client, rng *rand.Rand, log zerolog.Logger) *Executor {
	return &Executor{local: local, peer: peer, rng: rng, log: log}
}

// Execute issues op and returns the successor state. The model moves
// only after the tool reported success; an error leaves s untouched
// and is fatal to the run unless it was already retried away as a unit
// attention inside the client.
func (e *Executor) Execute(s pr.State, op pr.Op) (pr.State, error) {
	switch op {
	case pr.OpRegisterNew:
		if err := e.local.Register(s.LocalKey, s.NextKey); err != nil {
			return s, err
		}
		return s.RegisterNew(), nil

	case pr.OpRegisterUnreg:
		if err := e.local.Register(s.LocalKey, 0); err != nil {
			return s, err
		}
		return s.Unregister(), nil

	case pr.OpRegisterIgnoreNew:
		if err := e.local.RegisterIgnore(s.NextKey); err != nil {
			return s, err
		}
		return s.RegisterNew(), nil

	case pr.OpRegisterIgnoreUnreg:
		if err := e.local.RegisterIgnore(0); err != nil {
			return s, err
		}
		return s.Unregister(), nil

	case pr.OpReserve:
		if err := e.local.Reserve(s.LocalKey); err != nil {
			return s, err
		}
		return s.AcquireReservation(), nil

	case pr.OpRelease:
		if err := e.local.Release(s.LocalKey); err != nil {
			return s, err
		}
		return s.ReleaseReservation(), nil

	case pr.OpClear:
		if err := e.local.Clear(s.LocalKey); err != nil {
			return s, err
		}
		return s.ClearAll(), nil

	case pr.OpPreemptByLocal:
		return e.preemptByLocal(s)

	case pr.OpPreemptByPeer:
		return e.preemptByPeer(s)

	default:
		return s, fmt.Errorf("harness: unhandled operation %s", op)
	}
}

// preemptByLocal registers the peer, optionally lets it grab an
// uncontested reservation, then preempts its key with the local key.
func (e *Executor) preemptByLocal(s pr.State) (pr.State, error) {
	if err := e.peer.RegisterIgnore(s.PeerKey); err != nil {
		return s, err
	}

	peerHeld := s.Holder == pr.HolderPeer
	if s.Holder == pr.HolderNone && e.rng.Intn(2) == 0 {
		if err := e.peer.Reserve(s.PeerKey); err != nil {
			return s, err
		}
		peerHeld = true
		e.log.Debug().Msg("peer granted the uncontested reservation before preempt")
	}

	if err := e.local.Preempt(s.LocalKey, s.PeerKey); err != nil {
		return s, err
	}
	return s.PreemptPeer(peerHeld), nil
}

// preemptByPeer registers the peer and has it preempt the local key.
func (e *Executor) preemptByPeer(s pr.State) (pr.State, error) {
	if err := e.peer.RegisterIgnore(s.PeerKey); err != nil {
		return s, err
	}
	if err := e.peer.Preempt(s.PeerKey, s.LocalKey); err != nil {
		return s, err
	}
	return s.PreemptLocal(), nil
}
