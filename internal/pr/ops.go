package pr

import "fmt"

// Op is the closed set of reservation operations the harness knows how
// to drive. Register variants with a fresh key pull it from NextKey at
// execution time; the "unreg" variants write a zero service action key.
type Op int

const (
	OpRegisterNew Op = iota
	OpRegisterUnreg
	OpRegisterIgnoreNew
	OpRegisterIgnoreUnreg
	OpReserve
	OpRelease
	OpClear
	OpPreemptByLocal
	OpPreemptByPeer
)

func (op Op) String() string {
	switch op {
	case OpRegisterNew:
		return "register-new"
	case OpRegisterUnreg:
		return "register-unreg"
	case OpRegisterIgnoreNew:
		return "register-ignore-new"
	case OpRegisterIgnoreUnreg:
		return "register-ignore-unreg"
	case OpReserve:
		return "reserve"
	case OpRelease:
		return "release"
	case OpClear:
		return "clear"
	case OpPreemptByLocal:
		return "preempt-by-local"
	case OpPreemptByPeer:
		return "preempt-by-peer"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// LegalOps returns the operations that may legally be issued from s.
// Deterministic and side-effect free; random selection among the
// returned set belongs to the driver.
//
// Reserve is deliberately guarded: it is legal only while no
// reservation exists or the local initiator already holds it. Issuing
// it against a peer-held reservation would draw a reservation conflict.
func LegalOps(s State) []Op {
	if !s.Registered() {
		return []Op{OpRegisterNew, OpRegisterIgnoreNew}
	}
	ops := []Op{
		OpRegisterNew,
		OpRegisterUnreg,
		OpRegisterIgnoreNew,
		OpRegisterIgnoreUnreg,
		OpRelease,
		OpClear,
		OpPreemptByLocal,
		OpPreemptByPeer,
	}
	if s.Holder != HolderPeer {
		ops = append(ops, OpReserve)
	}
	return ops
}
