package pr

// Expectation declares whether direct writes to the protected volume
// must currently succeed or must currently fail.
type Expectation int

const (
	ExpectPass Expectation = iota
	ExpectFail
)

func (e Expectation) String() string {
	if e == ExpectFail {
		return "fail"
	}
	return "pass"
}

// Expect derives the direct-I/O expectation from the tracked state
// under Write-Exclusive-Registrants-Only semantics: a registered local
// initiator may always write; an unregistered one may write only while
// no reservation is held.
func Expect(s State) Expectation {
	if s.Registered() || s.Holder == HolderNone {
		return ExpectPass
	}
	return ExpectFail
}

// Predict returns the expectation that will hold after op executes
// from s. Deterministic even for the preempt variants: whether the
// peer grabs an uncontested reservation before being preempted cannot
// change the local initiator's write outcome.
func Predict(s State, op Op) Expectation {
	switch op {
	case OpRegisterNew, OpRegisterIgnoreNew:
		return Expect(s.RegisterNew())
	case OpRegisterUnreg, OpRegisterIgnoreUnreg:
		return Expect(s.Unregister())
	case OpReserve:
		return Expect(s.AcquireReservation())
	case OpRelease:
		return Expect(s.ReleaseReservation())
	case OpClear:
		return Expect(s.ClearAll())
	case OpPreemptByLocal:
		return Expect(s.PreemptPeer(s.Holder == HolderPeer))
	case OpPreemptByPeer:
		return Expect(s.PreemptLocal())
	default:
		return Expect(s)
	}
}
