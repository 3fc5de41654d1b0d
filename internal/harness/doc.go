// Package harness owns the randomized exerciser itself.
//
// Ownership boundary:
// - mapping each operation to its tool exchanges and state transition
// - the select/execute/verify/oracle-check driver loop
// - startup ground-state establishment and shutdown cleanup
//
// The harness is single-threaded; the oracle and injector run as
// supervised external processes and never share state with it.
package harness
