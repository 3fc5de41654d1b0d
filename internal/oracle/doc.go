// Package oracle owns supervision of the background collaborators.
//
// Ownership boundary:
// - I/O oracle lifecycle and its expectation protocol
// - post-operation oracle liveness checks
// - path-failure injector lifecycle
//
// The oracle binary itself performs the direct writes; this package
// only guarantees it is never running with a stale expectation.
package oracle
