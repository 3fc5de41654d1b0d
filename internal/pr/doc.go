// Package pr owns the abstract SCSI-3 persistent reservation model.
//
// Ownership boundary:
// - tracked registration/reservation state
// - operation legality rules
// - state transitions for each operation
// - expected direct-I/O outcome per state
//
// The package is pure: nothing here talks to a device or an external
// tool, and every transition returns a new State value.
package pr
