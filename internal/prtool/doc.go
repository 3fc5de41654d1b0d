// Package prtool owns the persistent-reservation tool boundary.
//
// Ownership boundary:
// - building one tool invocation per reservation exchange
// - typed parsing of the tool's documented output patterns
// - unit-attention classification and bounded retry
//
// The tool itself (sg_persist / mpathpersist compatible) is an external
// collaborator; nothing here speaks SCSI.
package prtool
