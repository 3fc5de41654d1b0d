// Package multipath owns the multipath management boundary.
//
// Ownership boundary:
// - device identity (WWID) resolution per access path
// - multipathd status queries used as the verifier's second channel
// - device-mapper path reprobe ioctl
//
// multipathd itself is an external collaborator; only the textual
// patterns of its replies are depended on.
package multipath
