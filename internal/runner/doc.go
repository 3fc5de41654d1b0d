// Package runner owns command execution against one access path.
//
// Ownership boundary:
// - command runner interface shared by every external-tool client
// - local execution backed by os/exec
// - remote execution over SSH for the two-host variant
package runner
