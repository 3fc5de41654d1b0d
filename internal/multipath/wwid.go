package multipath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/prex/internal/runner"
)

var (
	ErrNoWWID       = errors.New("multipath: device reported no wwid")
	ErrWWIDMismatch = errors.New("multipath: access paths name different storage units")
)

// DefaultWWIDCommand resolves a device's VPD-83 identifier; it works on
// SCSI devices and on dm-multipath maps via SG_IO passthrough.
var DefaultWWIDCommand = []string{"/lib/udev/scsi_id", "-g", "-u", "-d"}

// WWID resolves the opaque storage identifier of device through one
// access path. Both paths must agree before any testing proceeds.
func WWID(run runner.Runner, command []string, device string) (string, error) {
	if len(command) == 0 {
		command = DefaultWWIDCommand
	}
	args := append(append([]string{}, command[1:]...), device)
	res, err := run.Run(command[0], args...)
	if err != nil {
		return "", fmt.Errorf("multipath: wwid query for %s: %w", device, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("multipath: wwid query for %s: exit %d: %s", device, res.ExitCode, res.Combined())
	}
	id := strings.TrimSpace(strings.SplitN(res.Output(), "\n", 2)[0])
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrNoWWID, device)
	}
	return id, nil
}

// VerifySameUnit resolves the identifier through both access paths and
// demands agreement before any testing proceeds. Returns the agreed
// identifier.
func VerifySameUnit(runA, runB runner.Runner, command []string, deviceA, deviceB string) (string, error) {
	a, err := WWID(runA, command, deviceA)
	if err != nil {
		return "", err
	}
	b, err := WWID(runB, command, deviceB)
	if err != nil {
		return "", err
	}
	if a != b {
		return "", fmt.Errorf("%w: %s says %s, %s says %s", ErrWWIDMismatch, deviceA, a, deviceB, b)
	}
	return a, nil
}
