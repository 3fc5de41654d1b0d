package multipath

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var ErrNoUsablePaths = errors.New("multipath: no usable paths")

// device-mapper ioctl identity and the multipath probe-paths command
// number, per linux/dm-ioctl.h. The request has no argument payload,
// so the encoded direction and size are zero.
const (
	dmIoctlType       = 0xfd
	dmMpathProbePaths = 18
	probePathsRequest = uint(dmIoctlType)<<8 | dmMpathProbePaths
)

// ProbePaths asks the kernel to re-test every path of a dm-multipath
// device, blocking until the probe completes. ErrNoUsablePaths means
// the map currently has no path that services I/O.
func ProbePaths(device string) error {
	fd, err := unix.Open(device, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("multipath: open %s: %w", device, err)
	}
	defer unix.Close(fd)

	for {
		_, err := unix.IoctlRetInt(fd, probePathsRequest)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.ENOTCONN) {
			return fmt.Errorf("%w: %s", ErrNoUsablePaths, device)
		}
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		return fmt.Errorf("multipath: probe ioctl on %s: %w", device, err)
	}
}
