package multipath

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/runner"
)

var (
	ErrDaemon    = errors.New("multipath: multipathd query failed")
	ErrBadReport = errors.New("multipath: unrecognized multipathd report")
)

var (
	prKeyPattern    = regexp.MustCompile(`(?i)(0x[0-9a-f]+|none)`)
	prStatusPattern = regexp.MustCompile(`(?i)\b(unset|set)\b`)
)

// Daemon queries multipathd about one map. It is the verifier's second,
// independent reporting channel: mpathpersist keeps the daemon's
// reservation key and PR flag in step with registrations made through
// the map, so the daemon's view must agree with the tracked model.
type Daemon struct {
	run runner.Runner
	// Command is the daemon client binary, default "multipathd".
	Command string
	mapName string
}

// NewDaemon wires a daemon client for the map backing device (a
// /dev/mapper path; the map name is its base name).
func NewDaemon(run runner.Runner, device string) *Daemon {
	return &Daemon{run: run, Command: "multipathd", mapName: filepath.Base(device)}
}

// PRKey reports the reservation key the daemon holds for the map, zero
// when the daemon reports none.
func (d *Daemon) PRKey() (pr.Key, error) {
	out, err := d.query("getprkey", "map", d.mapName)
	if err != nil {
		return 0, err
	}
	m := prKeyPattern.FindString(out)
	if m == "" {
		return 0, fmt.Errorf("%w: getprkey said %q", ErrBadReport, out)
	}
	if strings.EqualFold(m, "none") {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(m), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: getprkey said %q: %v", ErrBadReport, out, err)
	}
	return pr.Key(v), nil
}

// PRFlagSet reports whether the daemon's persistent-reservation flag is
// set for the map.
func (d *Daemon) PRFlagSet() (bool, error) {
	out, err := d.query("getprstatus", "map", d.mapName)
	if err != nil {
		return false, err
	}
	m := prStatusPattern.FindString(out)
	if m == "" {
		return false, fmt.Errorf("%w: getprstatus said %q", ErrBadReport, out)
	}
	return strings.EqualFold(m, "set"), nil
}

func (d *Daemon) query(args ...string) (string, error) {
	cmd := d.Command
	if cmd == "" {
		cmd = "multipathd"
	}
	res, err := d.run.Run(cmd, args...)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDaemon, strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: %s: exit %d: %s", ErrDaemon, strings.Join(args, " "), res.ExitCode, res.Combined())
	}
	return res.Output(), nil
}
