// Package prsim simulates a persistent-reservation capable logical
// unit behind the PR tool's command-line surface.
//
// Ownership boundary:
// - in-memory registration/reservation bookkeeping per initiator port
// - sg_persist-compatible argv parsing and output rendering
// - optional unit-attention injection after cross-initiator changes
//
// Tests hand each initiator a runner bound to its port and drive the
// real clients against it.
package prsim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/prex/internal/pr"
	"github.com/danmuck/prex/internal/runner"
)

const (
	exitUnitAttention = 6
	exitConflict      = 24
)

// Device is one simulated logical unit shared by any number of
// initiator ports.
type Device struct {
	mu         sync.Mutex
	keys       map[string]pr.Key
	holder     string
	generation uint64
	pendingUA  map[string]bool

	// InjectUnitAttentions makes the device report a one-shot unit
	// attention to an initiator after another initiator preempted or
	// cleared, the way a real unit does.
	InjectUnitAttentions bool
}

// NewDevice returns a clean unit: no registrations, no reservation.
func NewDevice() *Device {
	return &Device{
		keys:      make(map[string]pr.Key),
		pendingUA: make(map[string]bool),
	}
}

// Path returns the runner for one initiator port; name it uniquely per
// access path.
func (d *Device) Path(initiator string) runner.Runner {
	return &path{dev: d, initiator: initiator}
}

// HolderKey reports the key holding the reservation, zero when none,
// for test assertions.
func (d *Device) HolderKey() pr.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holder == "" {
		return 0
	}
	return d.keys[d.holder]
}

// RegisteredKey reports the key an initiator is registered with, zero
// when unregistered.
func (d *Device) RegisteredKey(initiator string) pr.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[initiator]
}

// PRFlagSet mimics the management daemon's per-map reservation flag:
// set while the given initiator holds a registration.
func (d *Device) PRFlagSet(initiator string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[initiator]
	return ok
}

type path struct {
	dev       *Device
	initiator string
}

type request struct {
	action string
	rk     pr.Key
	hasRK  bool
	sark   pr.Key
}

func (p *path) Run(_ string, args ...string) (runner.Result, error) {
	req, err := parseArgs(args)
	if err != nil {
		return runner.Result{ExitCode: 1, Stderr: []byte(err.Error())}, nil
	}

	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.InjectUnitAttentions && d.pendingUA[p.initiator] {
		d.pendingUA[p.initiator] = false
		return runner.Result{ExitCode: exitUnitAttention, Stderr: []byte("PR: Unit attention\n")}, nil
	}

	switch req.action {
	case "read-keys":
		return d.readKeys(), nil
	case "read-reservation":
		return d.readReservation(), nil
	case "register":
		return d.register(p.initiator, req, true), nil
	case "register-ignore":
		return d.register(p.initiator, req, false), nil
	case "reserve":
		return d.reserve(p.initiator, req), nil
	case "release":
		return d.release(p.initiator, req), nil
	case "clear":
		return d.clear(p.initiator, req), nil
	case "preempt":
		return d.preempt(p.initiator, req), nil
	default:
		return runner.Result{ExitCode: 1, Stderr: []byte("prsim: unknown action " + req.action)}, nil
	}
}

func parseArgs(args []string) (request, error) {
	var req request
	for _, a := range args {
		switch {
		case a == "--out" || a == "--in" || strings.HasPrefix(a, "--prout-type="):
		case a == "--register" || a == "--register-ignore" || a == "--reserve" ||
			a == "--release" || a == "--clear" || a == "--preempt" ||
			a == "--read-keys" || a == "--read-reservation":
			req.action = strings.TrimPrefix(a, "--")
		case strings.HasPrefix(a, "--param-rk="):
			k, err := parseHexKey(strings.TrimPrefix(a, "--param-rk="))
			if err != nil {
				return req, err
			}
			req.rk = k
			req.hasRK = true
		case strings.HasPrefix(a, "--param-sark="):
			k, err := parseHexKey(strings.TrimPrefix(a, "--param-sark="))
			if err != nil {
				return req, err
			}
			req.sark = k
		case strings.HasPrefix(a, "--"):
			return req, fmt.Errorf("prsim: unknown flag %s", a)
		default:
			// device path
		}
	}
	if req.action == "" {
		return req, fmt.Errorf("prsim: no action requested")
	}
	return req, nil
}

func parseHexKey(raw string) (pr.Key, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("prsim: bad key %q", raw)
	}
	return pr.Key(v), nil
}

func conflict() runner.Result {
	return runner.Result{ExitCode: exitConflict, Stderr: []byte("PR out: command failed: Reservation conflict\n")}
}

func good() runner.Result {
	return runner.Result{Stdout: []byte("PR out: command completed\n")}
}

// register applies REGISTER or REGISTER AND IGNORE EXISTING KEY.
// checkRK enforces that the supplied reservation key matches the
// current registration exactly.
func (d *Device) register(initiator string, req request, checkRK bool) runner.Result {
	cur, registered := d.keys[initiator]
	if checkRK {
		if req.hasRK != registered || (registered && req.rk != cur) {
			return conflict()
		}
	}
	if req.sark == 0 {
		delete(d.keys, initiator)
		if d.holder == initiator {
			d.holder = ""
		}
	} else {
		d.keys[initiator] = req.sark
	}
	d.generation++
	return good()
}

func (d *Device) reserve(initiator string, req request) runner.Result {
	cur, registered := d.keys[initiator]
	if !registered || !req.hasRK || req.rk != cur {
		return conflict()
	}
	if d.holder != "" && d.holder != initiator {
		return conflict()
	}
	d.holder = initiator
	return good()
}

func (d *Device) release(initiator string, req request) runner.Result {
	cur, registered := d.keys[initiator]
	if !registered || !req.hasRK || req.rk != cur {
		return conflict()
	}
	// Release by a registrant that is not the holder is a no-op.
	if d.holder == initiator {
		d.holder = ""
	}
	return good()
}

func (d *Device) clear(initiator string, req request) runner.Result {
	cur, registered := d.keys[initiator]
	if !registered || !req.hasRK || req.rk != cur {
		return conflict()
	}
	others := d.otherPorts(initiator)
	d.keys = make(map[string]pr.Key)
	d.holder = ""
	d.generation++
	d.flagUA(others)
	return good()
}

func (d *Device) preempt(initiator string, req request) runner.Result {
	cur, registered := d.keys[initiator]
	if !registered || !req.hasRK || req.rk != cur {
		return conflict()
	}

	victimRegistered := false
	for _, k := range d.keys {
		if k == req.sark {
			victimRegistered = true
			break
		}
	}
	if !victimRegistered {
		return conflict()
	}

	others := d.otherPorts(initiator)
	holderPreempted := d.holder != "" && d.keys[d.holder] == req.sark
	for port, k := range d.keys {
		if k == req.sark && port != initiator {
			delete(d.keys, port)
		}
	}
	if holderPreempted {
		d.holder = initiator
	}
	d.generation++
	d.flagUA(others)
	return good()
}

func (d *Device) readKeys() runner.Result {
	var b strings.Builder
	fmt.Fprintf(&b, "  PR generation=0x%x", d.generation)
	if len(d.keys) == 0 {
		b.WriteString(", there are NO registered reservation keys\n")
		return runner.Result{Stdout: []byte(b.String())}
	}

	keys := make([]pr.Key, 0, len(d.keys))
	for _, k := range d.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fmt.Fprintf(&b, ", %d registered reservation keys follow:\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "    %s\n", k)
	}
	return runner.Result{Stdout: []byte(b.String())}
}

func (d *Device) readReservation() runner.Result {
	var b strings.Builder
	fmt.Fprintf(&b, "  PR generation=0x%x", d.generation)
	if d.holder == "" {
		b.WriteString(", there is NO reservation held\n")
		return runner.Result{Stdout: []byte(b.String())}
	}
	b.WriteString(", Reservation follows:\n")
	fmt.Fprintf(&b, "    Key=%s\n", d.keys[d.holder])
	b.WriteString("    scope: LU_SCOPE,  type: Write Exclusive, registrants only\n")
	return runner.Result{Stdout: []byte(b.String())}
}

// otherPorts snapshots every registered port except initiator, taken
// before a mutation so preempted/cleared ports still receive their
// unit attention.
func (d *Device) otherPorts(initiator string) []string {
	var ports []string
	for port := range d.keys {
		if port != initiator {
			ports = append(ports, port)
		}
	}
	return ports
}

func (d *Device) flagUA(ports []string) {
	if !d.InjectUnitAttentions {
		return
	}
	for _, port := range ports {
		d.pendingUA[port] = true
	}
}
