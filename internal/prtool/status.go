package prtool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/prex/internal/pr"
)

var (
	// ErrUnitAttention is the only retryable tool condition: the device
	// reported a transient state change the initiator must acknowledge.
	ErrUnitAttention = errors.New("prtool: unit attention")
	// ErrTool covers every other non-success tool return.
	ErrTool = errors.New("prtool: tool invocation failed")
	// ErrBadOutput marks tool output that matches none of the
	// documented patterns.
	ErrBadOutput = errors.New("prtool: unrecognized tool output")
)

// Reservation is the reported reservation: the holding key and the
// tool's type wording, kept verbatim for log surfacing.
type Reservation struct {
	Key  pr.Key
	Type string
}

// Status is the typed view of what the storage stack reports: the set
// of registered keys and the reservation, if any.
type Status struct {
	Keys        []pr.Key
	Reservation *Reservation
}

// HasKey reports whether k appears among the registered keys.
func (s Status) HasKey(k pr.Key) bool {
	for _, key := range s.Keys {
		if key == k {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	keys := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		keys = append(keys, k.String())
	}
	res := "none"
	if s.Reservation != nil {
		res = s.Reservation.Key.String()
	}
	return fmt.Sprintf("keys=[%s] reservation=%s", strings.Join(keys, " "), res)
}
