package prtool

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/danmuck/prex/internal/pr"
)

// Documented output patterns. sg_persist prints reservation keys as
// "Key=0x..." and key lists as bare hex lines; mpathpersist spells the
// same facts with "Key = 0x...". Both sentinel phrasings for the empty
// cases are accepted.
var (
	keyLinePattern  = regexp.MustCompile(`(?i)^\s*(?:Key\s*=\s*)?(0x[0-9a-f]+)\s*$`)
	typeLinePattern = regexp.MustCompile(`(?i)type:\s*(.+?)\s*$`)
	noKeysPattern   = regexp.MustCompile(`(?i)no (?:keys registered|registered reservation keys?)`)
	noResPattern    = regexp.MustCompile(`(?i)no reservation held`)
	uaPattern       = regexp.MustCompile(`(?i)unit attention`)
)

// unitAttentionExit is the tool's dedicated exit status for the
// transient condition (sg3_utils SG_LIB_CAT_UNIT_ATTENTION).
const unitAttentionExit = 6

// ParseKeys extracts the registered key list from read-keys output.
func ParseKeys(out string) ([]pr.Key, error) {
	if noKeysPattern.MatchString(out) {
		return nil, nil
	}

	var keys []pr.Key
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		m := keyLinePattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		k, err := parseKey(m[1])
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: read-keys reported neither keys nor the empty sentinel", ErrBadOutput)
	}
	return keys, nil
}

// ParseReservation extracts the reservation report, nil when the tool
// states none is held.
func ParseReservation(out string) (*Reservation, error) {
	if noResPattern.MatchString(out) {
		return nil, nil
	}

	res := &Reservation{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyLinePattern.FindStringSubmatch(line); m != nil && res.Key == 0 {
			k, err := parseKey(m[1])
			if err != nil {
				return nil, err
			}
			res.Key = k
		}
		if m := typeLinePattern.FindStringSubmatch(line); m != nil {
			res.Type = m[1]
		}
	}
	if res.Key == 0 {
		return nil, fmt.Errorf("%w: read-reservation reported neither a key nor the empty sentinel", ErrBadOutput)
	}
	return res, nil
}

func parseKey(hex string) (pr.Key, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(hex), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad key %q: %v", ErrBadOutput, hex, err)
	}
	return pr.Key(v), nil
}

// isUnitAttention classifies a tool result as the retryable transient
// condition, by exit status or by wording.
func isUnitAttention(exitCode int, combined string) bool {
	if exitCode == unitAttentionExit {
		return true
	}
	return uaPattern.MatchString(combined)
}
