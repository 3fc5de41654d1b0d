package prtool

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danmuck/prex/internal/pr"
)

const sgReadKeysOut = `  LIO-ORG   test-vol        4.0
  Peripheral device type: disk
  PR generation=0x7, 2 registered reservation keys follow:
    0x123abc
    0x1
`

const sgReadKeysEmpty = `  LIO-ORG   test-vol        4.0
  Peripheral device type: disk
  PR generation=0x2, there are NO registered reservation keys
`

const mpathReadReservationOut = `  PR generation=0x7, Reservation follows:
   Key = 0x123abc
  scope = LU_SCOPE, type = Write Exclusive, registrants only
`

const sgReadReservationOut = `  LIO-ORG   test-vol        4.0
  Peripheral device type: disk
  PR generation=0x7, Reservation follows:
    Key=0x123abc
    scope: LU_SCOPE,  type: Write Exclusive, registrants only
`

const sgReadReservationEmpty = `  LIO-ORG   test-vol        4.0
  Peripheral device type: disk
  PR generation=0x7, there is NO reservation held
`

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys(sgReadKeysOut)
	if err != nil {
		t.Fatalf("parse keys: %v", err)
	}
	want := []pr.Key{0x123abc, 0x1}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("unexpected key list (-want +got):\n%s", diff)
	}
}

func TestParseKeysEmptySentinel(t *testing.T) {
	keys, err := ParseKeys(sgReadKeysEmpty)
	if err != nil {
		t.Fatalf("parse keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestParseKeysRejectsUnrecognizedOutput(t *testing.T) {
	if _, err := ParseKeys("something unexpected entirely"); err == nil {
		t.Fatalf("expected bad-output error")
	}
}

func TestParseReservation(t *testing.T) {
	for name, out := range map[string]string{"sg_persist": sgReadReservationOut, "mpathpersist": mpathReadReservationOut} {
		res, err := ParseReservation(out)
		if err != nil {
			t.Fatalf("%s: parse reservation: %v", name, err)
		}
		if res == nil {
			t.Fatalf("%s: expected a reservation", name)
		}
		if res.Key != 0x123abc {
			t.Fatalf("%s: expected key 0x123abc, got %s", name, res.Key)
		}
	}
}

func TestParseReservationType(t *testing.T) {
	res, err := ParseReservation(sgReadReservationOut)
	if err != nil {
		t.Fatalf("parse reservation: %v", err)
	}
	if res.Type != "Write Exclusive, registrants only" {
		t.Fatalf("unexpected type wording %q", res.Type)
	}
}

func TestParseReservationEmptySentinel(t *testing.T) {
	res, err := ParseReservation(sgReadReservationEmpty)
	if err != nil {
		t.Fatalf("parse reservation: %v", err)
	}
	if res != nil {
		t.Fatalf("expected no reservation, got key %s", res.Key)
	}
}

func TestIsUnitAttention(t *testing.T) {
	if !isUnitAttention(6, "") {
		t.Fatalf("exit status 6 must classify as unit attention")
	}
	if !isUnitAttention(1, "PR out: aborted command, Unit attention") {
		t.Fatalf("unit attention wording must classify regardless of exit code")
	}
	if isUnitAttention(1, "PR out: reservation conflict") {
		t.Fatalf("reservation conflict is not retryable")
	}
}
