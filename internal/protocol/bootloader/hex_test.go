package bootloader

import (
	"strings"
	"testing"
)

func TestReadIntelHexSimple(t *testing.T) {
	// Two data lines at 0x0000 and 0x0004, then EOF.
	src := ":04000000DEADBEEFC4\n:04000400CAFEBABEB8\n:00000001FF\n"
	segs, err := ReadIntelHex(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadIntelHex: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected adjacent records to merge into 1 segment, got %d", len(segs))
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE}
	if segs[0].Address != 0 || string(segs[0].Data) != string(want) {
		t.Fatalf("got %+v", segs[0])
	}
}

func TestReadIntelHexBadChecksum(t *testing.T) {
	src := ":04000000DEADBEEF00\n:00000001FF\n"
	if _, err := ReadIntelHex(strings.NewReader(src)); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestReadIntelHexExtendedLinearAddress(t *testing.T) {
	src := ":020000040800F2\n:04000000DEADBEEFC4\n:00000001FF\n"
	segs, err := ReadIntelHex(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadIntelHex: %v", err)
	}
	if len(segs) != 1 || segs[0].Address != 0x08000000 {
		t.Fatalf("got %+v, want address 0x08000000", segs)
	}
}

func TestReadIntelHexMissingEOF(t *testing.T) {
	src := ":04000000DEADBEEFC4\n"
	if _, err := ReadIntelHex(strings.NewReader(src)); err == nil {
		t.Fatalf("expected missing-EOF error")
	}
}
