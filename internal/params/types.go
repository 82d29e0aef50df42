// Package params implements the MAVLink parameter service of spec.md
// §4.9: PARAM_REQUEST_LIST/PARAM_VALUE enumeration and PARAM_SET
// writes, using the same chunked-transfer shape internal/mission uses
// for mission items — the teacher never implements a parameter service,
// so this is built directly from spec.md §4.9 and §8's round-trip
// invariant, reusing internal/mission's Link-based request/response
// pattern.
package params

import "fmt"

// Param is one cached parameter value, keyed by its null-terminated
// 16-char ASCII id per spec.md §4.9.
type Param struct {
	ID    string
	Value float32
	Type  uint8
	Count uint16
	Index uint16
}

// idToWire encodes a parameter name into the fixed 16-byte wire field,
// null-terminated if shorter than 16 chars (per the MAVLink PARAM_*
// convention — not null-terminated at all if exactly 16 chars).
func idToWire(id string) [16]byte {
	var out [16]byte
	copy(out[:], id)
	return out
}

// idFromWire decodes the fixed 16-byte wire field back to a Go string,
// trimming at the first NUL (or using the full 16 bytes if unterminated).
func idFromWire(b [16]byte) string {
	n := len(b)
	for i, c := range b {
		if c == 0 {
			n = i
			break
		}
	}
	return string(b[:n])
}

// ErrTimeout is returned when a request/response round trip exceeds its
// deadline without a matching reply.
type ErrTimeout struct {
	Op string
}

func (e *ErrTimeout) Error() string { return fmt.Sprintf("params: timeout waiting for %s", e.Op) }
