// Package mavlink implements the MAVLink v1/v2 wire codec: framing, the
// X.25/crcExtra checksum, payload truncation, and HMAC-SHA-256 signing.
// Message payload shapes (field names, order, sizes) are borrowed from
// github.com/bluenviron/gomavlib/v3/pkg/dialects/common so they match the
// official dialect exactly; only the envelope around that payload is
// hand-rolled here.
package mavlink

import "fmt"

const (
	magicV1 byte = 0xFE
	magicV2 byte = 0xFD

	incompatFlagSigned byte = 0x01

	signatureLen = 13
)

// Message is satisfied by every generated dialect struct
// (gomavlib/pkg/dialects/common.MessageHeartbeat and friends all expose
// GetID per the mavlink codegen convention).
type Message interface {
	GetID() uint32
}

// Signature is the 13-byte MAVLink v2 signing trailer.
type Signature struct {
	LinkID    uint8
	Timestamp uint64 // 48-bit, microseconds since 2015-01-01 per spec
	Value     [6]byte
}

// Frame is one fully decoded MAVLink frame, version-agnostic. Payload is
// the payload bytes as received, so a v2 frame's trailing zeros are still
// truncated here; DecodePayload pads them back when filling a struct.
type Frame struct {
	Version int // 1 or 2
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint32
	Payload []byte
	Sig     *Signature
}

// ErrUnknownMessage reports a MsgID that has no registered
// crcExtra/shape — the frame itself is still delivered to
// subscribers with its raw payload per spec.md §3, it just can't be
// decoded into a typed struct.
type ErrUnknownMessage struct {
	MsgID uint32
}

func (e *ErrUnknownMessage) Error() string {
	return fmt.Sprintf("mavlink: unknown message id %d", e.MsgID)
}
