// Package msp implements the MultiWii Serial Protocol v1 and v2 framing
// used to talk to Betaflight/iNav flight controllers: `$M<`/`$M>` with an
// XOR checksum for v1, `$X<`/`$X>` with a CRC-8/DVB-S2 checksum for v2.
//
// Framing is grounded on fiam-msp-tool/msp.go's mspV1Encode/mspV2Encode/
// readMSPV1Frame/readMSPV2Frame, generalised from that tool's synchronous
// "block until one frame arrives" read loop into an incremental
// Decoder.Feed(byte) state machine so the Link can interleave MSP bytes
// with MAVLink bytes on the same goroutine.
package msp

import "fmt"

// Direction is the `<` (to FC) or `>` (from FC) byte in the header.
type Direction byte

const (
	DirToFC   Direction = '<'
	DirFromFC Direction = '>'
)

// Frame is one fully decoded MSP frame, v1 or v2.
type Frame struct {
	Version   int
	Direction Direction
	Code      uint16
	Payload   []byte
}

// ChecksumError reports a frame whose trailing checksum byte didn't
// match, mirroring fiam-msp-tool's mspChecksumErr.
type ChecksumError struct {
	Code     uint16
	Payload  []byte
	Got      byte
	Expected byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("msp: invalid checksum 0x%02x, expected 0x%02x for code %d", e.Got, e.Expected, e.Code)
}

// OutOfBandError reports a byte received while not inside a frame that
// wasn't the `$` frame-start marker — mirroring fiam-msp-tool's
// mspOOBErr, which the original tool treated as fatal; this decoder just
// discards it and keeps scanning, since the Link may be interleaving
// other protocols' bytes on the same wire.
type OutOfBandError struct {
	Byte byte
}

func (e *OutOfBandError) Error() string {
	return fmt.Sprintf("msp: out-of-band byte 0x%02x", e.Byte)
}
