package msp

import (
	"bytes"
	"testing"
)

func feedAll(d *Decoder, buf []byte) []Frame {
	var frames []Frame
	for _, b := range buf {
		frames = append(frames, d.Feed(b)...)
	}
	return frames
}

func TestV1RoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	wire := EncodeV1(DirToFC, byte(SetRawRC), payload)

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Version != 1 || f.Code != uint16(SetRawRC) || !bytes.Equal(f.Payload, payload) {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestV2RoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	wire := EncodeV2(DirFromFC, SetInavPlatformType, payload)

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Version != 2 || f.Code != SetInavPlatformType || !bytes.Equal(f.Payload, payload) {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestV1ZeroLengthPayload(t *testing.T) {
	wire := EncodeV1(DirToFC, byte(APIVersion), nil)

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if len(frames[0].Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", frames[0].Payload)
	}
}

func TestBadChecksumReported(t *testing.T) {
	wire := EncodeV1(DirToFC, byte(APIVersion), []byte{1, 2, 3})
	wire[len(wire)-1] ^= 0xFF

	var got *ChecksumError
	d := NewDecoder()
	d.OnChecksumError = func(err *ChecksumError) { got = err }

	frames := feedAll(d, wire)
	if len(frames) != 0 {
		t.Fatalf("corrupted frame must not be delivered")
	}
	if got == nil {
		t.Fatalf("expected a checksum error callback")
	}
}

func TestByteAtATimeMatchesWholeSliceFeed(t *testing.T) {
	wire := EncodeV2(DirToFC, ModeRanges, []byte{1, 2, 3, 4, 5})

	a := NewDecoder()
	var got1 []Frame
	for _, b := range wire {
		got1 = append(got1, a.Feed(b)...)
	}

	b := NewDecoder()
	got2 := feedAll(b, wire)

	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("expected exactly 1 frame from each strategy, got %d and %d", len(got1), len(got2))
	}
	if got1[0].Code != got2[0].Code || !bytes.Equal(got1[0].Payload, got2[0].Payload) {
		t.Fatalf("frames diverged: %+v vs %+v", got1[0], got2[0])
	}
}

func TestOutOfBandByteReported(t *testing.T) {
	var oob byte
	d := NewDecoder()
	d.OnOutOfBand = func(b byte) { oob = b }
	d.Feed(0x7E)
	if oob != 0x7E {
		t.Fatalf("expected out-of-band callback for 0x7E, got 0x%02x", oob)
	}
}

func TestArgsRoundTrip(t *testing.T) {
	type setRawRC struct {
		Roll, Pitch, Throttle, Yaw uint16
	}
	in := setRawRC{Roll: 1500, Pitch: 1500, Throttle: 1000, Yaw: 1500}

	payload, err := EncodeArgs(in)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}

	var out setRawRC
	if err := NewPayloadReader(payload).Read(&out); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}
