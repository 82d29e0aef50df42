package mavlink

import "testing"

func TestV1RoundTrip(t *testing.T) {
	msg := testHeartbeat{CustomMode: 4, Type: 2, Autopilot: 3, BaseMode: 0x80, SystemStatus: 4, MavlinkVers: 3}
	wire, err := EncodeV1(msg, 7, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	f := frames[0]
	if f.Version != 1 || f.MsgID != 0 || f.Seq != 7 {
		t.Fatalf("unexpected frame header: %+v", f)
	}

	var got testHeartbeat
	if err := DecodePayload(f.Payload, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got != msg {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestV2RoundTripWithTruncation(t *testing.T) {
	// Roll/Pitch/Yaw 0 but TimeBootMs nonzero forces a short trailing
	// zero run that the encoder must strip and the decoder must restore.
	msg := testAttitude{TimeBootMs: 1234}
	wire, err := EncodeV2(msg, 1, 1, 1, EncodeV2Options{})
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	f := frames[0]
	if f.Version != 2 || f.MsgID != 30 {
		t.Fatalf("unexpected frame header: %+v", f)
	}
	if len(f.Payload) >= 28 {
		t.Fatalf("expected truncated payload shorter than full 28 bytes, got %d", len(f.Payload))
	}

	var got testAttitude
	if err := DecodePayload(f.Payload, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got != msg {
		t.Fatalf("got %+v, want %+v", got, msg)
	}
}

func TestByteAtATimeMatchesWholeSliceFeed(t *testing.T) {
	msg := testHeartbeat{CustomMode: 99, Type: 1, Autopilot: 1, BaseMode: 1, SystemStatus: 1, MavlinkVers: 3}
	wire, err := EncodeV1(msg, 1, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}

	byteAtATime := NewDecoder()
	var got1 []Frame
	for _, b := range wire {
		got1 = append(got1, byteAtATime.Feed(b)...)
	}

	wholeSlice := NewDecoder()
	var got2 []Frame
	for _, b := range wire {
		fr := wholeSlice.Feed(b)
		got2 = append(got2, fr...)
	}

	if len(got1) != len(got2) || len(got1) != 1 {
		t.Fatalf("expected both feeding strategies to yield exactly 1 frame, got %d and %d", len(got1), len(got2))
	}
	if got1[0].MsgID != got2[0].MsgID || got1[0].Seq != got2[0].Seq {
		t.Fatalf("frames diverged: %+v vs %+v", got1[0], got2[0])
	}
}

func TestGarbagePrefixResyncsToNextFrame(t *testing.T) {
	msg := testHeartbeat{Type: 1}
	wire, err := EncodeV1(msg, 1, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}

	d := NewDecoder()
	noise := []byte{0x00, 0x01, 0xAA, 0xFF}
	frames := feedAll(d, append(noise, wire...))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 (noise must not desync the state machine permanently)", len(frames))
	}
}

func TestBadCRCDropsFrameAndReportsError(t *testing.T) {
	msg := testHeartbeat{Type: 1}
	wire, err := EncodeV1(msg, 1, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	wire[len(wire)-1] ^= 0xFF // corrupt CRC high byte

	var reportedID uint32
	var reported bool
	d := NewDecoder()
	d.OnCrcError = func(msgID uint32) {
		reported = true
		reportedID = msgID
	}

	frames := feedAll(d, wire)
	if len(frames) != 0 {
		t.Fatalf("corrupted frame must not be delivered, got %d frames", len(frames))
	}
	if !reported || reportedID != 0 {
		t.Fatalf("expected a CRC error callback for msgID 0, got reported=%v id=%d", reported, reportedID)
	}
}

func TestUnknownMessageIDStillDelivered(t *testing.T) {
	// msgID 9999 has no crcExtra entry; spec.md §4.2 requires it still
	// reach the broadcaster with a raw payload.
	unknown := rawMessage{id: 9999, payload: []byte{1, 2, 3, 4}}
	wire, err := EncodeV2(unknown, 1, 1, 1, EncodeV2Options{})
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}

	d := NewDecoder()
	frames := feedAll(d, wire)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].MsgID != 9999 {
		t.Fatalf("got msgID %d, want 9999", frames[0].MsgID)
	}
}

// rawMessage lets a test construct a frame with an arbitrary, possibly
// unregistered, message id without defining a full struct for it.
type rawMessage struct {
	id      uint32
	payload []byte
}

func (r rawMessage) GetID() uint32 { return r.id }
