package mavlink

// decoderState names the byte-state-machine states from spec.md §4.2:
// START → LEN → (INCOMPAT → COMPAT)? → SEQ → SYS → COMP → MSGID(1 or 3
// bytes) → PAYLOAD[len] → CRC_LO → CRC_HI → (SIGNATURE[13])?
type decoderState int

const (
	stateStart decoderState = iota
	stateLen
	stateIncompat
	stateCompat
	stateSeq
	stateSysID
	stateCompID
	stateMsgID
	statePayload
	stateCRCLo
	stateCRCHi
	stateSignature
)

// Decoder turns a byte stream into Frames, one byte at a time. A
// malformed frame — bad CRC, truncated stream — resets to START and
// resumes scanning for the next magic byte, matching spec.md's "any byte
// mismatch resets to START" rule (CRC mismatch is treated the same way:
// it's reported via onCrcError, not returned as a Frame).
type Decoder struct {
	state decoderState

	version    int
	payloadLen int
	incompat   byte
	seq        byte
	sysID      byte
	compID     byte
	msgID      uint32
	msgIDBytes int // how many msgid bytes read so far (v2 has 3, v1 has 1)

	payload []byte
	crcBuf  []byte // header+payload bytes accumulated for the CRC, minus the magic byte
	sigBuf  []byte

	// onCrcError, when set, is invoked (msgID) for a frame whose CRC
	// didn't validate, so the link can surface a CrcError event without
	// treating it as fatal.
	OnCrcError func(msgID uint32)
}

// NewDecoder returns a Decoder ready to Feed.
func NewDecoder() *Decoder {
	return &Decoder{state: stateStart}
}

// Feed consumes one byte and returns zero or one completed Frame. The
// slice return (rather than a single *Frame) keeps the call signature
// uniform with the MSP decoder, which can occasionally complete more than
// nothing in a single byte in degenerate cases; for MAVLink it is always
// 0 or 1 frames.
func (d *Decoder) Feed(b byte) []Frame {
	switch d.state {
	case stateStart:
		return d.feedStart(b)
	case stateLen:
		d.payloadLen = int(b)
		d.crcBuf = append(d.crcBuf, b)
		if d.version == 2 {
			d.state = stateIncompat
		} else {
			d.state = stateSeq
		}
		return nil
	case stateIncompat:
		d.incompat = b
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateCompat
		return nil
	case stateCompat:
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateSeq
		return nil
	case stateSeq:
		d.seq = b
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateSysID
		return nil
	case stateSysID:
		d.sysID = b
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateCompID
		return nil
	case stateCompID:
		d.compID = b
		d.crcBuf = append(d.crcBuf, b)
		d.state = stateMsgID
		d.msgID = 0
		d.msgIDBytes = 0
		return nil
	case stateMsgID:
		d.crcBuf = append(d.crcBuf, b)
		d.msgID |= uint32(b) << (8 * d.msgIDBytes)
		d.msgIDBytes++
		want := 1
		if d.version == 2 {
			want = 3
		}
		if d.msgIDBytes == want {
			if d.payloadLen == 0 {
				d.state = stateCRCLo
			} else {
				d.payload = make([]byte, 0, d.payloadLen)
				d.state = statePayload
			}
		}
		return nil
	case statePayload:
		d.payload = append(d.payload, b)
		d.crcBuf = append(d.crcBuf, b)
		if len(d.payload) == d.payloadLen {
			d.state = stateCRCLo
		}
		return nil
	case stateCRCLo:
		d.sigBuf = []byte{b}
		d.state = stateCRCHi
		return nil
	case stateCRCHi:
		return d.finishCRC(append(d.sigBuf, b))
	case stateSignature:
		d.sigBuf = append(d.sigBuf, b)
		if len(d.sigBuf) == signatureLen {
			return d.finishFrame(d.buildSignature())
		}
		return nil
	}
	d.reset()
	return nil
}

func (d *Decoder) feedStart(b byte) []Frame {
	switch b {
	case magicV1:
		d.reset()
		d.version = 1
		d.state = stateLen
	case magicV2:
		d.reset()
		d.version = 2
		d.state = stateLen
	}
	return nil
}

func (d *Decoder) finishCRC(crcBytes []byte) []Frame {
	wireCRC := uint16(crcBytes[0]) | uint16(crcBytes[1])<<8

	extra, known := crcExtra(d.msgID)
	sum := newX25CRC()
	sum.accumulateBuf(d.crcBuf)
	if known {
		sum.accumulate(extra)
	}

	if known && sum.crc != wireCRC {
		if d.OnCrcError != nil {
			d.OnCrcError(d.msgID)
		}
		d.reset()
		return nil
	}

	if d.version == 2 && d.incompat&incompatFlagSigned != 0 {
		d.sigBuf = nil
		d.state = stateSignature
		return nil
	}

	return d.finishFrame(nil)
}

func (d *Decoder) buildSignature() *Signature {
	sig := &Signature{LinkID: d.sigBuf[0]}
	ts := uint64(0)
	for i := 6; i >= 1; i-- {
		ts = ts<<8 | uint64(d.sigBuf[i])
	}
	sig.Timestamp = ts
	copy(sig.Value[:], d.sigBuf[7:13])
	return sig
}

func (d *Decoder) finishFrame(sig *Signature) []Frame {
	f := Frame{
		Version: d.version,
		Seq:     d.seq,
		SysID:   d.sysID,
		CompID:  d.compID,
		MsgID:   d.msgID,
		Payload: d.payload,
		Sig:     sig,
	}
	d.reset()
	return []Frame{f}
}

func (d *Decoder) reset() {
	d.state = stateStart
	d.payload = nil
	d.crcBuf = nil
	d.sigBuf = nil
	d.payloadLen = 0
	d.msgIDBytes = 0
}
