package msp

type decoderState int

const (
	stateIdle decoderState = iota
	stateDollar
	stateDirection
	stateV1Len
	stateV1Code
	stateV1Payload
	stateV1CRC
	stateV2Flags
	stateV2CodeLo
	stateV2CodeHi
	stateV2LenLo
	stateV2LenHi
	stateV2Payload
	stateV2CRC
)

// Decoder turns an MSP byte stream into Frames one byte at a time.
// Malformed bytes outside a frame are reported via OnOutOfBand rather
// than treated as fatal, since the Link may share the wire with another
// protocol's bytes mid-stream.
type Decoder struct {
	state decoderState

	version int
	dir     Direction
	len     int
	code    uint16
	payload []byte

	v1Hdr []byte // len,code accumulated for the XOR checksum
	v2Hdr []byte // flags,codeLo,codeHi,lenLo,lenHi accumulated for CRC8

	OnOutOfBand func(b byte)
	OnChecksumError func(err *ChecksumError)
}

// NewDecoder returns a Decoder ready to Feed.
func NewDecoder() *Decoder {
	return &Decoder{state: stateIdle}
}

// Feed consumes one byte and returns zero or one completed Frame.
func (d *Decoder) Feed(b byte) []Frame {
	switch d.state {
	case stateIdle:
		if b == '$' {
			d.state = stateDollar
		} else if d.OnOutOfBand != nil {
			d.OnOutOfBand(b)
		}
		return nil
	case stateDollar:
		switch b {
		case 'M':
			d.version = 1
			d.state = stateDirection
		case 'X':
			d.version = 2
			d.state = stateDirection
		default:
			d.reset()
			if d.OnOutOfBand != nil {
				d.OnOutOfBand(b)
			}
		}
		return nil
	case stateDirection:
		d.dir = Direction(b)
		if d.version == 1 {
			d.state = stateV1Len
		} else {
			d.v2Hdr = nil
			d.state = stateV2Flags
		}
		return nil

	case stateV1Len:
		d.len = int(b)
		d.v1Hdr = []byte{b}
		d.state = stateV1Code
		return nil
	case stateV1Code:
		d.code = uint16(b)
		d.v1Hdr = append(d.v1Hdr, b)
		if d.len == 0 {
			d.state = stateV1CRC
		} else {
			d.payload = make([]byte, 0, d.len)
			d.state = stateV1Payload
		}
		return nil
	case stateV1Payload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.len {
			d.state = stateV1CRC
		}
		return nil
	case stateV1CRC:
		want := xorChecksum(append(append([]byte{}, d.v1Hdr...), d.payload...))
		if want != b {
			if d.OnChecksumError != nil {
				d.OnChecksumError(&ChecksumError{Code: d.code, Payload: d.payload, Got: b, Expected: want})
			}
			d.reset()
			return nil
		}
		return d.finish()

	case stateV2Flags:
		d.v2Hdr = append(d.v2Hdr, b)
		d.state = stateV2CodeLo
		return nil
	case stateV2CodeLo:
		d.v2Hdr = append(d.v2Hdr, b)
		d.code = uint16(b)
		d.state = stateV2CodeHi
		return nil
	case stateV2CodeHi:
		d.v2Hdr = append(d.v2Hdr, b)
		d.code |= uint16(b) << 8
		d.state = stateV2LenLo
		return nil
	case stateV2LenLo:
		d.v2Hdr = append(d.v2Hdr, b)
		d.len = int(b)
		d.state = stateV2LenHi
		return nil
	case stateV2LenHi:
		d.v2Hdr = append(d.v2Hdr, b)
		d.len |= int(b) << 8
		if d.len == 0 {
			d.state = stateV2CRC
		} else {
			d.payload = make([]byte, 0, d.len)
			d.state = stateV2Payload
		}
		return nil
	case stateV2Payload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.len {
			d.state = stateV2CRC
		}
		return nil
	case stateV2CRC:
		want := crc8DvbS2Buf(append(append([]byte{}, d.v2Hdr...), d.payload...))
		if want != b {
			if d.OnChecksumError != nil {
				d.OnChecksumError(&ChecksumError{Code: d.code, Payload: d.payload, Got: b, Expected: want})
			}
			d.reset()
			return nil
		}
		return d.finish()
	}

	d.reset()
	return nil
}

func (d *Decoder) finish() []Frame {
	f := Frame{Version: d.version, Direction: d.dir, Code: d.code, Payload: d.payload}
	d.reset()
	return []Frame{f}
}

func (d *Decoder) reset() {
	d.state = stateIdle
	d.payload = nil
	d.v1Hdr = nil
	d.v2Hdr = nil
	d.len = 0
}
