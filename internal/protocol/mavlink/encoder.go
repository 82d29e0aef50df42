package mavlink

// EncodeV1 serialises msg as a MAVLink v1 frame. seq/sysID/compID are the
// Link's responsibility, not the codec's, per spec.md §4.2.
func EncodeV1(msg Message, seq, sysID, compID uint8) ([]byte, error) {
	payload, err := EncodePayload(msg)
	if err != nil {
		return nil, err
	}
	msgID := msg.GetID()

	out := make([]byte, 0, 8+len(payload)+2)
	out = append(out, magicV1, byte(len(payload)), seq, sysID, compID, byte(msgID))
	out = append(out, payload...)

	sum := newX25CRC()
	sum.accumulateBuf(out[1:])
	if extra, ok := crcExtra(msgID); ok {
		sum.accumulate(extra)
	}
	out = append(out, byte(sum.crc&0xFF), byte(sum.crc>>8))
	return out, nil
}

// EncodeV2Options controls optional v2 features.
type EncodeV2Options struct {
	Signing *SigningPolicy
	LinkID  uint8
}

// EncodeV2 serialises msg as a MAVLink v2 frame: trailing zero payload
// bytes are stripped before the CRC is computed (truncation is a wire
// optimisation only — DecodePayload pads a short payload back out to the
// expected struct size before decoding).
func EncodeV2(msg Message, seq, sysID, compID uint8, opts EncodeV2Options) ([]byte, error) {
	payload, err := EncodePayload(msg)
	if err != nil {
		return nil, err
	}
	msgID := msg.GetID()
	payload = truncateTrailingZeros(payload)

	var incompat byte
	if opts.Signing != nil {
		incompat |= incompatFlagSigned
	}

	out := make([]byte, 0, 10+len(payload)+2+signatureLen)
	out = append(out, magicV2, byte(len(payload)), incompat, 0 /* compat */, seq, sysID, compID)
	out = append(out, byte(msgID), byte(msgID>>8), byte(msgID>>16))
	out = append(out, payload...)

	sum := newX25CRC()
	sum.accumulateBuf(out[1:])
	if extra, ok := crcExtra(msgID); ok {
		sum.accumulate(extra)
	}
	out = append(out, byte(sum.crc&0xFF), byte(sum.crc>>8))

	if opts.Signing != nil {
		out = opts.Signing.sign(out, opts.LinkID)
	}
	return out, nil
}

// truncateTrailingZeros removes trailing zero bytes from a v2 payload,
// matching what a real dialect's generated serialiser does on the wire;
// this codec just has to reproduce the same trimmed output, not decide
// it.
func truncateTrailingZeros(payload []byte) []byte {
	end := len(payload)
	for end > 0 && payload[end-1] == 0 {
		end--
	}
	return payload[:end]
}
