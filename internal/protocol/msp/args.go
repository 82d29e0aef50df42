package msp

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// EncodeArgs serialises a list of primitive values, structs, or slices
// into an MSP payload, little-endian, in declaration order. Grounded
// directly on fiam-msp-tool/msp.go's MSP.encodeArgs.
func EncodeArgs(args ...any) ([]byte, error) {
	var buf []byte
	for _, arg := range args {
		b, err := encodeArg(arg)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func encodeArg(arg any) ([]byte, error) {
	switch x := arg.(type) {
	case uint8:
		return []byte{x}, nil
	case uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, x)
		return b, nil
	case uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, x)
		return b, nil
	case int8:
		return []byte{byte(x)}, nil
	case int16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(x))
		return b, nil
	case int32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(x))
		return b, nil
	case []byte:
		return x, nil
	}

	v := reflect.ValueOf(arg)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		var buf []byte
		for i := 0; i < v.Len(); i++ {
			b, err := encodeArg(v.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		return buf, nil
	case reflect.Struct:
		var buf []byte
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			b, err := encodeArg(v.Field(i).Interface())
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("msp: can't encode value of type %T", arg)
}

// PayloadReader walks a Frame's payload field by field, the decode-side
// counterpart of EncodeArgs. Grounded on fiam-msp-tool/msp.go's
// MSPFrame.Read.
type PayloadReader struct {
	payload []byte
	pos     int
}

// NewPayloadReader wraps payload for sequential field reads.
func NewPayloadReader(payload []byte) *PayloadReader {
	return &PayloadReader{payload: payload}
}

// Remaining reports how many unread payload bytes are left.
func (r *PayloadReader) Remaining() int {
	return len(r.payload) - r.pos
}

// Read decodes the next field into out, which must be a pointer to a
// uint8/uint16/uint32, a struct of such fields, or a slice of such.
func (r *PayloadReader) Read(out any) error {
	switch x := out.(type) {
	case *uint8:
		if r.Remaining() < 1 {
			return io.EOF
		}
		*x = r.payload[r.pos]
		r.pos++
		return nil
	case *int8:
		if r.Remaining() < 1 {
			return io.EOF
		}
		*x = int8(r.payload[r.pos])
		r.pos++
		return nil
	case *uint16:
		if r.Remaining() < 2 {
			return io.EOF
		}
		*x = binary.LittleEndian.Uint16(r.payload[r.pos:])
		r.pos += 2
		return nil
	case *int16:
		if r.Remaining() < 2 {
			return io.EOF
		}
		*x = int16(binary.LittleEndian.Uint16(r.payload[r.pos:]))
		r.pos += 2
		return nil
	case *uint32:
		if r.Remaining() < 4 {
			return io.EOF
		}
		*x = binary.LittleEndian.Uint32(r.payload[r.pos:])
		r.pos += 4
		return nil
	case *int32:
		if r.Remaining() < 4 {
			return io.EOF
		}
		*x = int32(binary.LittleEndian.Uint32(r.payload[r.pos:]))
		r.pos += 4
		return nil
	}

	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("msp: Read target must be a pointer, got %T", out)
	}
	elem := v.Elem()
	switch elem.Kind() {
	case reflect.Struct:
		for i := 0; i < elem.NumField(); i++ {
			if err := r.Read(elem.Field(i).Addr().Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		for i := 0; i < elem.Len(); i++ {
			if err := r.Read(elem.Index(i).Addr().Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		for i := 0; i < elem.Len(); i++ {
			if err := r.Read(elem.Index(i).Addr().Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("msp: can't decode payload into type %T", out)
}

// RemainingBytes consumes and returns whatever bytes are left, for
// variable-length trailing fields (e.g. MSP_NAME's string payload).
func (r *PayloadReader) RemainingBytes() []byte {
	b := r.payload[r.pos:]
	r.pos = len(r.payload)
	return b
}
