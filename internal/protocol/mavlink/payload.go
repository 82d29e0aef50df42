package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// EncodePayload serialises a generated dialect message struct into its
// wire payload bytes. Field order in the struct must match the dialect's
// wire order (gomavlib's generated structs already declare fields that
// way), little-endian, fixed-size arrays encoded byte-for-byte.
//
// The reflection walk mirrors fiam-msp-tool's MSPFrame.Read: instead of a
// hand-written marshaller per message, one generic function walks struct
// fields by kind.
func EncodePayload(msg Message) ([]byte, error) {
	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("mavlink: encode payload: %T is not a struct", msg)
	}

	buf := make([]byte, 0, 64)
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanInterface() {
			continue
		}
		b, err := encodeField(f)
		if err != nil {
			return nil, fmt.Errorf("mavlink: encode field %s: %w", v.Type().Field(i).Name, err)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func encodeField(f reflect.Value) ([]byte, error) {
	switch f.Kind() {
	case reflect.Uint8:
		return []byte{byte(f.Uint())}, nil
	case reflect.Int8:
		return []byte{byte(int8(f.Int()))}, nil
	case reflect.Uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(f.Uint()))
		return b, nil
	case reflect.Int16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(f.Int())))
		return b, nil
	case reflect.Uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(f.Uint()))
		return b, nil
	case reflect.Int32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(f.Int()))
		return b, nil
	case reflect.Uint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, f.Uint())
		return b, nil
	case reflect.Int64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(f.Int()))
		return b, nil
	case reflect.Float32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f.Float())))
		return b, nil
	case reflect.Float64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(f.Float()))
		return b, nil
	case reflect.Array:
		buf := make([]byte, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			b, err := encodeField(f.Index(i))
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		return buf, nil
	case reflect.Slice:
		// Variable-length trailing fields (e.g. param_id char arrays
		// modelled as []byte) are encoded verbatim.
		buf := make([]byte, f.Len())
		reflect.Copy(reflect.ValueOf(buf), f)
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", f.Kind())
	}
}

// DecodePayload fills a generated dialect message struct from its raw
// wire payload, the reverse of EncodePayload. v2 truncates trailing zero
// payload bytes on the wire (see encoder.go), so this pads buf back out
// to the struct's full encoded size with zeros before decoding — the
// inverse of the truncation, applied here since this is the one place
// that knows the message's true shape.
func DecodePayload(buf []byte, msg Message) error {
	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("mavlink: decode payload: %T is not a pointer", msg)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("mavlink: decode payload: %T is not a struct pointer", msg)
	}

	if want := encodedSize(v); len(buf) < want {
		padded := make([]byte, want)
		copy(padded, buf)
		buf = padded
	}

	off := 0
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanSet() {
			continue
		}
		n, err := decodeField(buf, off, f)
		if err != nil {
			return fmt.Errorf("mavlink: decode field %s: %w", v.Type().Field(i).Name, err)
		}
		off += n
	}
	return nil
}

// encodedSize returns a struct value's fixed wire width, excluding any
// trailing variable-length slice field (which truncation never applies
// to — those are sized by what's actually on the wire).
func encodedSize(v reflect.Value) int {
	total := 0
	for i := 0; i < v.NumField(); i++ {
		total += fieldSize(v.Field(i))
	}
	return total
}

func fieldSize(f reflect.Value) int {
	switch f.Kind() {
	case reflect.Uint8, reflect.Int8:
		return 1
	case reflect.Uint16, reflect.Int16:
		return 2
	case reflect.Uint32, reflect.Int32, reflect.Float32:
		return 4
	case reflect.Uint64, reflect.Int64, reflect.Float64:
		return 8
	case reflect.Array:
		if f.Len() == 0 {
			return 0
		}
		return f.Len() * fieldSize(f.Index(0))
	case reflect.Slice:
		return 0
	default:
		return 0
	}
}

func decodeField(buf []byte, off int, f reflect.Value) (int, error) {
	need := func(n int) error {
		if off+n > len(buf) {
			return fmt.Errorf("payload too short: need %d more bytes at offset %d, have %d total", n, off, len(buf))
		}
		return nil
	}

	switch f.Kind() {
	case reflect.Uint8:
		if err := need(1); err != nil {
			return 0, err
		}
		f.SetUint(uint64(buf[off]))
		return 1, nil
	case reflect.Int8:
		if err := need(1); err != nil {
			return 0, err
		}
		f.SetInt(int64(int8(buf[off])))
		return 1, nil
	case reflect.Uint16:
		if err := need(2); err != nil {
			return 0, err
		}
		f.SetUint(uint64(binary.LittleEndian.Uint16(buf[off:])))
		return 2, nil
	case reflect.Int16:
		if err := need(2); err != nil {
			return 0, err
		}
		f.SetInt(int64(int16(binary.LittleEndian.Uint16(buf[off:]))))
		return 2, nil
	case reflect.Uint32:
		if err := need(4); err != nil {
			return 0, err
		}
		f.SetUint(uint64(binary.LittleEndian.Uint32(buf[off:])))
		return 4, nil
	case reflect.Int32:
		if err := need(4); err != nil {
			return 0, err
		}
		f.SetInt(int64(int32(binary.LittleEndian.Uint32(buf[off:]))))
		return 4, nil
	case reflect.Uint64:
		if err := need(8); err != nil {
			return 0, err
		}
		f.SetUint(binary.LittleEndian.Uint64(buf[off:]))
		return 8, nil
	case reflect.Int64:
		if err := need(8); err != nil {
			return 0, err
		}
		f.SetInt(int64(binary.LittleEndian.Uint64(buf[off:])))
		return 8, nil
	case reflect.Float32:
		if err := need(4); err != nil {
			return 0, err
		}
		f.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))))
		return 4, nil
	case reflect.Float64:
		if err := need(8); err != nil {
			return 0, err
		}
		f.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
		return 8, nil
	case reflect.Array:
		total := 0
		for i := 0; i < f.Len(); i++ {
			n, err := decodeField(buf, off+total, f.Index(i))
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	case reflect.Slice:
		// Remaining trailing bytes (param_id-style char slices).
		n := len(buf) - off
		if n < 0 {
			n = 0
		}
		dst := reflect.MakeSlice(f.Type(), n, n)
		reflect.Copy(dst, reflect.ValueOf(buf[off:]))
		f.Set(dst)
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported field kind %s", f.Kind())
	}
}
