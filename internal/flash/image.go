package flash

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flightpath-dev/flightcore/internal/protocol/bootloader"
)

// ParsedImage is the Verifying stage's normalised output: one flat byte
// buffer destined for BaseAddress, whatever the on-disk format. For
// .hex files with internal gaps the buffer is padded with 0xFF (the
// erased-flash value) rather than split, since every flasher backend
// this package drives (STM32 WRITE_MEMORY, dfu-util, avrdude) wants one
// contiguous region per invocation.
type ParsedImage struct {
	Data        []byte
	BaseAddress uint32
	BoardID     int
	HasBoardID  bool
}

// px4Document mirrors ArduPilot's .apj JSON wrapper shape (apjDocument
// in internal/protocol/bootloader/apj.go) — PX4's own .px4 upload format
// is the same JSON-with-embedded-image convention that format was
// grounded on, except the image field is plain base64 with no gzip
// layer in most PX4 firmware builds. Both are tried.
type px4Document struct {
	Image   string `json:"image"`
	BoardID int    `json:"board_id"`
}

// ParseImage reads path and produces a ParsedImage, dispatching on
// extension per spec.md §4.8's Verifying stage: .apj (ArduPilot), .hex
// (Intel HEX, Betaflight/iNav), .bin (raw), .px4 (PX4).
func ParseImage(path string, baseAddress uint32) (*ParsedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flash: open image: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".apj":
		return parseApj(f, baseAddress)
	case ".px4":
		return parsePx4(f, baseAddress)
	case ".hex":
		return parseHex(f)
	case ".bin":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("flash: read .bin image: %w", err)
		}
		return &ParsedImage{Data: data, BaseAddress: baseAddress}, nil
	default:
		return nil, fmt.Errorf("flash: unrecognised image extension %q", filepath.Ext(path))
	}
}

func parseApj(r io.Reader, baseAddress uint32) (*ParsedImage, error) {
	apj, err := bootloader.ReadApj(r)
	if err != nil {
		return nil, fmt.Errorf("flash: parse .apj: %w", err)
	}
	return &ParsedImage{
		Data:        apj.Image,
		BaseAddress: baseAddress,
		BoardID:     apj.BoardID,
		HasBoardID:  true,
	}, nil
}

// parsePx4 decodes PX4's .px4 upload format: JSON with a base64 image,
// optionally gzip-compressed (some PX4 board configs still wrap it, per
// the same convention .apj uses; most modern builds don't). Grounded
// directly on bootloader.ReadApj's JSON+base64(+gzip) pipeline, since no
// example repo in the pack carries a PX4-specific uploader.
func parsePx4(r io.Reader, baseAddress uint32) (*ParsedImage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc px4Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("flash: parse .px4: invalid JSON: %w", err)
	}
	if doc.Image == "" {
		return nil, fmt.Errorf("flash: parse .px4: missing image field")
	}
	decoded, err := base64.StdEncoding.DecodeString(doc.Image)
	if err != nil {
		return nil, fmt.Errorf("flash: parse .px4: invalid base64 image: %w", err)
	}

	image := decoded
	if gz, err := gzip.NewReader(bytes.NewReader(decoded)); err == nil {
		defer gz.Close()
		if inflated, err := io.ReadAll(gz); err == nil {
			image = inflated
		}
	}

	return &ParsedImage{
		Data:        image,
		BaseAddress: baseAddress,
		BoardID:     doc.BoardID,
		HasBoardID:  doc.BoardID != 0,
	}, nil
}

// parseHex flattens Intel HEX segments into one contiguous buffer
// spanning the lowest to highest address, filling gaps with 0xFF. The
// lowest segment's own address becomes BaseAddress.
func parseHex(r io.Reader) (*ParsedImage, error) {
	segments, err := bootloader.ReadIntelHex(r)
	if err != nil {
		return nil, fmt.Errorf("flash: parse .hex: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("flash: .hex file has no data records")
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].Address < segments[j].Address })
	base := segments[0].Address
	end := base
	for _, seg := range segments {
		if top := seg.Address + uint32(len(seg.Data)); top > end {
			end = top
		}
	}

	data := make([]byte, end-base)
	for i := range data {
		data[i] = 0xFF
	}
	for _, seg := range segments {
		copy(data[seg.Address-base:], seg.Data)
	}
	return &ParsedImage{Data: data, BaseAddress: base}, nil
}
