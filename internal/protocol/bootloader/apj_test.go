package bootloader

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func buildApj(t *testing.T, image []byte) string {
	t.Helper()
	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(image); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(gzBuf.Bytes())

	doc := map[string]any{
		"image":      encoded,
		"board_id":   9,
		"version":    "4.3.0",
		"image_size": len(image),
		"platform":   "MatekF405",
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	return string(raw)
}

func TestReadApjRoundTrip(t *testing.T) {
	image := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 1024)
	doc := buildApj(t, image)

	fw, err := ReadApj(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadApj: %v", err)
	}
	if fw.BoardID != 9 || fw.Version != "4.3.0" || fw.Platform != "MatekF405" {
		t.Fatalf("unexpected metadata: %+v", fw)
	}
	if !bytes.Equal(fw.Image, image) {
		t.Fatalf("image mismatch: got %d bytes, want %d", len(fw.Image), len(image))
	}
}

func TestReadApjMissingImage(t *testing.T) {
	if _, err := ReadApj(strings.NewReader(`{"board_id": 1}`)); err == nil {
		t.Fatalf("expected error for missing image field")
	}
}

func TestReadApjInvalidJSON(t *testing.T) {
	if _, err := ReadApj(strings.NewReader(`not json`)); err == nil {
		t.Fatalf("expected JSON parse error")
	}
}
