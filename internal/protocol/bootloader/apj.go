package bootloader

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// ApjFirmware is the decoded form of an ArduPilot .apj firmware file: a
// JSON document wrapping a gzip+base64-encoded flat binary image plus
// board/version metadata.
type ApjFirmware struct {
	BoardID       int
	BoardRevision int
	Version       string
	GitIdentity   string
	ImageSize     int
	ImageMaxSize  int
	FlashFreeSize int
	Platform      string
	Summary       string
	Description   string

	Image []byte
}

type apjDocument struct {
	Image         string `json:"image"`
	BoardID       int    `json:"board_id"`
	BoardRevision int    `json:"board_revision"`
	Version       string `json:"version"`
	GitIdentity   string `json:"git_identity"`
	ImageSize     int    `json:"image_size"`
	ImageMaxSize  int    `json:"image_maxsize"`
	FlashFreeSize int    `json:"flash_free_space"`
	Platform      string `json:"platform"`
	Summary       string `json:"summary"`
	Description   string `json:"description"`
}

// ReadApj decodes an ArduPilot .apj file: JSON metadata with the flash
// image carried as a base64 string, gzip-compressed before encoding.
func ReadApj(r io.Reader) (*ApjFirmware, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc apjDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("apj: invalid JSON: %w", err)
	}
	if doc.Image == "" {
		return nil, fmt.Errorf("apj: missing image field")
	}

	compressed, err := base64.StdEncoding.DecodeString(doc.Image)
	if err != nil {
		return nil, fmt.Errorf("apj: invalid base64 image: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("apj: invalid gzip image: %w", err)
	}
	defer gz.Close()

	image, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("apj: failed to decompress image: %w", err)
	}

	return &ApjFirmware{
		BoardID:       doc.BoardID,
		BoardRevision: doc.BoardRevision,
		Version:       doc.Version,
		GitIdentity:   doc.GitIdentity,
		ImageSize:     doc.ImageSize,
		ImageMaxSize:  doc.ImageMaxSize,
		FlashFreeSize: doc.FlashFreeSize,
		Platform:      doc.Platform,
		Summary:       doc.Summary,
		Description:   doc.Description,
		Image:         image,
	}, nil
}
