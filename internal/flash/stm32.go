package flash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/flightpath-dev/flightcore/internal/protocol/bootloader"
)

// writeChunkSize is WRITE_MEMORY's wire maximum per spec.md §4.8's
// Programming stage ("write in chunks of 256 bytes").
const writeChunkSize = 256

// maxChunkRetries is the NAK-retry budget spec.md §4.8 sets per chunk
// before the whole flash fails.
const maxChunkRetries = 3

// stm32Erase runs EraseGlobal (fullChipErase) or ErasePages computed
// from the image's address range, per spec.md §4.8's Erasing stage.
// pageSizeBytes is the target's flash page size (board-specific; comes
// from the chip id lookup the detection FSM already performed).
func stm32Erase(client *bootloader.Client, img *ParsedImage, pageSizeBytes uint32, fullChipErase bool) error {
	if fullChipErase {
		if err := client.EraseGlobal(); err != nil {
			return fmt.Errorf("erase global: %w", err)
		}
		return nil
	}
	if pageSizeBytes == 0 {
		return fmt.Errorf("flash: page size unknown, cannot compute erase page list")
	}
	firstPage := img.BaseAddress / pageSizeBytes
	lastPage := (img.BaseAddress + uint32(len(img.Data)) - 1) / pageSizeBytes
	pages := make([]uint16, 0, lastPage-firstPage+1)
	for p := firstPage; p <= lastPage; p++ {
		pages = append(pages, uint16(p))
	}
	if err := client.ErasePages(pages); err != nil {
		return fmt.Errorf("erase pages %d..%d: %w", firstPage, lastPage, err)
	}
	return nil
}

// ProgressFunc reports bytesWritten/totalBytes while programming.
type ProgressFunc func(bytesWritten, totalBytes int64)

// stm32Program writes img in writeChunkSize chunks at strictly
// monotonic addresses, retrying a NAK'd chunk up to maxChunkRetries
// times before failing, per spec.md §4.8's Programming stage.
func stm32Program(client *bootloader.Client, img *ParsedImage, onProgress ProgressFunc) error {
	total := int64(len(img.Data))
	var written int64

	for off := 0; off < len(img.Data); off += writeChunkSize {
		end := off + writeChunkSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		chunk := img.Data[off:end]
		addr := img.BaseAddress + uint32(off)

		var lastErr error
		ok := false
		for attempt := 0; attempt < maxChunkRetries; attempt++ {
			if lastErr = client.WriteMemory(addr, chunk); lastErr == nil {
				ok = true
				break
			}
			if !errors.Is(lastErr, bootloader.ErrNak) {
				return fmt.Errorf("write chunk at 0x%08x: %w", addr, lastErr)
			}
		}
		if !ok {
			return fmt.Errorf("write chunk at 0x%08x: %w after %d retries", addr, lastErr, maxChunkRetries)
		}

		written += int64(len(chunk))
		if onProgress != nil {
			onProgress(written, total)
		}
	}
	return nil
}

// stm32VerifyReadback reads img's address range back via READ_MEMORY and
// compares it byte-for-byte, per spec.md §4.8's VerifyingFlash stage.
func stm32VerifyReadback(client *bootloader.Client, img *ParsedImage) error {
	for off := 0; off < len(img.Data); off += writeChunkSize {
		end := off + writeChunkSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		want := img.Data[off:end]
		addr := img.BaseAddress + uint32(off)

		got, err := client.ReadMemory(addr, len(want))
		if err != nil {
			return fmt.Errorf("read back at 0x%08x: %w", addr, err)
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("verify mismatch at 0x%08x", addr)
		}
	}
	return nil
}
