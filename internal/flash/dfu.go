package flash

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// writeTempBin spills a parsed image's flat data to a temp .bin file —
// dfu-util and avrdude both take a file path, not a byte slice, so the
// DFU/AVR flashers need one even though the STM32 bootloader path never
// touches disk after Downloading.
func writeTempBin(data []byte) (string, error) {
	f, err := os.CreateTemp("", "flightcore-flash-*.bin")
	if err != nil {
		return "", fmt.Errorf("flash: create temp image: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("flash: write temp image: %w", err)
	}
	return f.Name(), nil
}

// dfuDevicePrefix and internalFlashMarker match fiam-msp-tool/fc/fc.go's
// dfuList/dfuFlash device-line scraping: dfu-util --list prints one line
// per interface, prefixed this way, and the internal-flash interface is
// the one whose name contains this marker.
const (
	dfuDevicePrefix     = "Found DFU: "
	internalFlashMarker = "@Internal Flash"
)

var (
	reDfuAlt    = regexp.MustCompile(`alt=(\d+)`)
	reDfuSerial = regexp.MustCompile(`serial="(.*?)"`)
	reDfuOffset = regexp.MustCompile(`Internal Flash\s+/([\dx]*?)/`)
)

// dfuList runs `dfu-util --list` and returns each device line with its
// prefix stripped, same shape as fiam-msp-tool's dfuList.
func dfuList(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "dfu-util", "--list")
	var buf bytes.Buffer
	cmd.Stdout = &buf
	_ = cmd.Run()

	var lines []string
	for _, ll := range strings.Split(buf.String(), "\n") {
		ll = strings.Trim(ll, "\n\r\t ")
		if strings.HasPrefix(ll, dfuDevicePrefix) {
			lines = append(lines, ll[len(dfuDevicePrefix):])
		}
	}
	return lines, nil
}

// dfuWaitForDevice polls dfu-util --list until an internal-flash device
// enumerates or timeout elapses — the renumeration wait spec.md §4.8
// describes for the Erasing/Programming handoff after EnteringBootloader
// resets the board into its native DFU ROM bootloader.
func dfuWaitForDevice(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		devices, err := dfuList(ctx)
		if err != nil {
			return "", err
		}
		for _, dev := range devices {
			if strings.Contains(dev, internalFlashMarker) {
				return dev, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("flash: timed out waiting for DFU device to enumerate")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// parseDfuDevice extracts the alt-setting, serial, and internal-flash
// offset a dfu-util --list device line carries, e.g.:
//
//	[0483:df11] ver=2200, ... alt=0, name="@Internal Flash  /0x08000000/04*016Kg,...", serial="3276365D3336"
func parseDfuDevice(device string) (alt, serial, offset string, err error) {
	alt = firstSubmatch(reDfuAlt, device)
	serial = firstSubmatch(reDfuSerial, device)
	offset = firstSubmatch(reDfuOffset, device)
	if alt == "" || serial == "" || offset == "" {
		return "", "", "", fmt.Errorf("flash: could not determine DFU flash parameters from %q", device)
	}
	return alt, serial, offset, nil
}

func firstSubmatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

// dfuFlash erases and programs binaryPath onto the DFU device identified
// by alt/serial/offset in one dfu-util invocation — dfu-util's -D mode
// erases the pages it's about to write, so DFU targets fold spec.md
// §4.8's Erasing stage into this single Programming-stage call.
// ":leave" exits DFU mode afterward, serving as Rebooting for this
// flasher, same as fiam-msp-tool's dfuFlash.
func dfuFlash(ctx context.Context, alt, serial, offset, binaryPath string) error {
	cmd := exec.CommandContext(ctx, "dfu-util", "-a", alt, "-S", serial, "-s", offset+":leave", "-D", binaryPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("flash: dfu-util failed: %w: %s", err, stderr.String())
	}
	return nil
}

// avrdudeFlash shells out to avrdude for AVR targets (ATmega-based
// boards), mirroring the same "external tool owns erase+program+verify"
// shape as dfuFlash, per spec.md §4.8's "AVR (avrdude flasher) uses the
// external tool's own verify."
func avrdudeFlash(ctx context.Context, part, programmer, devicePath, binaryPath string, verify bool) error {
	args := []string{"-p", part, "-c", programmer, "-P", devicePath, "-U", "flash:w:" + binaryPath + ":i"}
	if !verify {
		args = append(args, "-V")
	}
	cmd := exec.CommandContext(ctx, "avrdude", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("flash: avrdude failed: %w: %s", err, stderr.String())
	}
	return nil
}
