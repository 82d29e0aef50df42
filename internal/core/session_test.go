package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/detection"
)

func newTestSession() *Session {
	return NewSession(config.Default(), &config.BoardHintTable{}, nil)
}

func TestDisconnectBeforeConnectIsNotConnectedError(t *testing.T) {
	s := newTestSession()
	err := s.Disconnect()
	var notConnected *ErrNotConnected
	if !errors.As(err, &notConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestDetectBoardBeforeConnectIsNotConnectedError(t *testing.T) {
	s := newTestSession()
	_, err := s.DetectBoard(context.Background())
	var notConnected *ErrNotConnected
	if !errors.As(err, &notConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestGetParamBeforeDetectIsNotConnectedError(t *testing.T) {
	s := newTestSession()
	_, _, err := s.GetParam("THR_MIN")
	var notConnected *ErrNotConnected
	if !errors.As(err, &notConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestAcquireBusyRejectsSecondConcurrentOperation(t *testing.T) {
	s := newTestSession()

	release, err := s.acquireBusy("flash")
	if err != nil {
		t.Fatalf("first acquireBusy: %v", err)
	}

	_, err = s.acquireBusy("mission download")
	var busy *ErrBusy
	if !errors.As(err, &busy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
	if busy.Running != "flash" {
		t.Fatalf("got Running=%q, want %q", busy.Running, "flash")
	}

	release()

	release2, err := s.acquireBusy("mission download")
	if err != nil {
		t.Fatalf("acquireBusy after release: %v", err)
	}
	release2()
}

func TestAcquireBusyConcurrentCallersOnlyOneWins(t *testing.T) {
	s := newTestSession()

	const n = 20
	var wg sync.WaitGroup
	var releases []func()
	var mu sync.Mutex
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			release, err := s.acquireBusy("flash")
			if err == nil {
				mu.Lock()
				releases = append(releases, release)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for _, release := range releases {
		release()
	}

	if len(releases) != 1 {
		t.Fatalf("got %d callers holding the busy lock, want exactly 1", len(releases))
	}
}

func TestSummarizeMavlinkBoard(t *testing.T) {
	board := &detection.DetectedBoard{
		Method: "mavlink",
		Mavlink: &detection.MavlinkDetail{
			Autopilot:   3,
			VehicleType: 1,
			SysID:       1,
		},
	}
	s := summarize(board)
	if s.Method != "mavlink" {
		t.Fatalf("got Method=%q, want mavlink", s.Method)
	}
	if s.TargetSystem != 1 || s.TargetComponent != 1 {
		t.Fatalf("got TargetSystem=%d TargetComponent=%d, want 1,1", s.TargetSystem, s.TargetComponent)
	}
	if s.InBootloader {
		t.Fatal("a mavlink board is not in bootloader")
	}
}

func TestSummarizeBootloaderBoard(t *testing.T) {
	board := &detection.DetectedBoard{
		Method:     "bootloader",
		Bootloader: &detection.BootloaderDetail{MCU: "STM32F405", ChipID: 0x0431},
	}
	s := summarize(board)
	if !s.InBootloader {
		t.Fatal("expected InBootloader to be true")
	}
	if s.Name != "STM32F405" {
		t.Fatalf("got Name=%q, want STM32F405", s.Name)
	}
}

func TestSummarizeUsbSerialOnlyWithNoHint(t *testing.T) {
	board := &detection.DetectedBoard{
		Method:        "usb_serial_only",
		UsbSerialOnly: &detection.UsbSerialOnlyDetail{},
	}
	s := summarize(board)
	if s.Name == "" {
		t.Fatal("expected a non-empty fallback name with no hint")
	}
}
