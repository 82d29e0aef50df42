package detection

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

func runDetection(t *testing.T, serve func(peer *transport.Loopback)) (*DetectedBoard, error) {
	t.Helper()
	a, b := transport.NewLoopbackPair()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serve(b)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	board, err := Run(ctx, a, transport.PortInfo{Path: "test"}, &config.BoardHintTable{}, nil)
	<-done
	return board, err
}

// Scenario 1 from spec.md §8: an ArduPilot board answers HEARTBEAT and
// AUTOPILOT_VERSION.
func TestDetectArduPilotBoard(t *testing.T) {
	board, err := runDetection(t, func(peer *transport.Loopback) {
		dec := mavlink.NewDecoder()
		buf := make([]byte, 1)
		sawHeartbeat := false
		for {
			n, rerr := peer.Read(buf)
			if rerr != nil {
				return
			}
			for i := 0; i < n; i++ {
				for _, f := range dec.Feed(buf[i]) {
					switch f.MsgID {
					case 0:
						if sawHeartbeat {
							continue
						}
						sawHeartbeat = true
						wire, _ := mavlink.EncodeV1(&common.MessageHeartbeat{Autopilot: 3, Type: 2}, 0, 1, 1)
						peer.Write(wire)
					case 520, 76:
						av := &autopilotVersionMsg{FlightSWVersion: 0x04050100, BoardVersion: 0x001016}
						wire, _ := mavlink.EncodeV1(av, 1, 1, 1)
						peer.Write(wire)
						return
					}
				}
			}
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if board.Method != "mavlink" || board.Mavlink == nil {
		t.Fatalf("got %+v, want mavlink detail", board)
	}
	if board.Mavlink.BoardID != 0x1016 {
		t.Fatalf("got boardId 0x%x, want 0x1016", board.Mavlink.BoardID)
	}
}

// Scenario 2: MAVLink times out, MSP v2 answers FC_VARIANT "BTFL" and
// BOARD_INFO "SPBE".
func TestDetectBetaflightBoard(t *testing.T) {
	board, err := runDetection(t, func(peer *transport.Loopback) {
		dec := msp.NewDecoder()
		buf := make([]byte, 1)
		for {
			n, rerr := peer.Read(buf)
			if rerr != nil {
				return
			}
			for i := 0; i < n; i++ {
				for _, f := range dec.Feed(buf[i]) {
					switch f.Code {
					case msp.APIVersion:
						peer.Write(msp.EncodeV2(msp.DirFromFC, msp.APIVersion, []byte{0, 2, 4}))
					case msp.FCVariant:
						peer.Write(msp.EncodeV2(msp.DirFromFC, msp.FCVariant, []byte("BTFL")))
					case msp.FCVersion:
						peer.Write(msp.EncodeV2(msp.DirFromFC, msp.FCVersion, []byte{4, 3, 0}))
					case msp.BoardInfo:
						payload := append([]byte("SPBE"), 0, 0)
						peer.Write(msp.EncodeV2(msp.DirFromFC, msp.BoardInfo, payload))
						return
					}
				}
			}
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if board.Method != "msp" || board.Msp == nil {
		t.Fatalf("got %+v, want msp detail", board)
	}
	if board.Msp.FCVariant != "BTFL" {
		t.Fatalf("got fcVariant %q, want BTFL", board.Msp.FCVariant)
	}
	if board.Msp.BoardName != "SPEEDYBEE F405" {
		t.Fatalf("got boardName %q, want SPEEDYBEE F405", board.Msp.BoardName)
	}
}

// Scenario 3: MAVLink and MSP time out; the bootloader ACKs init and
// reports chip id 0x0413 (STM32F405/407).
func TestDetectBareBootloader(t *testing.T) {
	board, err := runDetection(t, func(peer *transport.Loopback) {
		buf := make([]byte, 1)
		// MAVLink and MSP detection traffic is in flight for the first
		// ~3.6s (1.2s heartbeat wait + 4 MSP probes x up to 2 attempts x
		// 300ms); drain and ignore it so a coincidental 0x7F/0x02 byte in
		// that traffic can't be mistaken for a bootloader command.
		deadline := time.Now().Add(3600 * time.Millisecond)
		for {
			n, rerr := peer.Read(buf)
			if rerr != nil {
				return
			}
			if time.Now().Before(deadline) {
				continue
			}
			for i := 0; i < n; i++ {
				b := buf[i]
				switch b {
				case 0x7F:
					peer.Write([]byte{0x79})
				case 0x02: // GET_ID command byte
					// drain the checksum byte that follows
					cbuf := make([]byte, 1)
					peer.Read(cbuf)
					peer.Write([]byte{0x79, 0x01, 0x04, 0x13, 0x79})
					return
				}
			}
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if board.Method != "bootloader" || board.Bootloader == nil {
		t.Fatalf("got %+v, want bootloader detail", board)
	}
	if board.Bootloader.ChipID != 0x0413 {
		t.Fatalf("got chipId 0x%04x, want 0x0413", board.Bootloader.ChipID)
	}
	if board.Bootloader.MCU != "STM32F405/407" {
		t.Fatalf("got mcu %q, want STM32F405/407", board.Bootloader.MCU)
	}
}

func TestDetectAllProtocolsFailReturnsDetectionFailed(t *testing.T) {
	_, err := runDetection(t, func(peer *transport.Loopback) {
		buf := make([]byte, 64)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
			// never respond
		}
	})
	failed, ok := err.(*DetectionFailed)
	if !ok {
		t.Fatalf("got %T (%v), want *DetectionFailed", err, err)
	}
	if len(failed.Attempted) != 3 {
		t.Fatalf("got attempted %v, want all three protocols tried", failed.Attempted)
	}
}
