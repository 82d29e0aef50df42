// Package core is the session facade of spec.md §6: the single entry
// point a shell drives to list ports, connect, detect a board, flash
// firmware, and run the mission/param/mode/telemetry services over one
// connected Link. It owns the shared eventbus.Bus and the
// single-transfer lock behind spec.md §4's invariant 2 ("no two
// concurrent bulk transfers on the same link").
package core

import (
	"fmt"

	"github.com/flightpath-dev/flightcore/internal/detection"
)

// ErrNotConnected is returned by any operation that needs an open Link
// when Connect hasn't succeeded yet.
type ErrNotConnected struct{}

func (e *ErrNotConnected) Error() string { return "core: not connected" }

// ErrAlreadyConnected is returned by Connect when a Link is already open.
type ErrAlreadyConnected struct{}

func (e *ErrAlreadyConnected) Error() string { return "core: already connected" }

// ErrBusy is returned when a long-running operation (flash, a mission/
// parameter bulk transfer) is requested while another is already running
// on this session, per spec.md §4's invariant 2.
type ErrBusy struct {
	Running string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("core: %s is already in progress on this link", e.Running)
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	// Path is the serial device to open, e.g. "/dev/ttyACM0".
	Path string
	// Baud overrides config.TransportConfig.DefaultBaud when non-zero.
	Baud int
}

// BoardSummary is the shell-facing projection of detection.DetectedBoard:
// one flattened struct instead of a discriminated union, since a shell
// only ever needs to display and act on the winning method's fields.
type BoardSummary struct {
	Method string

	// Name is a human label: the MAVLink/MSP board identity string, the
	// bootloader's MCU name, or the configured board hint's name.
	Name string

	// TargetSystem/TargetComponent are filled for Method == "mavlink",
	// used to construct mission.Service/params.Service.
	TargetSystem    uint8
	TargetComponent uint8

	InBootloader bool

	Raw *detection.DetectedBoard
}

func summarize(board *detection.DetectedBoard) *BoardSummary {
	if board == nil {
		return nil
	}
	s := &BoardSummary{Method: board.Method, Raw: board}
	switch {
	case board.Mavlink != nil:
		s.Name = fmt.Sprintf("autopilot=%d vehicle=%d", board.Mavlink.Autopilot, board.Mavlink.VehicleType)
		s.TargetSystem = board.Mavlink.SysID
		s.TargetComponent = 1
	case board.Msp != nil:
		s.Name = board.Msp.BoardName
	case board.Bootloader != nil:
		s.Name = board.Bootloader.MCU
		s.InBootloader = true
	case board.UsbSerialOnly != nil:
		if board.UsbSerialOnly.Hint != nil {
			s.Name = board.UsbSerialOnly.Hint.Name
		} else {
			s.Name = "unknown USB-serial device"
		}
	}
	return s
}
