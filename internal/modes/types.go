// Package modes implements the MSP-only flight-mode switch range
// service of spec.md §4.9 and §3: MSP_MODE_RANGES (fn 34) reads,
// MSP_SET_MODE_RANGE (fn 35) writes one slot at a time, MSP_EEPROM_WRITE
// (fn 250) persists. Grounded on fiam-msp-tool/fc/fc.go's
// WriteCmd(code, args...)/EncodeArgs request-then-await-same-code-reply
// pattern, layered on this repo's own internal/protocol/msp codec and
// internal/link.Link rather than fiam's synchronous single-connection
// client.
package modes

import "fmt"

// MaxSlots is the largest number of mode-range slots a full write
// touches, per spec.md §3's ModeRange invariant.
const MaxSlots = 20

// stepMin/stepSize convert between PWM microseconds (900-2100,
// snapped to 25us steps) and the single wire byte MSP_MODE_RANGES/
// MSP_SET_MODE_RANGE use for each bound.
const (
	stepMin  = 900
	stepSize = 25
)

// ModeRange is spec.md §3's ModeRange value: a flight-mode switch
// assignment to an aux channel range. RangeStart == RangeEnd means the
// slot is disabled.
type ModeRange struct {
	BoxID      uint8
	AuxChannel uint8
	RangeStart uint16
	RangeEnd   uint16
}

func stepToUs(step uint8) uint16 {
	return uint16(stepMin + int(step)*stepSize)
}

func usToStep(us uint16) uint8 {
	if us < stepMin {
		us = stepMin
	}
	return uint8((int(us) - stepMin) / stepSize)
}

// ErrInvalidSlot reports a slot index outside [0, MaxSlots).
type ErrInvalidSlot struct {
	Slot int
}

func (e *ErrInvalidSlot) Error() string {
	return fmt.Sprintf("modes: slot %d out of range [0, %d)", e.Slot, MaxSlots)
}
