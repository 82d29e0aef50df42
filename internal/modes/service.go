package modes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
)

const mspTimeout = 500 * time.Millisecond

// Service reads and writes flight-mode switch ranges over MSP. One
// Service per connected link; internal/core's Session serialises writes
// so a full-table update (up to MaxSlots MSP_SET_MODE_RANGE calls plus
// MSP_EEPROM_WRITE) is never interleaved with another bulk operation.
type Service struct {
	link *link.Link

	boxNames map[uint8]string
}

// NewService binds a Service to an already-connected, MSP-enabled Link.
func NewService(l *link.Link) *Service {
	return &Service{link: l}
}

// ReadModeRanges fetches the FC's current mode range table via
// MSP_MODE_RANGES. The payload is a flat array of 4-byte entries
// (boxId, auxChannelIndex, startStep, endStep); iteration continues
// until the payload is exhausted.
func (s *Service) ReadModeRanges(ctx context.Context) ([]ModeRange, error) {
	frame, err := s.link.CallMSP(ctx, msp.ModeRanges, nil, mspTimeout)
	if err != nil {
		return nil, fmt.Errorf("modes: read MSP_MODE_RANGES: %w", err)
	}

	r := msp.NewPayloadReader(frame.Payload)
	var out []ModeRange
	for r.Remaining() >= 4 {
		var boxID, aux, start, end uint8
		if err := r.Read(&boxID); err != nil {
			return nil, err
		}
		if err := r.Read(&aux); err != nil {
			return nil, err
		}
		if err := r.Read(&start); err != nil {
			return nil, err
		}
		if err := r.Read(&end); err != nil {
			return nil, err
		}
		out = append(out, ModeRange{
			BoxID:      boxID,
			AuxChannel: aux,
			RangeStart: stepToUs(start),
			RangeEnd:   stepToUs(end),
		})
	}
	return out, nil
}

// WriteModeRange writes one slot via MSP_SET_MODE_RANGE. RangeStart ==
// RangeEnd is accepted and clears the slot, per spec.md §8. Per spec.md
// §8's boundary property, a slot that already matches the FC's current
// range produces no MSP_SET_MODE_RANGE traffic beyond the read-back
// this needs to find that out.
func (s *Service) WriteModeRange(ctx context.Context, slot int, r ModeRange) error {
	if slot < 0 || slot >= MaxSlots {
		return &ErrInvalidSlot{Slot: slot}
	}
	current, err := s.ReadModeRanges(ctx)
	if err != nil {
		return err
	}
	return s.writeModeRangeIfChanged(ctx, slot, r, current)
}

// writeModeRangeIfChanged skips the MSP_SET_MODE_RANGE write when slot
// already holds r in current, the caller's already-fetched snapshot of
// MSP_MODE_RANGES. Shared by WriteModeRange (which fetches current
// itself) and WriteFull (which fetches it once for the whole batch).
func (s *Service) writeModeRangeIfChanged(ctx context.Context, slot int, r ModeRange, current []ModeRange) error {
	if slot < len(current) && current[slot] == r {
		return nil
	}
	payload, err := msp.EncodeArgs(uint8(slot), r.BoxID, r.AuxChannel, usToStep(r.RangeStart), usToStep(r.RangeEnd))
	if err != nil {
		return fmt.Errorf("modes: encode MSP_SET_MODE_RANGE: %w", err)
	}
	_, err = s.link.CallMSP(ctx, msp.SetModeRange, payload, mspTimeout)
	if err != nil {
		return fmt.Errorf("modes: write slot %d: %w", slot, err)
	}
	return nil
}

// WriteFull writes up to MaxSlots ranges (index = slot), then saves to
// EEPROM. Slots beyond len(ranges) are left untouched on the FC. Reads
// the current table once up front so slots already matching the FC's
// state produce no MSP_SET_MODE_RANGE traffic, per spec.md §8.
func (s *Service) WriteFull(ctx context.Context, ranges []ModeRange) error {
	if len(ranges) > MaxSlots {
		return fmt.Errorf("modes: %d ranges exceeds MaxSlots (%d)", len(ranges), MaxSlots)
	}
	current, err := s.ReadModeRanges(ctx)
	if err != nil {
		return err
	}
	for slot, r := range ranges {
		if err := s.writeModeRangeIfChanged(ctx, slot, r, current); err != nil {
			return err
		}
	}
	return s.SaveEeprom(ctx)
}

// SaveEeprom persists the current RAM configuration via MSP_EEPROM_WRITE.
func (s *Service) SaveEeprom(ctx context.Context) error {
	_, err := s.link.CallMSP(ctx, msp.EepromWrite, nil, mspTimeout)
	if err != nil {
		return fmt.Errorf("modes: MSP_EEPROM_WRITE: %w", err)
	}
	return nil
}

// BoxNames returns a cached boxId -> name lookup, fetching it from the
// FC via MSP_BOXIDS/MSP_BOXNAMES on first use.
func (s *Service) BoxNames(ctx context.Context) (map[uint8]string, error) {
	if s.boxNames != nil {
		return s.boxNames, nil
	}

	idsFrame, err := s.link.CallMSP(ctx, msp.BoxIDs, nil, mspTimeout)
	if err != nil {
		return nil, fmt.Errorf("modes: read MSP_BOXIDS: %w", err)
	}
	namesFrame, err := s.link.CallMSP(ctx, msp.BoxNames, nil, mspTimeout)
	if err != nil {
		return nil, fmt.Errorf("modes: read MSP_BOXNAMES: %w", err)
	}

	names := strings.Split(strings.TrimRight(string(namesFrame.Payload), ";"), ";")
	out := make(map[uint8]string, len(idsFrame.Payload))
	for i, id := range idsFrame.Payload {
		if i < len(names) {
			out[id] = names[i]
		}
	}
	s.boxNames = out
	return out, nil
}
