package modes

import (
	"context"
	"testing"
	"time"

	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

func newTestService(t *testing.T) (*Service, *transport.Loopback) {
	t.Helper()
	a, b := transport.NewLoopbackPair()
	l := link.New(a, link.DefaultIdentity)
	l.EnableMSP()
	go l.Start(context.Background())
	t.Cleanup(func() { l.Close(); b.Close() })
	return NewService(l), b
}

func fakeFC(t *testing.T, peer *transport.Loopback, handle func(f msp.Frame) []byte) {
	t.Helper()
	go func() {
		dec := msp.NewDecoder()
		buf := make([]byte, 1)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			for i := 0; i < n; i++ {
				for _, f := range dec.Feed(buf[i]) {
					if resp := handle(f); resp != nil {
						peer.Write(resp)
					}
				}
			}
		}
	}()
}

func TestReadModeRangesDecodesAllEntries(t *testing.T) {
	svc, peer := newTestService(t)

	fakeFC(t, peer, func(f msp.Frame) []byte {
		if f.Code != msp.ModeRanges {
			return nil
		}
		payload, _ := msp.EncodeArgs(
			uint8(0), uint8(0), uint8(4), uint8(20), // box0, aux0, 1000us, 1400us
			uint8(1), uint8(1), uint8(24), uint8(24), // box1, aux1, 1500us disabled slot
		)
		return msp.EncodeV2(msp.DirFromFC, msp.ModeRanges, payload)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := svc.ReadModeRanges(ctx)
	if err != nil {
		t.Fatalf("ReadModeRanges: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d ranges, want 2", len(got))
	}
	if got[0].RangeStart != 1000 || got[0].RangeEnd != 1400 {
		t.Fatalf("got %+v, want 1000-1400", got[0])
	}
	if got[1].RangeStart != got[1].RangeEnd {
		t.Fatalf("got %+v, want a disabled (equal) slot", got[1])
	}
}

func TestWriteModeRangeClearSlotAcceptsEqualBounds(t *testing.T) {
	svc, peer := newTestService(t)

	var gotPayload []byte
	fakeFC(t, peer, func(f msp.Frame) []byte {
		switch f.Code {
		case msp.ModeRanges:
			return msp.EncodeV2(msp.DirFromFC, msp.ModeRanges, nil)
		case msp.SetModeRange:
			gotPayload = f.Payload
			return msp.EncodeV2(msp.DirFromFC, msp.SetModeRange, nil)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	clear := ModeRange{BoxID: 3, AuxChannel: 0, RangeStart: 1500, RangeEnd: 1500}
	if err := svc.WriteModeRange(ctx, 5, clear); err != nil {
		t.Fatalf("WriteModeRange: %v", err)
	}
	if len(gotPayload) != 5 || gotPayload[0] != 5 {
		t.Fatalf("got payload %v, want slot byte 5 first", gotPayload)
	}
}

// TestWriteModeRangeMatchingCurrentStateSendsNoSetModeRange covers
// spec.md §8's boundary property: setting a mode range that already
// matches the FC's reported state produces no MSP_SET_MODE_RANGE
// traffic beyond the unavoidable MSP_MODE_RANGES read-back.
func TestWriteModeRangeMatchingCurrentStateSendsNoSetModeRange(t *testing.T) {
	svc, peer := newTestService(t)

	existing := ModeRange{BoxID: 0, AuxChannel: 0, RangeStart: 1000, RangeEnd: 1400}
	var setCalls int
	fakeFC(t, peer, func(f msp.Frame) []byte {
		switch f.Code {
		case msp.ModeRanges:
			payload, _ := msp.EncodeArgs(
				existing.BoxID, existing.AuxChannel,
				usToStep(existing.RangeStart), usToStep(existing.RangeEnd),
			)
			return msp.EncodeV2(msp.DirFromFC, msp.ModeRanges, payload)
		case msp.SetModeRange:
			setCalls++
			return msp.EncodeV2(msp.DirFromFC, msp.SetModeRange, nil)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.WriteModeRange(ctx, 0, existing); err != nil {
		t.Fatalf("WriteModeRange: %v", err)
	}
	if setCalls != 0 {
		t.Fatalf("got %d MSP_SET_MODE_RANGE calls for an unchanged slot, want 0", setCalls)
	}
}

func TestWriteModeRangeRejectsOutOfRangeSlot(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.WriteModeRange(context.Background(), MaxSlots, ModeRange{})
	if _, ok := err.(*ErrInvalidSlot); !ok {
		t.Fatalf("got %T (%v), want *ErrInvalidSlot", err, err)
	}
}

func TestWriteFullWritesEachSlotThenSavesEeprom(t *testing.T) {
	svc, peer := newTestService(t)

	var setCalls, eepromCalls int
	fakeFC(t, peer, func(f msp.Frame) []byte {
		switch f.Code {
		case msp.ModeRanges:
			return msp.EncodeV2(msp.DirFromFC, msp.ModeRanges, nil)
		case msp.SetModeRange:
			setCalls++
			return msp.EncodeV2(msp.DirFromFC, msp.SetModeRange, nil)
		case msp.EepromWrite:
			eepromCalls++
			return msp.EncodeV2(msp.DirFromFC, msp.EepromWrite, nil)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ranges := []ModeRange{
		{BoxID: 0, RangeStart: 1000, RangeEnd: 1400},
		{BoxID: 1, RangeStart: 1500, RangeEnd: 1500},
	}
	if err := svc.WriteFull(ctx, ranges); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if setCalls != 2 {
		t.Fatalf("got %d MSP_SET_MODE_RANGE calls, want 2", setCalls)
	}
	if eepromCalls != 1 {
		t.Fatalf("got %d MSP_EEPROM_WRITE calls, want 1", eepromCalls)
	}
}

func TestBoxNamesZipsIDsAndNames(t *testing.T) {
	svc, peer := newTestService(t)

	fakeFC(t, peer, func(f msp.Frame) []byte {
		switch f.Code {
		case msp.BoxIDs:
			return msp.EncodeV2(msp.DirFromFC, msp.BoxIDs, []byte{0, 1, 2})
		case msp.BoxNames:
			return msp.EncodeV2(msp.DirFromFC, msp.BoxNames, []byte("ARM;ANGLE;HORIZON;"))
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	names, err := svc.BoxNames(ctx)
	if err != nil {
		t.Fatalf("BoxNames: %v", err)
	}
	if names[0] != "ARM" || names[1] != "ANGLE" || names[2] != "HORIZON" {
		t.Fatalf("got %+v", names)
	}
}

func TestStepConversionRoundTrips(t *testing.T) {
	for _, us := range []uint16{900, 1000, 1500, 2100} {
		if got := stepToUs(usToStep(us)); got != us {
			t.Fatalf("got %d, want %d", got, us)
		}
	}
}
