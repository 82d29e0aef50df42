package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/protocol/bootloader"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

// Timeouts from spec.md §4.6, kept as named constants rather than
// protocol-mandated values — they are this system's detection policy,
// not something MAVLink/MSP/AN3155 themselves require.
const (
	mavlinkHeartbeatTimeout = 1200 * time.Millisecond
	mspCommandTimeout       = 300 * time.Millisecond
	mspRetries              = 1
	bootloaderAckTimeout    = 200 * time.Millisecond
)

var mspProbeSequence = []uint16{msp.APIVersion, msp.FCVariant, msp.FCVersion, msp.BoardInfo}

var errStepTimeout = errors.New("detection: step timed out")

// Run drives the detection FSM defined in fsm.go to completion against an
// already-open Transport. Each phase owns the wire exclusively and in
// sequence, per spec.md §4.6's "the FSM does not run steps in parallel"
// tie-break rule: TryMsp only ever runs after TryMavlink has definitively
// failed, and so on.
func Run(ctx context.Context, t transport.Transport, portInfo transport.PortInfo, hints *config.BoardHintTable, bus *eventbus.Bus) (*DetectedBoard, error) {
	br := newByteReader(t)

	portGone := make(chan struct{})
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go transport.WatchDisappearance(watchCtx, portInfo, func() { close(portGone) })

	var hint *config.BoardHint
	if hints != nil {
		if h, ok := hints.Lookup(portInfo.VendorID, portInfo.ProductID); ok {
			hint = h
		}
	}

	state := StateOpenAndClassify
	advance := func(o Outcome) []Effect {
		var effects []Effect
		state, effects = step(state, o)
		return effects
	}
	runEffects := func(effects []Effect) {
		for _, eff := range effects {
			if eff.Kind == EffectEmitProgress {
				emitProgress(ctx, bus, eff)
			}
		}
	}

	runEffects(advance(OutcomeSuccess)) // OpenAndClassify -> TryMavlink

	var attempted []string
	var lastErr error
	var result *DetectedBoard

	for !state.Terminal() {
		select {
		case <-portGone:
			emitAborted(ctx, bus, portInfo.Path)
			return nil, &ErrAborted{Path: portInfo.Path}
		default:
		}

		var outcome Outcome
		switch state {
		case StateTryMavlink:
			attempted = append(attempted, "mavlink")
			detail, err := tryMavlink(t, br, portGone)
			if err != nil {
				lastErr = err
				outcome = outcomeFor(err)
			} else {
				result = &DetectedBoard{Method: "mavlink", Mavlink: detail}
				outcome = OutcomeSuccess
			}

		case StateTryMsp:
			attempted = append(attempted, "msp")
			detail, err := tryMsp(t, br, portGone)
			if err != nil {
				lastErr = err
				outcome = outcomeFor(err)
			} else {
				result = &DetectedBoard{Method: "msp", Msp: detail}
				outcome = OutcomeSuccess
			}

		case StateTryBootloader:
			attempted = append(attempted, "bootloader")
			detail, err := tryBootloader(t, br)
			if err != nil {
				lastErr = err
				outcome = outcomeFor(err)
			} else {
				result = &DetectedBoard{Method: "bootloader", Bootloader: detail}
				outcome = OutcomeSuccess
			}

		default:
			outcome = OutcomeProtocolError
		}

		runEffects(advance(outcome))
	}

	if state == StateGiveUp {
		// A recognised USB-serial bridge with no protocol response is a
		// distinct, successful outcome (it simply has no onboard protocol
		// to speak yet) rather than an error, matching how the flash FSM
		// already treats flasher=serial boards in spec.md §4.8.
		if hint != nil && hint.Flasher == "serial" {
			result = &DetectedBoard{Method: "usb_serial_only", UsbSerialOnly: &UsbSerialOnlyDetail{Hint: hint}}
			emitResult(ctx, bus, result, nil)
			return result, nil
		}
		failure := &DetectionFailed{Attempted: attempted, LastError: lastErr}
		emitResult(ctx, bus, nil, failure)
		return nil, failure
	}

	emitResult(ctx, bus, result, nil)
	return result, nil
}

func outcomeFor(err error) Outcome {
	if errors.Is(err, errStepTimeout) {
		return OutcomeTimeout
	}
	return OutcomeProtocolError
}

// byteReader is the single goroutine allowed to call Transport.Read
// during detection; every phase drains its channel instead of reading
// the transport directly, so TryMavlink, TryMsp, and TryBootloader can
// run one after another against the same open port without racing each
// other for bytes.
type byteReader struct {
	ch   chan byte
	errc chan error
}

func newByteReader(t transport.Transport) *byteReader {
	br := &byteReader{ch: make(chan byte, 512), errc: make(chan error, 1)}
	go br.loop(t)
	return br
}

func (br *byteReader) loop(t transport.Transport) {
	buf := make([]byte, 64)
	for {
		n, err := t.Read(buf)
		for i := 0; i < n; i++ {
			br.ch <- buf[i]
		}
		if err != nil {
			br.errc <- err
			return
		}
	}
}

func tryMavlink(t transport.Transport, br *byteReader, portGone <-chan struct{}) (*MavlinkDetail, error) {
	dec := mavlink.NewDecoder()
	hb, err := mavlink.EncodeV1(&common.MessageHeartbeat{Type: 6, Autopilot: 8, SystemStatus: 4, MavlinkVersion: 3}, 0, 255, 190)
	if err != nil {
		return nil, err
	}
	if _, err := t.Write(hb); err != nil {
		return nil, err
	}

	deadline := time.After(mavlinkHeartbeatTimeout)
	for {
		select {
		case b := <-br.ch:
			for _, f := range dec.Feed(b) {
				if f.MsgID != 0 {
					continue
				}
				var hbIn common.MessageHeartbeat
				if err := mavlink.DecodePayload(f.Payload, &hbIn); err != nil {
					continue
				}
				detail := &MavlinkDetail{Autopilot: uint8(hbIn.Autopilot), VehicleType: uint8(hbIn.Type), SysID: f.SysID}
				requestAutopilotVersion(t, br, detail)
				return detail, nil
			}
		case <-br.errc:
			return nil, errStepTimeout
		case <-portGone:
			return nil, errStepTimeout
		case <-deadline:
			return nil, errStepTimeout
		}
	}
}

// requestAutopilotVersion is best-effort: a board that answered HEARTBEAT
// but not AUTOPILOT_VERSION still counts as a successful mavlink
// detection, just without a boardId.
func requestAutopilotVersion(t transport.Transport, br *byteReader, detail *MavlinkDetail) {
	dec := mavlink.NewDecoder()
	if req, err := mavlink.EncodeV1(&common.MessageAutopilotVersionRequest{TargetSystem: 1, TargetComponent: 1}, 1, 255, 190); err == nil {
		t.Write(req)
	}
	cmd := &common.MessageCommandLong{Command: mavCmdRequestMessage, Param1: float32(autopilotVersionMsgID), TargetSystem: 1, TargetComponent: 1}
	if req, err := mavlink.EncodeV1(cmd, 2, 255, 190); err == nil {
		t.Write(req)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case b := <-br.ch:
			for _, f := range dec.Feed(b) {
				if f.MsgID != autopilotVersionMsgID {
					continue
				}
				var av autopilotVersionMsg
				if mavlink.DecodePayload(f.Payload, &av) == nil {
					detail.HaveAutopilotVer = true
					detail.FlightSWVersion = av.FlightSWVersion
					detail.BoardVersion = av.BoardVersion
					detail.BoardID = uint16(av.BoardVersion & 0xFFFF)
				}
				return
			}
		case <-br.errc:
			return
		case <-deadline:
			return
		}
	}
}

func tryMsp(t transport.Transport, br *byteReader, portGone <-chan struct{}) (*MspDetail, error) {
	detail := &MspDetail{}
	dec := msp.NewDecoder()

	for _, code := range mspProbeSequence {
		matched := false
		for attempt := 0; attempt <= mspRetries && !matched; attempt++ {
			if _, err := t.Write(msp.EncodeV2(msp.DirToFC, code, nil)); err != nil {
				return nil, err
			}
			frame, err := waitMspFrame(dec, br, portGone, mspCommandTimeout)
			if err != nil {
				continue
			}
			applyMspProbe(detail, code, frame.Payload)
			matched = true
		}
		if !matched {
			return nil, errStepTimeout
		}
	}
	return detail, nil
}

func waitMspFrame(dec *msp.Decoder, br *byteReader, portGone <-chan struct{}, timeout time.Duration) (msp.Frame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case b := <-br.ch:
			if frames := dec.Feed(b); len(frames) > 0 {
				return frames[len(frames)-1], nil
			}
		case <-br.errc:
			return msp.Frame{}, errStepTimeout
		case <-portGone:
			return msp.Frame{}, errStepTimeout
		case <-deadline:
			return msp.Frame{}, errStepTimeout
		}
	}
}

var boardIdentNames = map[string]string{
	"SPBE": "SPEEDYBEE F405",
	"AFF3": "AFROFLIGHT F3",
}

func applyMspProbe(detail *MspDetail, code uint16, payload []byte) {
	switch code {
	case msp.FCVariant:
		if len(payload) >= 4 {
			detail.FCVariant = string(payload[:4])
		}
	case msp.FCVersion:
		if len(payload) >= 3 {
			detail.FCVersion = fmt.Sprintf("%d.%d.%d", payload[0], payload[1], payload[2])
		}
	case msp.BoardInfo:
		if len(payload) >= 4 {
			detail.BoardIdent = string(payload[:4])
			if name, ok := boardIdentNames[detail.BoardIdent]; ok {
				detail.BoardName = name
			} else {
				detail.BoardName = detail.BoardIdent
			}
		}
	}
}

// chanReaderWriter hands the bootloader client the same shared byteReader
// channel instead of a second direct reader on t, so it never races
// byteReader.loop for bytes.
type chanReaderWriter struct {
	t  transport.Transport
	br *byteReader
}

func (c *chanReaderWriter) Write(p []byte) (int, error) { return c.t.Write(p) }

func (c *chanReaderWriter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case b := <-c.br.ch:
		p[0] = b
		return 1, nil
	case err := <-c.br.errc:
		return 0, err
	}
}

func tryBootloader(t transport.Transport, br *byteReader) (*BootloaderDetail, error) {
	client := bootloader.New(&chanReaderWriter{t: t, br: br})
	if err := client.WaitForInitAck(bootloaderAckTimeout, bootloaderAckTimeout/2); err != nil {
		return nil, errStepTimeout
	}
	id, err := client.GetID()
	if err != nil {
		return nil, err
	}
	mcu, flashKB, _ := lookupChipID(id)
	return &BootloaderDetail{ChipID: id, MCU: mcu, FlashKB: flashKB}, nil
}

func emitProgress(ctx context.Context, bus *eventbus.Bus, eff Effect) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, eventbus.NewDetectionProgress(eff.Step))
}

func emitResult(ctx context.Context, bus *eventbus.Bus, board *DetectedBoard, err error) {
	if bus == nil {
		return
	}
	var summary *eventbus.DetectedBoardSummary
	if board != nil {
		summary = &eventbus.DetectedBoardSummary{
			Name:            board.summaryName(),
			DetectionMethod: board.Method,
			InBootloader:    board.Bootloader != nil,
		}
	}
	bus.Publish(ctx, eventbus.NewDetectionResult(summary, err))
}

func emitAborted(ctx context.Context, bus *eventbus.Bus, path string) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, eventbus.NewDetectionResult(nil, &ErrAborted{Path: path}))
}

func (b *DetectedBoard) summaryName() string {
	switch {
	case b.Mavlink != nil:
		return fmt.Sprintf("mavlink:boardId=0x%04x", b.Mavlink.BoardID)
	case b.Msp != nil:
		if b.Msp.BoardName != "" {
			return b.Msp.BoardName
		}
		return b.Msp.BoardIdent
	case b.Bootloader != nil:
		return b.Bootloader.MCU
	case b.UsbSerialOnly != nil && b.UsbSerialOnly.Hint != nil:
		return b.UsbSerialOnly.Hint.Name
	default:
		return "unknown"
	}
}
