package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
)

// streamMAVMsgID and streamMSPCode map a Stream to its wire identity on
// each protocol; a Stream absent from one map has no equivalent there
// (rc_channels has no single-shot MSP poll equivalent and is MAVLink-only
// in this implementation).
var streamMAVMsgID = map[Stream]uint32{
	StreamAttitude:   30,
	StreamVFRHUD:     74,
	StreamGPS:        24,
	StreamBattery:    147,
	StreamRCChannels: 65,
}

var streamMSPCode = map[Stream]uint16{
	StreamAttitude: msp.Attitude,
	StreamGPS:      msp.RawGPS,
	StreamBattery:  msp.Analog,
}

// Service runs spec.md §4's periodic scheduler: one subscriber
// registration per Subscribe call, fanning decoded samples out to the
// shared eventbus.Bus. Created bound to one already-Start'd Link; Close
// tears down its background goroutines.
type Service struct {
	l   *link.Link
	bus *eventbus.Bus

	mu        sync.Mutex
	nextToken Token
	subs      map[Token]Stream
	refs      map[Stream]int

	mspPolling atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService starts the background dispatch loop appropriate to l's
// enabled protocol (MAVLink frame fan-out, or an MSP round-robin
// poller) and returns a Service ready for Subscribe calls.
func NewService(l *link.Link, bus *eventbus.Bus) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		l:      l,
		bus:    bus,
		subs:   make(map[Token]Stream),
		refs:   make(map[Stream]int),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if l.MavlinkEnabled() {
		go s.runMavlinkFanout(ctx)
	} else if l.MSPEnabled() {
		go s.runMSPPoller(ctx)
	} else {
		close(s.done)
	}

	return s
}

// Close stops the background dispatch loop. Idempotent.
func (s *Service) Close() {
	s.cancel()
}

// Subscribe registers interest in stream at up to rateHz (capped at
// maxRateHz) and returns a Token for Unsubscribe. For a MAVLink Link this
// issues one MAV_CMD_SET_MESSAGE_INTERVAL; for MSP it adds the stream to
// the round-robin poll set. The zero Token is never returned.
func (s *Service) Subscribe(ctx context.Context, stream Stream, rateHz int) (Token, error) {
	if _, ok := streamMAVMsgID[stream]; !ok {
		if _, ok := streamMSPCode[stream]; !ok {
			return 0, &ErrUnknownStream{Stream: stream}
		}
	}
	if rateHz <= 0 {
		rateHz = 1
	}
	if rateHz > maxRateHz {
		rateHz = maxRateHz
	}

	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.subs[token] = stream
	firstRef := s.refs[stream] == 0
	s.refs[stream]++
	s.mu.Unlock()

	if firstRef && s.l.MavlinkEnabled() {
		if err := s.requestMavlinkInterval(stream, rateHz); err != nil {
			return 0, err
		}
	}
	return token, nil
}

// Unsubscribe releases token. Once a stream's last subscriber is gone,
// MAVLink's SET_MESSAGE_INTERVAL is not explicitly cancelled (ArduPilot
// has no "stop" message distinct from interval=0, which some autopilot
// versions ignore); the stream simply stops reaching any subscriber.
func (s *Service) Unsubscribe(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.subs[token]
	if !ok {
		return
	}
	delete(s.subs, token)
	s.refs[stream]--
	if s.refs[stream] <= 0 {
		delete(s.refs, stream)
	}
}

func (s *Service) requestMavlinkInterval(stream Stream, rateHz int) error {
	msgID, ok := streamMAVMsgID[stream]
	if !ok {
		return nil
	}
	intervalUs := float32(1_000_000 / rateHz)
	cmd := &common.MessageCommandLong{
		Command: mavCmdSetMessageInterval,
		Param1:  float32(msgID),
		Param2:  intervalUs,
	}
	return s.l.WriteMavlink(cmd)
}

func (s *Service) hasSubscriber(stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[stream] > 0
}

// runMavlinkFanout forwards every ATTITUDE/VFR_HUD/GPS_RAW_INT/
// BATTERY_STATUS/RC_CHANNELS frame to the bus as a TelemetrySample, per
// spec.md §4's "fan out to all subscribers" unsolicited-stream model —
// the FC's own send rate (set via SET_MESSAGE_INTERVAL) is what actually
// throttles volume, not a check here.
func (s *Service) runMavlinkFanout(ctx context.Context) {
	defer close(s.done)
	ch, unsubscribe := s.l.SubscribeMavlink(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			s.publishMavlinkFrame(ctx, f)
		}
	}
}

func (s *Service) publishMavlinkFrame(ctx context.Context, f mavlink.Frame) {
	switch f.MsgID {
	case 30:
		if !s.hasSubscriber(StreamAttitude) {
			return
		}
		var m attitudeMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamAttitude), AttitudeSample{
			RollRad: m.Roll, PitchRad: m.Pitch, YawRad: m.Yaw,
		}))
	case 74:
		if !s.hasSubscriber(StreamVFRHUD) {
			return
		}
		var m vfrHUDMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamVFRHUD), VFRHUDSample{
			AirspeedMS: m.Airspeed, GroundspeedMS: m.Groundspeed,
			HeadingDeg: m.Heading, ThrottlePercent: int16(m.Throttle),
			AltitudeM: m.Alt, ClimbMS: m.Climb,
		}))
	case 24:
		if !s.hasSubscriber(StreamGPS) {
			return
		}
		var m gpsRawIntMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamGPS), GPSSample{
			FixType: m.FixType, SatellitesVisible: m.SatellitesVisible,
			LatE7: m.Lat, LonE7: m.Lon, AltMM: m.Alt,
		}))
	case 147:
		if !s.hasSubscriber(StreamBattery) {
			return
		}
		var m batteryStatusMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamBattery), BatterySample{
			VoltageMV: m.Voltages[0], CurrentCA: uint16(m.CurrentBattery), RemainingPercent: m.BatteryRemaining,
		}))
	case 65:
		if !s.hasSubscriber(StreamRCChannels) {
			return
		}
		var m rcChannelsMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamRCChannels), RCChannelsSample{
			ChannelsUS: [8]uint16{m.Chan1Raw, m.Chan2Raw, m.Chan3Raw, m.Chan4Raw, m.Chan5Raw, m.Chan6Raw, m.Chan7Raw, m.Chan8Raw},
		}))
	}
}

// mspPollPeriod is the round-robin poller's tick rate — spec.md §4's
// 20 Hz cap applied to the whole rotation, not per stream.
const mspPollPeriod = time.Second / maxRateHz

// runMSPPoller implements spec.md §4's "MSP round-robin poll loop" with
// its documented non-reentrant guard: if the previous rotation hasn't
// finished (a slow FC holding CallMSP past the next tick), the tick is
// skipped rather than queued, keeping invariant 5 (never two outstanding
// MSP requests) true even under load.
func (s *Service) runMSPPoller(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(mspPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.mspPolling.CompareAndSwap(false, true) {
				continue
			}
			s.pollOnce(ctx)
			s.mspPolling.Store(false)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	for stream, code := range streamMSPCode {
		if !s.hasSubscriber(stream) {
			continue
		}
		frame, err := s.l.CallMSP(ctx, code, nil, 500*time.Millisecond)
		if err != nil {
			continue
		}
		s.publishMSPFrame(ctx, stream, frame)
	}
}

func (s *Service) publishMSPFrame(ctx context.Context, stream Stream, f msp.Frame) {
	r := msp.NewPayloadReader(f.Payload)
	switch stream {
	case StreamAttitude:
		var m struct {
			RollDeciDeg  int16
			PitchDeciDeg int16
			YawDeg       int16
		}
		if r.Read(&m) != nil {
			return
		}
		const degToRad = 3.14159265 / 180
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamAttitude), AttitudeSample{
			RollRad:  float32(m.RollDeciDeg) / 10 * degToRad,
			PitchRad: float32(m.PitchDeciDeg) / 10 * degToRad,
			YawRad:   float32(m.YawDeg) * degToRad,
		}))
	case StreamGPS:
		var m struct {
			FixType    uint8
			NumSat     uint8
			LatE7      int32
			LonE7      int32
			AltM       int16
			GroundSpeed uint16
		}
		if r.Read(&m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamGPS), GPSSample{
			FixType: m.FixType, SatellitesVisible: m.NumSat,
			LatE7: m.LatE7, LonE7: m.LonE7, AltMM: int32(m.AltM) * 1000,
		}))
	case StreamBattery:
		var m struct {
			VBatDeciVolt uint8
			MAhDrawn     uint16
			RSSI         uint16
			AmperageCA   uint16
		}
		if r.Read(&m) != nil {
			return
		}
		s.bus.Publish(ctx, eventbus.NewTelemetrySample(string(StreamBattery), BatterySample{
			VoltageMV: uint16(m.VBatDeciVolt) * 100, CurrentCA: m.AmperageCA,
		}))
	}
}
