// Package telemetry implements spec.md §4's periodic scheduler and
// telemetry fan-out: subscribeTelemetry/unsubscribe (§6), backed by
// MAVLink's unsolicited-stream messages (ATTITUDE, VFR_HUD, GPS_RAW_INT,
// BATTERY_STATUS, RC_CHANNELS) requested via MAV_CMD_SET_MESSAGE_INTERVAL,
// or MSP's round-robin poll loop (MSP_ATTITUDE, MSP_RAW_GPS, MSP_ANALOG)
// for boards with no MAVLink. Samples are published to the shared
// eventbus.Bus as TelemetrySample events so a slow shell can opt into
// latest-only coalescing per stream, per spec.md §4.10.
package telemetry

import "fmt"

// Stream names the telemetry §6 subscribeTelemetry(stream, rateHz) call
// accepts. Each maps to exactly one MAVLink message id or MSP code,
// whichever the connected Link speaks.
type Stream string

const (
	StreamAttitude    Stream = "attitude"
	StreamVFRHUD      Stream = "vfr_hud"
	StreamGPS         Stream = "gps"
	StreamBattery     Stream = "battery"
	StreamRCChannels  Stream = "rc_channels"
)

// maxRateHz is the periodic-scheduler cap spec.md §4 sets ("capped at
// 20 Hz") for both the MAVLink SET_MESSAGE_INTERVAL request and the MSP
// round-robin poll period.
const maxRateHz = 20

// Token identifies one subscribeTelemetry call for unsubscribe.
type Token uint64

// ErrUnknownStream is returned by Subscribe for a Stream this package
// doesn't recognise.
type ErrUnknownStream struct {
	Stream Stream
}

func (e *ErrUnknownStream) Error() string {
	return fmt.Sprintf("telemetry: unknown stream %q", e.Stream)
}

// AttitudeSample, VFRHUDSample, GPSSample, BatterySample, and
// RCChannelsSample are the decoded payloads carried by a
// eventbus.TelemetrySample for their respective Stream — the same shape
// regardless of whether the underlying connection is MAVLink or MSP, so
// a shell never branches on protocol.
type AttitudeSample struct {
	RollRad, PitchRad, YawRad float32
}

type VFRHUDSample struct {
	AirspeedMS, GroundspeedMS float32
	HeadingDeg                int16
	ThrottlePercent           int16
	AltitudeM, ClimbMS        float32
}

type GPSSample struct {
	FixType            uint8
	SatellitesVisible  uint8
	LatE7, LonE7       int32
	AltMM              int32
}

type BatterySample struct {
	VoltageMV  uint16
	CurrentCA  uint16 // centiamps
	RemainingPercent int8
}

type RCChannelsSample struct {
	ChannelsUS [8]uint16
}
