package telemetry

// MAVLink message structs for the five unsolicited streams spec.md §4
// names, shaped like gomavlib/pkg/dialects/common's generated types per
// the same grounding internal/detection/messages.go and
// internal/protocol/mavlink/payload.go already use. Kept local because
// none of ATTITUDE/GPS_RAW_INT/VFR_HUD/RC_CHANNELS/BATTERY_STATUS is
// ever decoded in flightpath-server/internal/mavlink/client.go (the
// teacher only subscribes to them upstream of a UI this repo doesn't
// share), so their exact generated field casing has no direct evidence
// here — unlike COMMAND_LONG, service.go now builds
// gomavlib/v3/pkg/dialects/common.MessageCommandLong directly for
// requestMavlinkInterval, the same confirmed shape internal/detection
// and internal/flash use.

type attitudeMsg struct {
	TimeBootMs uint32
	Roll       float32
	Pitch      float32
	Yaw        float32
	RollSpeed  float32
	PitchSpeed float32
	YawSpeed   float32
}

func (attitudeMsg) GetID() uint32 { return 30 }

type gpsRawIntMsg struct {
	TimeUsec          uint64
	Lat               int32
	Lon               int32
	Alt               int32
	Eph               uint16
	Epv               uint16
	Vel               uint16
	Cog               uint16
	FixType           uint8
	SatellitesVisible uint8
}

func (gpsRawIntMsg) GetID() uint32 { return 24 }

type vfrHUDMsg struct {
	Airspeed    float32
	Groundspeed float32
	Alt         float32
	Climb       float32
	Heading     int16
	Throttle    uint16
}

func (vfrHUDMsg) GetID() uint32 { return 74 }

type rcChannelsMsg struct {
	TimeBootMs uint32
	Chan1Raw   uint16
	Chan2Raw   uint16
	Chan3Raw   uint16
	Chan4Raw   uint16
	Chan5Raw   uint16
	Chan6Raw   uint16
	Chan7Raw   uint16
	Chan8Raw   uint16
	Chan9Raw   uint16
	Chan10Raw  uint16
	Chan11Raw  uint16
	Chan12Raw  uint16
	Chan13Raw  uint16
	Chan14Raw  uint16
	Chan15Raw  uint16
	Chan16Raw  uint16
	Chan17Raw  uint16
	Chan18Raw  uint16
	ChanCount  uint8
	Rssi       uint8
}

func (rcChannelsMsg) GetID() uint32 { return 65 }

type batteryStatusMsg struct {
	CurrentConsumed  int32
	EnergyConsumed   int32
	Temperature      int16
	Voltages         [10]uint16
	CurrentBattery   int16
	IDBattery        uint8
	BatteryFunction  uint8
	Type             uint8
	BatteryRemaining int8
}

func (batteryStatusMsg) GetID() uint32 { return 147 }

// mavCmdSetMessageInterval is the COMMAND_LONG command id used to ask an
// ArduPilot-family autopilot to stream a given message id at a given
// interval, per spec.md §4's "MAVLink REQUEST_DATA_STREAM/
// SET_MESSAGE_INTERVAL" note.
const mavCmdSetMessageInterval = 511
