// Package mission implements the chunked MAVLink mission/rally transfer
// protocol: MISSION_REQUEST_LIST -> MISSION_COUNT -> per-seq
// MISSION_REQUEST_INT/MISSION_ITEM_INT -> MISSION_ACK, generalised to
// support both directions. Grounded on
// flightpath-server/internal/mavlink/client.go's UploadMission/
// sendMissionItem/handleMissionRequestInt/handleMissionAck; download is
// the teacher left as a TODO and SPEC_FULL restores.
package mission

import (
	"fmt"
)

// MAV_MISSION_TYPE values (spec.md §4.9).
const (
	TypeMission uint8 = 0
	TypeFence   uint8 = 1
	TypeRally   uint8 = 2
	TypeAll     uint8 = 255
)

// MAV_CMD_NAV_RALLY_POINT, the command id rally points are carried as.
const CmdNavRallyPoint uint16 = 5100

// MAV_MISSION_RESULT values relevant to the ack.
const (
	MissionAccepted uint8 = 0
)

// Item is one mission (or rally) item, independent of the MAVLink wire
// shape: lat/lon in degrees, altitude in meters.
type Item struct {
	Seq          uint16
	Frame        uint8
	Command      uint16
	Current      uint8
	Autocontinue uint8
	Param1       float32
	Param2       float32
	Param3       float32
	Param4       float32
	Latitude     float64
	Longitude    float64
	Altitude     float32
}

// RallyPoint is the spec.md §3 RallyPoint value, carried on the wire as
// a mission item with mission_type = RALLY and command NAV_RALLY_POINT.
type RallyPoint struct {
	Seq           uint16
	Latitude      float64
	Longitude     float64
	Altitude      float32
	BreakAltitude float32
	LandDirection float32
	Flags         uint8
}

// toItem converts a RallyPoint to the wire Item shape used for both
// mission and rally transfers. BreakAltitude/LandDirection/Flags are
// carried in Param1-3 (no standard dialect field exists for them, so
// this core's own rally encoding lives entirely in this package).
func (r RallyPoint) toItem() Item {
	return Item{
		Seq:          r.Seq,
		Frame:        frameGlobalRelativeAlt,
		Command:      CmdNavRallyPoint,
		Autocontinue: 1,
		Param1:       r.BreakAltitude,
		Param2:       r.LandDirection,
		Param3:       float32(r.Flags),
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Altitude:     r.Altitude,
	}
}

func rallyFromItem(it Item) RallyPoint {
	return RallyPoint{
		Seq:           it.Seq,
		Latitude:      it.Latitude,
		Longitude:     it.Longitude,
		Altitude:      it.Altitude,
		BreakAltitude: it.Param1,
		LandDirection: it.Param2,
		Flags:         uint8(it.Param3),
	}
}

// frameGlobalRelativeAlt is MAV_FRAME_GLOBAL_RELATIVE_ALT, the frame
// spec.md §8's open question resolves rally point altitude to use
// (see DESIGN.md).
const frameGlobalRelativeAlt uint8 = 3

// ErrAckRejected reports a MISSION_ACK whose type was not ACCEPTED.
type ErrAckRejected struct {
	Result uint8
}

func (e *ErrAckRejected) Error() string {
	return fmt.Sprintf("mission: ack rejected: result=%d", e.Result)
}

// ErrOutOfOrderItem reports a MISSION_ITEM_INT whose seq didn't match
// what was requested.
type ErrOutOfOrderItem struct {
	Want, Got uint16
}

func (e *ErrOutOfOrderItem) Error() string {
	return fmt.Sprintf("mission: out of order item: want seq %d, got %d", e.Want, e.Got)
}
