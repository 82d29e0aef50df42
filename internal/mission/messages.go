package mission

// Package-local MAVLink message structs, field-compatible with
// gomavlib's dialects/common shapes, following the same pattern
// internal/detection/messages.go uses: this core's codec only needs
// GetID() and the struct's field layout, not the generated dialect
// package itself.

type missionRequestListMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     uint8
}

func (missionRequestListMsg) GetID() uint32 { return 43 }

type missionCountMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	Count           uint16
	MissionType     uint8
}

func (missionCountMsg) GetID() uint32 { return 44 }

type missionRequestIntMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	Seq             uint16
	MissionType     uint8
}

func (missionRequestIntMsg) GetID() uint32 { return 51 }

type missionItemIntMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	Seq             uint16
	Frame           uint8
	Command         uint16
	Current         uint8
	Autocontinue    uint8
	Param1          float32
	Param2          float32
	Param3          float32
	Param4          float32
	X               int32
	Y               int32
	Z               float32
	MissionType     uint8
}

func (missionItemIntMsg) GetID() uint32 { return 73 }

type missionAckMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	Type            uint8
	MissionType     uint8
}

func (missionAckMsg) GetID() uint32 { return 47 }

type missionClearAllMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	MissionType     uint8
}

func (missionClearAllMsg) GetID() uint32 { return 45 }
