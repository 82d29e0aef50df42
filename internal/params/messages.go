package params

// Package-local MAVLink message structs, same pattern as
// internal/mission/messages.go and internal/detection/messages.go.

type paramRequestListMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
}

func (paramRequestListMsg) GetID() uint32 { return 21 }

type paramRequestReadMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         [16]byte
	ParamIndex      int16
}

func (paramRequestReadMsg) GetID() uint32 { return 20 }

type paramValueMsg struct {
	ParamID    [16]byte
	ParamValue float32
	ParamType  uint8
	ParamCount uint16
	ParamIndex uint16
}

func (paramValueMsg) GetID() uint32 { return 22 }

type paramSetMsg struct {
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         [16]byte
	ParamValue      float32
	ParamType       uint8
}

func (paramSetMsg) GetID() uint32 { return 23 }
