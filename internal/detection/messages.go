package detection

// HEARTBEAT, COMMAND_LONG, and AUTOPILOT_VERSION_REQUEST reuse
// gomavlib/v3/pkg/dialects/common's generated structs directly (see
// driver.go's imports) since this core's reflection-based codec only
// needs GetID() and the struct's field layout, which the generated
// types already provide.
//
// AUTOPILOT_VERSION (148) stays hand-rolled: several of its fields
// (flight/middleware/os software-version words, the two UID arrays)
// can't be confirmed against this codebase's evidence for the
// generator's acronym-casing convention, and a field-order mismatch
// here would silently corrupt every other field after it, so this one
// message is kept local rather than guessed.

const (
	mavCmdRequestMessage  = 512
	autopilotVersionMsgID = 148
)

type autopilotVersionMsg struct {
	Capabilities            uint64
	UID                     uint64
	FlightSWVersion         uint32
	MiddlewareSWVersion     uint32
	OSSWVersion             uint32
	BoardVersion            uint32
	VendorID                uint16
	ProductID               uint16
	FlightCustomVersion     [8]byte
	MiddlewareCustomVersion [8]byte
	OSCustomVersion         [8]byte
	UIDUint8                [18]byte
}

func (autopilotVersionMsg) GetID() uint32 { return autopilotVersionMsgID }
