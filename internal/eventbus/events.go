package eventbus

import "time"

// Kind tags the concrete type of an Event so a shell can switch on it
// without type-asserting every variant.
type Kind string

const (
	KindPortDisappeared    Kind = "port_disappeared"
	KindDetectionProgress  Kind = "detection_progress"
	KindDetectionResult    Kind = "detection_result"
	KindFlashProgress      Kind = "flash_progress"
	KindRequireManualBoot  Kind = "require_manual_boot_pads"
	KindMissionProgress    Kind = "mission_progress"
	KindParamChanged       Kind = "param_changed"
	KindTelemetrySample    Kind = "telemetry_sample"
	KindCrcError           Kind = "crc_error"
	KindUnmatchedBoard     Kind = "unmatched_board_warning"
	KindLinkDisconnected   Kind = "link_disconnected"
)

// Event is the common interface every outbound signal satisfies. Kind()
// lets the bus decide coalescing eligibility without reflection.
type Event interface {
	Kind() Kind
	// Stream identifies the coalescing group for telemetry-like events;
	// empty for everything else.
	Stream() string
	Time() time.Time
}

type base struct {
	kind Kind
	t    time.Time
}

func (b base) Kind() Kind      { return b.kind }
func (b base) Stream() string  { return "" }
func (b base) Time() time.Time { return b.t }

// PortDisappeared fires when the enumerator notices the active port's
// (path, vid, pid) tuple is gone between two polls.
type PortDisappeared struct {
	base
	Path string
}

func NewPortDisappeared(path string) PortDisappeared {
	return PortDisappeared{base: base{kind: KindPortDisappeared, t: time.Now()}, Path: path}
}

// DetectionProgress reports which detection step is currently running.
type DetectionProgress struct {
	base
	Step string
}

func NewDetectionProgress(step string) DetectionProgress {
	return DetectionProgress{base: base{kind: KindDetectionProgress, t: time.Now()}, Step: step}
}

// DetectionResult carries the terminal outcome of detectBoard.
type DetectionResult struct {
	base
	Board *DetectedBoardSummary
	Err   error
}

// DetectedBoardSummary is the event-bus-safe projection of a detected
// board; full detail lives in package detection to avoid an import cycle.
type DetectedBoardSummary struct {
	Name            string
	DetectionMethod string
	InBootloader    bool
}

func NewDetectionResult(board *DetectedBoardSummary, err error) DetectionResult {
	return DetectionResult{base: base{kind: KindDetectionResult, t: time.Now()}, Board: board, Err: err}
}

// FlashProgress reports a Flash FSM stage transition and, within
// Downloading/Programming, a byte counter.
type FlashProgress struct {
	base
	Stage        string
	BytesDone    int64
	BytesTotal   int64
	Err          error
}

func NewFlashProgress(stage string, done, total int64, err error) FlashProgress {
	return FlashProgress{base: base{kind: KindFlashProgress, t: time.Now()}, Stage: stage, BytesDone: done, BytesTotal: total, Err: err}
}

// RequireManualBootPads signals the flash stage gave up because the board
// has no native USB and needs a physical boot strap, not a text error.
type RequireManualBootPads struct {
	base
	BoardName string
}

func NewRequireManualBootPads(boardName string) RequireManualBootPads {
	return RequireManualBootPads{base: base{kind: KindRequireManualBoot, t: time.Now()}, BoardName: boardName}
}

// MissionProgress reports one item of a chunked mission/rally transfer.
type MissionProgress struct {
	base
	Direction string // "upload" or "download"
	Index     int
	Total     int
}

func NewMissionProgress(direction string, index, total int) MissionProgress {
	return MissionProgress{base: base{kind: KindMissionProgress, t: time.Now()}, Direction: direction, Index: index, Total: total}
}

// ParamChanged fires when a parameter's cached value changes, including
// the confirmation round-trip after a write.
type ParamChanged struct {
	base
	ParamID  string
	NewValue float32
}

func NewParamChanged(id string, value float32) ParamChanged {
	return ParamChanged{base: base{kind: KindParamChanged, t: time.Now()}, ParamID: id, NewValue: value}
}

// TelemetrySample is the one event kind allowed to be coalesced
// per-subscriber; Stream identifies which periodic data stream it belongs
// to (e.g. "attitude", "gps", "battery").
type TelemetrySample struct {
	base
	StreamName string
	Payload    any
}

func NewTelemetrySample(stream string, payload any) TelemetrySample {
	return TelemetrySample{base: base{kind: KindTelemetrySample, t: time.Now()}, StreamName: stream, Payload: payload}
}

func (t TelemetrySample) Stream() string { return t.StreamName }

// CrcError reports one codec-level CRC mismatch so a shell can drive a
// quality meter without the link treating it as fatal.
type CrcError struct {
	base
	Protocol string
}

func NewCrcError(protocol string) CrcError {
	return CrcError{base: base{kind: KindCrcError, t: time.Now()}, Protocol: protocol}
}

// UnmatchedBoardWarning fires when the firmware manifest service cannot
// map a Betaflight target name to an iNav target (or vice versa).
type UnmatchedBoardWarning struct {
	base
	SourceTarget string
}

func NewUnmatchedBoardWarning(target string) UnmatchedBoardWarning {
	return UnmatchedBoardWarning{base: base{kind: KindUnmatchedBoard, t: time.Now()}, SourceTarget: target}
}

// LinkDisconnected fires once when the Link's transport is lost, after
// every pending waiter has already been resolved with Disconnected.
type LinkDisconnected struct {
	base
	Reason error
}

func NewLinkDisconnected(reason error) LinkDisconnected {
	return LinkDisconnected{base: base{kind: KindLinkDisconnected, t: time.Now()}, Reason: reason}
}
