// Package flash implements the firmware flashing state machine of
// spec.md §4.8: Downloading -> Verifying -> EnteringBootloader -> Erasing
// -> Programming -> VerifyingFlash -> Rebooting -> Complete, with Error
// and Aborting side states. Per spec.md §9's design note, the transition
// logic is a pure step(stage, outcome) function (fsm.go) so §8's ordering
// and error-policy properties are unit-testable with no transport or
// timer double; Run (driver.go) performs the real downloads, protocol
// exchanges, and shell-outs the pure function asked for.
package flash

import "fmt"

// Stage is one node of the flash FSM.
type Stage int

const (
	StageIdle Stage = iota
	StageDownloading
	StageVerifying
	StageEnteringBootloader
	StageErasing
	StageProgramming
	StageVerifyingFlash
	StageRebooting
	StageComplete
	StageAborting
	StageError
	StageManualBootRequired
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageDownloading:
		return "Downloading"
	case StageVerifying:
		return "Verifying"
	case StageEnteringBootloader:
		return "EnteringBootloader"
	case StageErasing:
		return "Erasing"
	case StageProgramming:
		return "Programming"
	case StageVerifyingFlash:
		return "VerifyingFlash"
	case StageRebooting:
		return "Rebooting"
	case StageComplete:
		return "Complete"
	case StageAborting:
		return "Aborting"
	case StageError:
		return "Error"
	case StageManualBootRequired:
		return "ManualBootRequired"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s has no further transitions.
func (s Stage) Terminal() bool {
	switch s {
	case StageComplete, StageError, StageManualBootRequired:
		return true
	default:
		return false
	}
}

// FlasherKind names the mechanism used to get bytes into the target's
// flash, keyed off config.BoardHint.Flasher.
type FlasherKind string

const (
	FlasherSTM32Bootloader FlasherKind = "stm32"
	FlasherDFU             FlasherKind = "dfu"
	FlasherAVRDude         FlasherKind = "avrdude"
	FlasherSerial          FlasherKind = "serial"
)

// Target describes the board being flashed: which mechanism programs it
// and what the image's embedded board id is expected to match.
type Target struct {
	Flasher FlasherKind

	// Name is the detected board's human-readable name, used only for
	// the RequireManualBootPads event.
	Name string

	// ExpectedBoardID is the detected board's numeric id, compared
	// against the parsed image's embedded board id in Verifying.
	ExpectedBoardID int
	HasBoardID      bool

	// AppLoadAddress is the flash base address the STM32 bootloader
	// path writes to and GO jumps to (typically 0x08000000).
	AppLoadAddress uint32

	// DFUAltSetting/DFUSerial/DFUFlashOffset select which dfu-util
	// alternate-setting device to flash, filled in by the DFU listing
	// scrape in dfu.go when empty.
	DFUAltSetting  string
	DFUSerial      string
	DFUFlashOffset string

	// AVRPart/AVRProgrammer/AVRDevicePath select avrdude's -p/-c/-P flags.
	AVRPart       string
	AVRProgrammer string
	AVRDevicePath string

	// VehicleFirmware and IsPlane select an applicable post-flash hook
	// (posthook.go); both empty/false means none applies.
	VehicleFirmware string
	IsPlane         bool
}

// Options are the user-facing flash knobs from spec.md §4.8.
type Options struct {
	NoRebootSequence bool
	FullChipErase    bool
	VerifyAfterWrite bool
	OverrideBoardID  bool
}

// FlashError is the fatal error spec.md §4.8's error policy names:
// timeout, NAK-exhausted, and CRC failures all surface as one of these,
// tagged with the stage they occurred in.
type FlashError struct {
	Stage Stage
	Cause error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("flash: %s: %v", e.Stage, e.Cause)
}

func (e *FlashError) Unwrap() error { return e.Cause }

// ErrBoardIDMismatch is the Verifying-stage rejection spec.md §4.8 calls
// for when the image's embedded board id doesn't match the detected
// board, and Options.OverrideBoardID wasn't set.
type ErrBoardIDMismatch struct {
	ImageBoardID    int
	ExpectedBoardID int
}

func (e *ErrBoardIDMismatch) Error() string {
	return fmt.Sprintf("flash: image board id %d does not match detected board id %d", e.ImageBoardID, e.ExpectedBoardID)
}

// ErrAborted is returned when abort() was called mid-flash.
type ErrAborted struct{}

func (e *ErrAborted) Error() string { return "flash: aborted" }

// ErrManualBootRequired is returned (not as a FlashError — this is a
// clean stop, not a failure) when EnteringBootloader finds a
// FlasherSerial target with no protocol-driven reboot path.
type ErrManualBootRequired struct{}

func (e *ErrManualBootRequired) Error() string {
	return "flash: board has no native USB; operator must enter bootloader manually"
}
