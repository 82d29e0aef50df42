package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/firmware"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/bootloader"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

// DownloadSpec configures the Downloading stage's firmware.Cache fetch.
// A nil *DownloadSpec on Job means ImagePath is already a local file and
// Downloading is just a progress tick.
type DownloadSpec struct {
	Cache           *firmware.Cache
	Source          firmware.Source
	Board           string
	VersionLabel    string
	FirmwareVersion firmware.FirmwareVersion
	ExpectedSHA256  string
}

// Job is everything one flash run needs beyond the open connection.
type Job struct {
	// ImagePath is the on-disk firmware file Verifying parses. Left
	// empty when Download is set; Downloading fills it in.
	ImagePath string
	Download  *DownloadSpec

	Target  Target
	Options Options

	// PageSizeBytes is the STM32 target's flash page size, from the
	// detection FSM's chip-id lookup; required for Erasing unless
	// Options.FullChipErase.
	PageSizeBytes uint32
}

// Dependencies are the environment-touching capabilities Run needs
// beyond the Job itself, injected so tests can fake the ones with real
// OS/network side effects.
type Dependencies struct {
	Bus *eventbus.Bus

	// ReopenTransport (re)opens the serial port after EnteringBootloader
	// closes it for the board's reset. Required for the stm32/dfu
	// flasher paths; unused for avrdude, which owns its own connection.
	ReopenTransport func(ctx context.Context) (transport.Transport, error)
}

// renumerationTimeout is how long Run waits for a new matching port
// after EnteringBootloader's close, per spec.md §4.8's error policy
// ("loss of transport ... is expected; the FSM waits up to 10s").
const renumerationTimeout = 10 * time.Second

// rebootSettleDelay is the fixed pause between closing the link and
// attempting to reopen it, giving the board's USB stack time to drop
// off the bus before it renumerates in bootloader mode.
const rebootSettleDelay = 2 * time.Second

// Result is what a completed flash produced.
type Result struct {
	Stage         Stage
	BytesWritten  int64
	PostFlashHook string // name of the post-flash hook that ran, if any
}

// Runner drives one flash job through the FSM in fsm.go. Create with
// NewRunner and call Run once; Abort may be called concurrently from
// another goroutine to request a safe-exit stop.
type Runner struct {
	deps Dependencies
	job  Job

	abort    chan struct{}
	reopened transport.Transport
}

// NewRunner prepares a Runner for job.
func NewRunner(deps Dependencies, job Job) *Runner {
	return &Runner{deps: deps, job: job, abort: make(chan struct{})}
}

// Abort requests a safe-exit stop at the next stage boundary. Idempotent.
func (r *Runner) Abort() {
	select {
	case <-r.abort:
	default:
		close(r.abort)
	}
}

func (r *Runner) abortRequested() bool {
	select {
	case <-r.abort:
		return true
	default:
		return false
	}
}

// Run drives the flash to completion (or failure) against l, an
// already-connected Link whose protocol (MAVLink or MSP) matches the
// board's pre-bootloader detection. It returns *FlashError for any
// fatal stage failure, *ErrAborted if Abort was called, or
// *ErrManualBootRequired for a serial-flasher board with no
// protocol-driven reboot path.
func (r *Runner) Run(ctx context.Context, l *link.Link) (*Result, error) {
	stage := StageIdle
	img := new(ParsedImage)
	result := &Result{}
	var lastStageErr error
	var failedStage Stage

	advance := func(o Outcome) []Effect {
		var effects []Effect
		stage, effects = step(stage, o)
		return effects
	}
	run := func(effects []Effect) {
		for _, eff := range effects {
			switch eff.Kind {
			case EffectEmitProgress:
				r.emitProgress(ctx, eff.Step, 0, 0, nil)
			case EffectEmitComplete:
				r.emitProgress(ctx, "Complete", result.BytesWritten, result.BytesWritten, nil)
			case EffectBeginAbort:
				r.emitProgress(ctx, "Aborting", 0, 0, nil)
				r.attemptSafeExit(img)
			}
		}
	}

	run(advance(OutcomeSuccess)) // Idle -> Downloading

	for !stage.Terminal() {
		if r.abortRequested() {
			run(advance(OutcomeAbortRequested))
			continue
		}

		var outcome Outcome
		var stageErr error

		switch stage {
		case StageDownloading:
			stageErr = r.doDownload(ctx)
			outcome = outcomeFor(stageErr)

		case StageVerifying:
			parsed, err := ParseImage(r.job.ImagePath, r.job.Target.AppLoadAddress)
			if err == nil {
				img = parsed
				err = r.checkBoardID(img)
			}
			stageErr = err
			outcome = outcomeFor(stageErr)

		case StageEnteringBootloader:
			newTransport, manualBoot, err := r.doEnterBootloader(ctx, l)
			switch {
			case manualBoot:
				outcome = OutcomeManualBootRequired
			case err != nil:
				stageErr = err
				outcome = outcomeFor(stageErr)
			default:
				r.reopened = newTransport
				outcome = OutcomeSuccess
			}

		case StageErasing:
			stageErr = r.doErase(img)
			outcome = outcomeFor(stageErr)

		case StageProgramming:
			written, err := r.doProgram(ctx, img)
			result.BytesWritten = written
			stageErr = err
			outcome = outcomeFor(stageErr)

		case StageVerifyingFlash:
			stageErr = r.doVerify(img)
			outcome = outcomeFor(stageErr)

		case StageRebooting:
			stageErr = r.doReboot(img)
			outcome = outcomeFor(stageErr)

		default:
			outcome = OutcomeError
			stageErr = fmt.Errorf("flash: unhandled stage %s", stage)
		}

		if stageErr != nil {
			lastStageErr = stageErr
			failedStage = stage
			r.emitProgress(ctx, stage.String(), 0, 0, stageErr)
		}
		run(advance(outcome))
	}

	switch stage {
	case StageComplete:
		if hookName, err := r.runPostFlashHook(ctx); err != nil {
			// Post-flash hooks are best-effort polish, not part of
			// spec.md §4.8's fatal error policy: a flash that wrote and
			// verified correctly but whose plane-mixer fix failed to
			// reconnect is still a successful flash.
			r.emitProgress(ctx, "PostFlashHook", 0, 0, err)
		} else {
			result.PostFlashHook = hookName
		}
		result.Stage = StageComplete
		return result, nil

	case StageManualBootRequired:
		if r.deps.Bus != nil {
			r.deps.Bus.Publish(ctx, eventbus.NewRequireManualBootPads(r.job.Target.Name))
		}
		return nil, &ErrManualBootRequired{}

	default: // StageError
		if r.abortRequested() {
			return nil, &ErrAborted{}
		}
		if lastStageErr == nil {
			lastStageErr = fmt.Errorf("flash failed")
		}
		return nil, &FlashError{Stage: failedStage, Cause: lastStageErr}
	}
}

func outcomeFor(err error) Outcome {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

func (r *Runner) emitProgress(ctx context.Context, stage string, done, total int64, err error) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(ctx, eventbus.NewFlashProgress(stage, done, total, err))
}

func (r *Runner) doDownload(ctx context.Context) error {
	spec := r.job.Download
	if spec == nil {
		return nil
	}
	path, err := spec.Cache.Download(ctx, spec.Source, spec.Board, spec.VersionLabel, spec.FirmwareVersion, spec.ExpectedSHA256, func(done, total int64) {
		r.emitProgress(ctx, "Downloading", done, total, nil)
	})
	if err != nil {
		return err
	}
	r.job.ImagePath = path
	return nil
}

func (r *Runner) checkBoardID(img *ParsedImage) error {
	if r.job.Options.OverrideBoardID {
		return nil
	}
	if !img.HasBoardID || !r.job.Target.HasBoardID {
		return nil
	}
	if img.BoardID != r.job.Target.ExpectedBoardID {
		return &ErrBoardIDMismatch{ImageBoardID: img.BoardID, ExpectedBoardID: r.job.Target.ExpectedBoardID}
	}
	return nil
}

// bootloaderClient returns an AN3155 client bound directly to the
// reopened transport, bypassing Link entirely per link.go's own
// "bootloader stages own the wire directly" comment on Link.Transport.
func (r *Runner) bootloaderClient() *bootloader.Client {
	return bootloader.New(r.reopened)
}
