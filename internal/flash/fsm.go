package flash

// Outcome is what a stage attempt produced, in the vocabulary the pure
// step function needs — mirroring internal/detection/fsm.go's Outcome,
// generalised with the two flash-specific terminal signals spec.md §4.8
// calls out: a recognised no-native-USB board, and an abort request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeManualBootRequired
	OutcomeAbortRequested
)

// EffectKind tags what the driver should do in response to a step
// transition.
type EffectKind int

const (
	EffectEmitProgress EffectKind = iota
	EffectEmitComplete
	EffectEmitError
	EffectEmitManualBootRequired
	EffectBeginAbort
	EffectEmitAborted
)

type Effect struct {
	Kind EffectKind
	Step string // human label for EffectEmitProgress
}

// step is the pure transition function spec.md §9 calls for in place of
// the source's promise-chained flash FSM: given the current stage and
// the outcome of whatever attempt that stage just made, it returns the
// next stage and the effects the driver should perform. No I/O, no
// timers — §8's error-policy and ordering properties are unit-testable
// by feeding it an outcome sequence and asserting the stage sequence.
func step(s Stage, o Outcome) (Stage, []Effect) {
	if s.Terminal() {
		return s, nil
	}

	if o == OutcomeAbortRequested {
		if s == StageAborting {
			return StageError, []Effect{{Kind: EffectEmitAborted}}
		}
		return StageAborting, []Effect{{Kind: EffectBeginAbort}}
	}

	if o == OutcomeManualBootRequired {
		return StageManualBootRequired, []Effect{{Kind: EffectEmitManualBootRequired}}
	}

	if o == OutcomeError {
		return StageError, []Effect{{Kind: EffectEmitError}}
	}

	switch s {
	case StageIdle:
		return StageDownloading, []Effect{{Kind: EffectEmitProgress, Step: "Downloading"}}
	case StageDownloading:
		return StageVerifying, []Effect{{Kind: EffectEmitProgress, Step: "Verifying"}}
	case StageVerifying:
		return StageEnteringBootloader, []Effect{{Kind: EffectEmitProgress, Step: "EnteringBootloader"}}
	case StageEnteringBootloader:
		return StageErasing, []Effect{{Kind: EffectEmitProgress, Step: "Erasing"}}
	case StageErasing:
		return StageProgramming, []Effect{{Kind: EffectEmitProgress, Step: "Programming"}}
	case StageProgramming:
		return StageVerifyingFlash, []Effect{{Kind: EffectEmitProgress, Step: "VerifyingFlash"}}
	case StageVerifyingFlash:
		return StageRebooting, []Effect{{Kind: EffectEmitProgress, Step: "Rebooting"}}
	case StageRebooting:
		return StageComplete, []Effect{{Kind: EffectEmitComplete}}
	case StageAborting:
		// Safe-exit attempt completed without further abort signal.
		return StageError, []Effect{{Kind: EffectEmitAborted}}
	default:
		return s, nil
	}
}
