package detection

// Outcome is what a detection step attempt produced, in the vocabulary
// the pure step function needs: it never sees frames or bytes, only
// whether its one attempt succeeded, timed out, failed outright, or the
// port vanished underneath it.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeProtocolError
	OutcomePortGone
)

// EffectKind tags what the driver should do in response to a step
// transition.
type EffectKind int

const (
	EffectEmitProgress EffectKind = iota
	EffectEmitResult
	EffectEmitAborted
)

type Effect struct {
	Kind EffectKind
	Step string // human label for EffectEmitProgress ("TryMavlink", ...)
}

// step is the pure transition function spec.md §9 calls for in place of
// the source's promise-chained FSM: given the current state and the
// outcome of whatever attempt that state just made, it returns the next
// state and the effects the driver should perform. It has no I/O and no
// timers, which is what makes §8's ordering invariant ("a later step is
// attempted only after the prior step has timed out or errored")
// directly unit-testable: feed it a sequence of outcomes and assert the
// state sequence, with no Transport or timer double required.
func step(s State, o Outcome) (State, []Effect) {
	if o == OutcomePortGone {
		return StateAborted, []Effect{{Kind: EffectEmitAborted}}
	}

	switch s {
	case StateOpenAndClassify:
		return StateTryMavlink, []Effect{{Kind: EffectEmitProgress, Step: "TryMavlink"}}

	case StateTryMavlink:
		if o == OutcomeSuccess {
			return StateDone, []Effect{{Kind: EffectEmitResult}}
		}
		return StateTryMsp, []Effect{{Kind: EffectEmitProgress, Step: "TryMsp"}}

	case StateTryMsp:
		if o == OutcomeSuccess {
			return StateDone, []Effect{{Kind: EffectEmitResult}}
		}
		return StateTryBootloader, []Effect{{Kind: EffectEmitProgress, Step: "TryBootloader"}}

	case StateTryBootloader:
		if o == OutcomeSuccess {
			return StateDone, []Effect{{Kind: EffectEmitResult}}
		}
		return StateGiveUp, []Effect{{Kind: EffectEmitResult}}

	default:
		// Already terminal; no further transitions.
		return s, nil
	}
}
