package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
)

// platformTypeAirplane is iNav's MSP2_INAV_MIXER platformType value for
// a fixed-wing plane; every other value is a multirotor/other frame the
// hook leaves alone.
const platformTypeAirplane = 1

// inavMixerConfig mirrors iNav's MSP2_INAV_MIXER payload layout closely
// enough for this hook's one read: the platformType byte the post-flash
// fix inspects and, if wrong, overwrites via MSP_SET_INAV_PLATFORM_TYPE.
// Field names/offsets before and after PlatformType are unconfirmed
// (same Open Question as SetInavPlatformType in codes.go) so they're
// left as opaque padding rather than named guesses.
type inavMixerConfig struct {
	_            uint8 // motorDirectionInverted
	_            uint8 // unused
	_            uint8 // motorStopOnLow
	PlatformType uint8
}

// PostFlashStep is the declarative hook unit spec.md §4.8 requires ("must
// be representable as a declarative step list so other firmware/vehicle
// pairs can add equivalents without changing the FSM"). The retry/delay
// constants live on the step value rather than as package consts, per
// the spec's Open Question note that they look empirical and should stay
// parameterised.
type PostFlashStep struct {
	Name string

	// Applies reports whether this step runs for the given target.
	Applies func(Target) bool

	SettleDelay       time.Duration
	ReconnectAttempts int
	ReconnectInterval time.Duration
	InterCommandDelay time.Duration

	// Apply runs the step's MSP exchange against a freshly reconnected,
	// MSP-enabled Link.
	Apply func(ctx context.Context, l *link.Link) error
}

// INavPlanePostFlashHook is spec.md §4.8's iNav plane mixer fix: after a
// settle delay and up to ReconnectAttempts reconnects, read
// MSP2_INAV_MIXER and, if platformType isn't AIRPLANE, set it, save to
// EEPROM, and reboot.
var INavPlanePostFlashHook = PostFlashStep{
	Name: "inav-plane-mixer-fix",
	Applies: func(t Target) bool {
		return t.VehicleFirmware == "inav" && t.IsPlane
	},
	SettleDelay:       6 * time.Second,
	ReconnectAttempts: 3,
	ReconnectInterval: 3 * time.Second,
	InterCommandDelay: 500 * time.Millisecond,
	Apply:             applyINavPlaneMixerFix,
}

// PostFlashSteps is the ordered list Run consults in Complete; new
// firmware/vehicle post-flash fixes are added here, not in fsm.go.
var PostFlashSteps = []PostFlashStep{INavPlanePostFlashHook}

const mixerHookTimeout = 2 * time.Second

func applyINavPlaneMixerFix(ctx context.Context, l *link.Link) error {
	frame, err := l.CallMSP(ctx, msp.InavMixer, nil, mixerHookTimeout)
	if err != nil {
		return fmt.Errorf("read MSP2_INAV_MIXER: %w", err)
	}

	var cfg inavMixerConfig
	if err := msp.NewPayloadReader(frame.Payload).Read(&cfg); err != nil {
		return fmt.Errorf("decode MSP2_INAV_MIXER: %w", err)
	}
	if cfg.PlatformType == platformTypeAirplane {
		return nil
	}

	payload, err := msp.EncodeArgs(uint8(platformTypeAirplane))
	if err != nil {
		return err
	}
	if _, err := l.CallMSP(ctx, msp.SetInavPlatformType, payload, mixerHookTimeout); err != nil {
		return fmt.Errorf("write MSP_SET_INAV_PLATFORM_TYPE: %w", err)
	}
	if _, err := l.CallMSP(ctx, msp.EepromWrite, nil, mixerHookTimeout); err != nil {
		return fmt.Errorf("MSP_EEPROM_WRITE: %w", err)
	}
	if err := l.WriteMSP(msp.Reboot, nil); err != nil {
		return fmt.Errorf("MSP_SET_REBOOT: %w", err)
	}
	return nil
}
