package msp

// Command codes this system speaks, extending fiam-msp-tool/msp.go's
// const block with the codes spec.md's modes/flash-posthook components
// need. Values are the documented MSP/iNav command numbers.
const (
	APIVersion uint16 = 1
	FCVariant  uint16 = 2
	FCVersion  uint16 = 3
	BoardInfo  uint16 = 4
	BuildInfo  uint16 = 5

	Name    uint16 = 10
	SetName uint16 = 11

	Feature    uint16 = 36
	SetFeature uint16 = 37

	ModeRanges    uint16 = 34
	SetModeRange  uint16 = 35
	BoxIDs        uint16 = 41
	BoxNames      uint16 = 116

	CfSerialConfig    uint16 = 54
	SetCfSerialConfig uint16 = 55

	RXMap uint16 = 64

	RC       uint16 = 105
	RawGPS   uint16 = 106
	Attitude uint16 = 108
	Analog   uint16 = 110

	Reboot uint16 = 68

	SetRawRC uint16 = 200

	EepromWrite uint16 = 250

	DebugMsg uint16 = 253

	// SetInavPlatformType is sourced from iNav's fc_msp.c MSP2_INAV_*
	// mixer family (function number 2036) used by the post-flash plane
	// mixer fix (spec.md §4.8). Not in the official MSP spec document —
	// flagged here rather than guessed silently, per the Open Question
	// resolution in DESIGN.md.
	SetInavPlatformType uint16 = 2036

	// InavMixer (MSP2_INAV_MIXER) is the paired read for
	// SetInavPlatformType, same MSP2_INAV_* family, same provenance
	// caveat: not in the official MSP spec document, needed only by the
	// post-flash plane-mixer hook in internal/flash.
	InavMixer uint16 = 2020
)
