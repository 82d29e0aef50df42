package firmware

// betaflightToINav translates a Betaflight target name to its probable
// iNav equivalent for cross-firmware flashes, per spec.md §4.7. This is
// necessarily a best-effort table: the two projects' target names
// diverge over time and not every Betaflight target has an iNav twin.
var betaflightToINav = map[string]string{
	"MATEKF405":     "MATEKF405",
	"MATEKF405SE":   "MATEKF405SE",
	"MATEKF722":     "MATEKF722",
	"MATEKF722SE":   "MATEKF722SE",
	"SPEEDYBEEF405": "SPEEDYBEEF405WING",
	"OMNIBUSF4":     "OMNIBUSF4",
	"KAKUTEF7":      "KAKUTEF7",
	"AIRBOTF4":      "AIRBOTF4",
}

// MapBetaflightTargetToINav returns the probable iNav target name for a
// Betaflight target, and whether a mapping exists. Callers that get
// false should emit UnmatchedBoardWarning and let the shell present it,
// per spec.md §4.7.
func MapBetaflightTargetToINav(betaflightTarget string) (string, bool) {
	t, ok := betaflightToINav[betaflightTarget]
	return t, ok
}

// legacyF3Board describes one F3-class board modern iNav/Betaflight have
// dropped, for which a bounded legacy version is still offered.
type legacyF3Board struct {
	name          string
	lastINavVersion string
}

// f3AllowList is the small set of F3 boards spec.md §4.7 names as still
// supported via a version-bounded legacy build.
var f3AllowList = map[string]legacyF3Board{
	"FRSKYF3":   {name: "FrSky F3", lastINavVersion: "2.6.0"},
	"AIRHEROF3": {name: "Airhero F3", lastINavVersion: "2.6.0"},
	"SPRACINGF3": {name: "SPRacing F3", lastINavVersion: "2.6.0"},
}

// ClassifyF3 reports whether target is an allow-listed legacy F3 board,
// and if so, the last iNav version that still supports it. Boards
// matching neither this allow-list nor the current catalogue are simply
// Unsupported.
func ClassifyF3(target string) (legacyVersion string, allowed bool) {
	b, ok := f3AllowList[target]
	if !ok {
		return "", false
	}
	return b.lastINavVersion, true
}
