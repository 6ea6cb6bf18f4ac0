// Package version holds the bootloader's identity constants. Unlike a
// host-side build, a bootloader's version is not a build-time ldflag: it's
// the two fixed bytes (vmajor, vminor) the GETTMNLV reply transmits to the
// bus master, so here they're constants rather than ldflag-settable vars.
package version

// Major and Minor are transmitted verbatim in the GETTMNLV reply.
const (
	Major uint8 = 1
	Minor uint8 = 4
)

// Feature bits transmitted in the GETTMNLV reply's "features" byte.
const (
	FeatAutoPageAddr uint8 = 1 << iota
	FeatSetPageAddr
	FeatReadFlash
	FeatTwoStepInit
	FeatAppUseTplPage
	FeatCheckPageIx
	FeatTimeoutExit
)

// Extended feature bits transmitted in the GETTMNLV reply's "ext_features"
// byte, for flags that don't affect wire behavior but are still useful for
// a host to know about.
const (
	ExtFeatForceErasePage uint8 = 1 << iota
	ExtFeatWatchdogReset
	ExtFeatLEDUI
	ExtFeatAutoClockTweak
)

// BuildMarker identifies this exact source revision in a flashed image,
// useful when confirming which firmware actually made it onto a device.
const BuildMarker = "timonel-go-core-1"
