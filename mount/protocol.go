package mount

import "time"

// Protocol is the command layer for one mount family. Implementations are
// not safe for concurrent use; the driver serializes access.
//
// lst arguments are the local sidereal time in hours, which families that
// work in motor counts need to convert to and from hour angle.
type Protocol interface {
	Family() Family
	// Handshake identifies the mount and returns what it supports.
	Handshake() (Capabilities, error)
	ReadPosition(lst float64) (EquatorialCoord, error)
	// Goto starts a slew and returns the pier side the mount will end up on.
	Goto(target EquatorialCoord, lst float64) (PierSide, error)
	Sync(target EquatorialCoord, lst float64, mode SyncMode) error
	Abort() error
	// SetTracking selects a tracking mode. TrackOff stops tracking and
	// TrackCustom applies the rates given to SetTrackRate.
	SetTracking(mode TrackMode) error
	// SetTrackRate sets custom rates in arcseconds per second.
	SetTrackRate(raRate, decRate float64) error
	// Park performs the family's final park step once the mount has reached
	// the park position. It leaves tracking off.
	Park() error
	Jog(dir Direction, rate int) error
	StopJog(dir Direction) error
	PulseGuide(dir Direction, d time.Duration) error
	SetGuideRate(index int) error
}

// Initializer is implemented by families that need a one-shot setup once
// the site and clock are known.
type Initializer interface {
	NeedsInit() (bool, error)
	Initialize() error
}

// HorizontalMount is implemented by families that slew to and report horizontal
// coordinates natively. Az is in the mount's south-origin convention.
type HorizontalMount interface {
	GotoHorizontal(target HorizontalCoord) error
	ReadHorizontal() (HorizontalCoord, error)
}

type PierSider interface {
	SideOfPier() (PierSide, error)
}

type ParkStatuser interface {
	ParkStatus() (ParkStatus, error)
}

type SlewRater interface {
	SetSlewRate(index int) error
}

type JogRater interface {
	SetJogRate(index int) error
}

type ButtonSwapper interface {
	SwapButtons(axis Axis) error
}

// Locator programs the site into the mount.
type Locator interface {
	SetLocation(site Site) error
}

// Clocker programs the mount's clock. offset is the UTC offset in hours.
type Clocker interface {
	SetTime(utc time.Time, offset float64) error
}

type PECer interface {
	SetPEC(enabled bool) error
}

// MotionSensor reports whether an axis is moving faster than tracking.
type MotionSensor interface {
	IsMoving() (bool, error)
}
