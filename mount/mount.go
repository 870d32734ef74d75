package mount

import (
	"fmt"
	"strings"
)

// Sidereal is the sidereal tracking rate in arcseconds per second.
const Sidereal = 15.04106864

type Family int

const (
	FamilyUnknown Family = iota
	FamilyAP
	FamilyPMC
)

func (f Family) String() string {
	switch f {
	case FamilyAP:
		return "AP"
	case FamilyPMC:
		return "PMC"
	}
	return "UNKNOWN"
}

type PierSide int

const (
	PierUnknown PierSide = iota
	PierEast
	PierWest
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "EAST"
	case PierWest:
		return "WEST"
	}
	return "UNKNOWN"
}

type TrackMode int

const (
	TrackSidereal TrackMode = iota
	TrackLunar
	TrackSolar
	TrackCustom
	TrackOff
)

func (m TrackMode) String() string {
	switch m {
	case TrackSidereal:
		return "SIDEREAL"
	case TrackLunar:
		return "LUNAR"
	case TrackSolar:
		return "SOLAR"
	case TrackCustom:
		return "CUSTOM"
	case TrackOff:
		return "OFF"
	}
	return fmt.Sprintf("TrackMode(%d)", int(m))
}

// ParseTrackMode accepts the names returned by TrackMode.String, case-insensitively.
func ParseTrackMode(s string) (TrackMode, error) {
	for m := TrackSidereal; m <= TrackOff; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown track mode %q", ErrOutOfRange, s)
}

type Direction int

const (
	North Direction = iota
	South
	East
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "N"
	case South:
		return "S"
	case East:
		return "E"
	case West:
		return "W"
	}
	return "?"
}

// Axis returns the axis that moves for a jog or guide pulse in d.
func (d Direction) Axis() Axis {
	if d == North || d == South {
		return AxisDec
	}
	return AxisRA
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "N", "NORTH":
		return North, nil
	case "S", "SOUTH":
		return South, nil
	case "E", "EAST":
		return East, nil
	case "W", "WEST":
		return West, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrOutOfRange, s)
}

type Axis int

const (
	AxisRA Axis = iota
	AxisDec
)

type SyncMode int

const (
	SyncRegular SyncMode = iota
	// SyncCMR recenters without altering the mount's pointing model.
	SyncCMR
)

func (m SyncMode) String() string {
	if m == SyncCMR {
		return "CMR"
	}
	return "REGULAR"
}

func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToUpper(s) {
	case "REGULAR", "":
		return SyncRegular, nil
	case "CMR":
		return SyncCMR, nil
	}
	return 0, fmt.Errorf("%w: unknown sync mode %q", ErrOutOfRange, s)
}

type ParkStatus int

const (
	ParkUnknown ParkStatus = iota
	ParkParked
	ParkUnparked
)

func (p ParkStatus) String() string {
	switch p {
	case ParkParked:
		return "PARKED"
	case ParkUnparked:
		return "UNPARKED"
	}
	return "UNKNOWN"
}

// EquatorialCoord has RA in hours [0,24) and Dec in degrees [-90,90].
type EquatorialCoord struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Valid reports whether c is inside the celestial sphere's coordinate ranges.
func (c EquatorialCoord) Valid() bool {
	return c.RA >= 0 && c.RA < 24 && c.Dec >= -90 && c.Dec <= 90
}

// HorizontalCoord has Az in degrees [0,360) and Alt in degrees [-90,90].
// Unless noted otherwise Az is north-origin, increasing through east.
type HorizontalCoord struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

func (c HorizontalCoord) Valid() bool {
	return c.Az >= 0 && c.Az < 360 && c.Alt >= -90 && c.Alt <= 90
}

// Site is the observer's location. Longitude is east-positive in [0,360).
type Site struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

// Servo is the AP control box generation.
type Servo int

const (
	ServoUnknown Servo = iota
	GTOCP2
	GTOCP3
	GTOCP4
)

func (s Servo) String() string {
	switch s {
	case GTOCP2:
		return "GTOCP2"
	case GTOCP3:
		return "GTOCP3"
	case GTOCP4:
		return "GTOCP4"
	}
	return "UNKNOWN"
}

// Capabilities are discovered during the handshake.
type Capabilities struct {
	Family   Family `json:"family"`
	Firmware string `json:"firmware"`
	// Generation is the AP firmware letter, 'E' through 'V'.
	Generation byte  `json:"generation"`
	Servo      Servo `json:"servo"`
	// Board is the PMC controller identification.
	Board string `json:"board,omitempty"`

	PierSide    bool `json:"pier_side"`
	ParkStatus  bool `json:"park_status"`
	PEC         bool `json:"pec"`
	CustomRates bool `json:"custom_rates"`
	// The remaining bits are always advertised to the host.
	TrackControl bool `json:"track_control"`
	TrackRate    bool `json:"track_rate"`
	PulseGuide   bool `json:"pulse_guide"`
}

// SlewConfig holds the selected rate indices.
type SlewConfig struct {
	GotoRate  int `json:"goto_rate"`
	JogRate   int `json:"jog_rate"`
	GuideRate int `json:"guide_rate"`
}

// Status is the snapshot returned by ReadStatus.
type Status struct {
	Connected bool            `json:"connected"`
	State     State           `json:"state"`
	Current   EquatorialCoord `json:"current"`
	Target    EquatorialCoord `json:"target"`
	// Horizontal is only filled in when the mount reports it.
	Horizontal *HorizontalCoord `json:"horizontal,omitempty"`
	Pier       PierSide         `json:"pier"`
	TrackMode  TrackMode        `json:"track_mode"`
	Tracking   bool             `json:"tracking"`
	Park       ParkStatus       `json:"park"`
	// Moving is set when the mount reports axis motion the driver did not command.
	Moving bool `json:"moving"`
	// Degraded is set when the last poll failed; the other fields hold the previous reading.
	Degraded bool   `json:"degraded"`
	Err      string `json:"error,omitempty"`

	Capabilities Capabilities `json:"capabilities"`
	Slew         SlewConfig   `json:"slew"`
	LST          float64      `json:"lst"`
}

func (f Family) MarshalText() ([]byte, error)     { return []byte(f.String()), nil }
func (p PierSide) MarshalText() ([]byte, error)   { return []byte(p.String()), nil }
func (m TrackMode) MarshalText() ([]byte, error)  { return []byte(m.String()), nil }
func (p ParkStatus) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (s Servo) MarshalText() ([]byte, error)      { return []byte(s.String()), nil }
