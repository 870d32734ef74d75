// Package coords converts between sky coordinates, hour angle and motor counts.
//
// Motor counts follow the PMC convention: AxisScale counts per revolution,
// with RA counts zero when the counterweight points down and Dec counts zero
// at the pole.
package coords

import (
	"fmt"
	"math"

	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/mount"
)

const (
	// AxisScale is the number of motor counts in one revolution of either axis.
	AxisScale = 4608000
	// ArcsecInCircle is the number of arcseconds in one revolution.
	ArcsecInCircle = 1296000

	minCounts = -1 << 23
	maxCounts = 1<<23 - 1
)

// Counts is a position in motor counts.
type Counts struct {
	RA, Dec int
}

// NormalizeHourAngle returns h in (-12, 12].
func NormalizeHourAngle(h float64) float64 {
	h = math.Mod(h, 24)
	if h > 12 {
		h -= 24
	} else if h <= -12 {
		h += 24
	}
	return h
}

// HourAngle returns the hour angle of ra at local sidereal time lst.
func HourAngle(ra, lst float64) float64 {
	return NormalizeHourAngle(lst - ra)
}

// DestPierSide returns the side of the pier a slew to ra ends on.
// Objects exactly on the meridian are taken on the east side.
func DestPierSide(ra, lst float64) mount.PierSide {
	if HourAngle(ra, lst) < 0 {
		return mount.PierWest
	}
	return mount.PierEast
}

// RAToMotor returns the RA axis counts for ra on pier side pier.
func RAToMotor(ra, lst float64, pier mount.PierSide) int {
	angle := HourAngle(ra, lst)
	if pier == mount.PierEast {
		angle -= 6
	} else {
		angle += 6
	}
	return int(math.Round(angle * AxisScale / 24))
}

// DecToMotor returns the Dec axis counts for dec on pier side pier.
func DecToMotor(dec float64, pier mount.PierSide) int {
	angle := dec - 90
	if pier != mount.PierEast {
		angle = -angle
	}
	return int(math.Round(angle * AxisScale / 360))
}

// ToMotor converts c to motor counts for pier side pier.
func ToMotor(c mount.EquatorialCoord, lst float64, pier mount.PierSide) Counts {
	return Counts{RA: RAToMotor(c.RA, lst, pier), Dec: DecToMotor(c.Dec, pier)}
}

// FromMotor converts motor counts back to sky coordinates.
func FromMotor(m Counts, lst float64) mount.EquatorialCoord {
	raAngle := 24 * float64(m.RA) / AxisScale
	var ha float64
	if m.Dec < 0 {
		ha = raAngle + 6
	} else {
		ha = raAngle - 6
	}
	decAngle := 360 * float64(m.Dec) / AxisScale
	var dec float64
	if decAngle >= 0 {
		dec = 90 - decAngle
	} else {
		dec = 90 + decAngle
	}
	return mount.EquatorialCoord{RA: astro.Range24(lst - ha), Dec: dec}
}

// PierFromMotor returns the pier side implied by the Dec axis counts.
func PierFromMotor(m Counts) mount.PierSide {
	if m.Dec < 0 {
		return mount.PierEast
	}
	return mount.PierWest
}

// EncodeCounts24 formats x as six uppercase hex digits of 24-bit two's complement.
func EncodeCounts24(x int) (string, error) {
	if x < minCounts || x > maxCounts {
		return "", fmt.Errorf("%w: %d counts do not fit in 24 bits", mount.ErrOutOfRange, x)
	}
	return fmt.Sprintf("%06X", x&0xFFFFFF), nil
}

// DecodeCounts24 parses six hex digits of 24-bit two's complement.
func DecodeCounts24(s string) (int, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("%w: position field %q is not 6 hex digits", mount.ErrProtocolMismatch, s)
	}
	var v int
	for _, c := range []byte(s) {
		d, ok := hexDigit(c)
		if !ok {
			return 0, fmt.Errorf("%w: position field %q is not hex", mount.ErrProtocolMismatch, s)
		}
		v = v<<4 | d
	}
	if v >= 0x800000 {
		v -= 0x1000000
	}
	return v, nil
}

func hexDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	}
	return 0, false
}

// PublicAz converts a south-origin mount azimuth to north-origin.
func PublicAz(mountAz float64) float64 {
	return astro.Range360(mountAz + 180)
}

// MountAz converts a north-origin azimuth to the mount's south-origin convention.
func MountAz(publicAz float64) float64 {
	return astro.Range360(publicAz - 180)
}
