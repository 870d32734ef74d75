// Package motion translates semantic rates into mount-native rate values.
package motion

import (
	"fmt"
	"math"

	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/mount"
)

const (
	// APMaxMultiplier bounds the AP custom rate multipliers.
	APMaxMultiplier = 998.9999
	// PMCMaxPrecise bounds the PMC precise (tracking) rate.
	PMCMaxPrecise = 2641
	// PMCMaxMove bounds the PMC move rate, 256x sidereal in 15 arcsec/s units.
	PMCMaxMove = 3840
	// PMCMinSlew is the move rate above which a PMC axis is considered slewing.
	PMCMinSlew = 55

	Lunar = 14.453
	Solar = 15.0
)

var (
	// PMCJogRates are the PMC jog speeds in multiples of 15 arcsec/s.
	PMCJogRates = []float64{4, 16, 64, 256}
	// APGotoRates are the AP slew speeds in multiples of sidereal.
	APGotoRates = []float64{600, 900, 1200}
	// APJogRates are the AP move speeds in multiples of sidereal.
	APJogRates = []float64{12, 64, 600, 1200}
	// GuideRates are guide multipliers of sidereal shared by both families.
	GuideRates = []float64{0.25, 0.5, 1.0}
)

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// APRAMultiplier returns the :RR value for an RA rate in arcsec/s.
// Zero is sidereal and -1 halts the axis.
func APRAMultiplier(rate float64) float64 {
	return clamp((rate-mount.Sidereal)/mount.Sidereal, APMaxMultiplier)
}

// APDecMultiplier returns the :RD value for a Dec rate in arcsec/s.
func APDecMultiplier(rate float64) float64 {
	return clamp(rate/mount.Sidereal, APMaxMultiplier)
}

// PMCPreciseRate returns the PMC precise rate for an RA rate in arcsec/s.
func PMCPreciseRate(rate float64) int {
	r := math.Round(25 * rate * coords.AxisScale / coords.ArcsecInCircle)
	return int(clamp(r, PMCMaxPrecise))
}

// PMCMoveRate returns the PMC move rate for a rate in arcsec/s.
func PMCMoveRate(rate float64) int {
	r := math.Round(rate * coords.AxisScale / coords.ArcsecInCircle)
	return int(clamp(r, PMCMaxMove))
}

// PMCMoveToArcsec inverts PMCMoveRate.
func PMCMoveToArcsec(mrate int) float64 {
	return float64(mrate) * coords.ArcsecInCircle / coords.AxisScale
}

// PMCJogRate returns the jog speed in arcsec/s for a jog rate index.
func PMCJogRate(index int) (float64, error) {
	if index < 0 || index >= len(PMCJogRates) {
		return 0, fmt.Errorf("%w: jog rate index %d", mount.ErrOutOfRange, index)
	}
	return PMCJogRates[index] * 15, nil
}

// GuideRate returns the guide speed in arcsec/s for a guide rate index.
func GuideRate(index int) (float64, error) {
	if index < 0 || index >= len(GuideRates) {
		return 0, fmt.Errorf("%w: guide rate index %d", mount.ErrOutOfRange, index)
	}
	return GuideRates[index] * mount.Sidereal, nil
}

// TrackRate returns the RA rate in arcsec/s for the built-in tracking modes.
func TrackRate(mode mount.TrackMode) (float64, error) {
	switch mode {
	case mount.TrackSidereal:
		return mount.Sidereal, nil
	case mount.TrackLunar:
		return Lunar, nil
	case mount.TrackSolar:
		return Solar, nil
	case mount.TrackOff:
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %v has no fixed rate", mount.ErrOutOfRange, mode)
}

// IndexOf returns the index of v in table.
func IndexOf(table []float64, v float64) (int, error) {
	for i, t := range table {
		if math.Abs(t-v) < 1e-9 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %v not in %v", mount.ErrOutOfRange, v, table)
}
