package astro

import (
	"math"

	"github.com/w1xm/mount_interface/mount"
)

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude. Azimuth is measured from north through east.
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(math.Max(-1, math.Min(1, sq)))

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	// Undefined at the zenith and the poles.
	if math.IsNaN(cp) || math.IsInf(cp, 0) {
		cp = 1
	}
	p := math.Acos(math.Max(-1, math.Min(1, cp)))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func equhor_deg(x, y, phi float64) (float64, float64) {
	x, y, phi = deg2rad(x), deg2rad(y), deg2rad(phi)
	p, q := equhor_rad(x, y, phi)
	return rad2deg(p), rad2deg(q)
}

// HorizontalFromEquatorial returns the horizontal position of c for an observer
// at latitude lat (degrees) when the local sidereal time is lst (hours).
// Az is south-origin, increasing westward, as mounts report it.
func HorizontalFromEquatorial(c mount.EquatorialCoord, lat, lst float64) mount.HorizontalCoord {
	ha := (lst - c.RA) * 15
	az, alt := equhor_deg(ha, c.Dec, lat)
	return mount.HorizontalCoord{Az: Range360(az - 180), Alt: alt}
}

// EquatorialFromHorizontal is the inverse of HorizontalFromEquatorial.
func EquatorialFromHorizontal(h mount.HorizontalCoord, lat, lst float64) mount.EquatorialCoord {
	ha, dec := equhor_deg(h.Az+180, h.Alt, lat)
	return mount.EquatorialCoord{RA: Range24(lst - ha/15), Dec: dec}
}
