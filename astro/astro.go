// Package astro provides the time and coordinate primitives mount drivers need.
package astro

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// JulianDay returns the Julian date of t.
func JulianDay(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	return jd + float64(t.Nanosecond())/86400e9
}

// GMST returns Greenwich mean sidereal time in hours for a Julian date.
func GMST(jd float64) float64 {
	return Range24(satellite.ThetaG_JD(jd) * 12 / math.Pi)
}

// LocalSiderealTime returns the mean sidereal time in hours at east-positive longitude lon.
func LocalSiderealTime(t time.Time, lon float64) float64 {
	return Range24(GMST(JulianDay(t)) + lon/15)
}

// Range24 normalizes hours to [0,24).
func Range24(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// Range360 normalizes degrees to [0,360).
func Range360(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// ZonedDate is a broken-down local date and time.
type ZonedDate struct {
	Year, Month, Day int
	Hour, Minute     int
	Second           float64
	Offset           time.Duration
}

// ZoneDate converts utc to the local time offset seconds east of UTC.
func ZoneDate(utc time.Time, offset int) ZonedDate {
	local := utc.UTC().Add(time.Duration(offset) * time.Second)
	year, month, day := local.Date()
	hour, min, sec := local.Clock()
	return ZonedDate{
		Year:   year,
		Month:  int(month),
		Day:    day,
		Hour:   hour,
		Minute: min,
		Second: float64(sec) + float64(local.Nanosecond())/1e9,
		Offset: time.Duration(offset) * time.Second,
	}
}
