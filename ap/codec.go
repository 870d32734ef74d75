package ap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/mount"
)

// FormatRA encodes hours as HH:MM:SS.S.
func FormatRA(h float64) string {
	t := int(math.Round(astro.Range24(h)*36000)) % (24 * 36000)
	return fmt.Sprintf("%02d:%02d:%02d.%d", t/36000, t/600%60, t/10%60, t%10)
}

// FormatDec encodes degrees as sDD*MM:SS.
func FormatDec(d float64) string {
	sign := '+'
	if d < 0 {
		sign = '-'
		d = -d
	}
	t := int(math.Round(d * 3600))
	return fmt.Sprintf("%c%02d*%02d:%02d", sign, t/3600, t/60%60, t%60)
}

// FormatAz encodes degrees as DDD*MM:SS.
func FormatAz(d float64) string {
	t := int(math.Round(astro.Range360(d)*3600)) % (360 * 3600)
	return fmt.Sprintf("%03d*%02d:%02d", t/3600, t/60%60, t%60)
}

// FormatLongitude encodes an east-positive longitude the way the mount
// expects it, west-positive.
func FormatLongitude(lon float64) string {
	return FormatAz(360 - lon)
}

// ParseLongitude inverts FormatLongitude.
func ParseLongitude(s string) (float64, error) {
	v, err := ParseSexagesimal(s)
	if err != nil {
		return 0, err
	}
	return astro.Range360(360 - v), nil
}

func isSeparator(r rune) bool {
	switch r {
	case ':', '*', '\'', ' ', '°', 0xDF, utf8.RuneError:
		return true
	}
	return false
}

// ParseSexagesimal decodes any of the mount's sexagesimal formats, such as
// HH:MM:SS.S, HH:MM.T, sDD*MM:SS or DDD*MM:SS.
func ParseSexagesimal(s string) (float64, error) {
	in := s
	s = strings.TrimSpace(s)
	sign := 1.0
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	fields := strings.FieldsFunc(s, isSeparator)
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("%w: malformed sexagesimal %q", mount.ErrProtocolMismatch, in)
	}
	var v float64
	scale := 1.0
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil || x < 0 {
			return 0, fmt.Errorf("%w: malformed sexagesimal %q", mount.ErrProtocolMismatch, in)
		}
		v += x / scale
		scale *= 60
	}
	return sign * v, nil
}

// isLongRA reports whether an RA response is in the long HH:MM:SS format.
func isLongRA(s string) bool {
	return strings.Count(s, ":") == 2
}

func formatClock(t astro.ZonedDate) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, int(t.Second))
}

func formatDate(t astro.ZonedDate) string {
	return fmt.Sprintf("%02d/%02d/%02d", t.Month, t.Day, t.Year%100)
}

// formatOffset encodes a UTC offset. The mount always takes it unsigned.
func formatOffset(hours float64) string {
	t := int(math.Round(math.Abs(hours) * 3600))
	return fmt.Sprintf("%02d:%02d:%02d", t/3600, t/60%60, t%60)
}

func formatMultiplier(m float64) string {
	return fmt.Sprintf("%+.4f", m)
}

// directionLetter is the lower-case letter used by motion commands.
func directionLetter(d mount.Direction) byte {
	switch d {
	case mount.North:
		return 'n'
	case mount.South:
		return 's'
	case mount.East:
		return 'e'
	}
	return 'w'
}

func pulseMillis(d time.Duration) (int, error) {
	ms := int(d / time.Millisecond)
	if ms < 0 || ms > 999 {
		return 0, fmt.Errorf("%w: pulse of %v exceeds 999ms", mount.ErrOutOfRange, d)
	}
	return ms, nil
}

// ParseVersion decodes the :V# response.
// CP4 and newer report e.g. "VCP4-P01-01"; older boxes report one or two letters.
func ParseVersion(v string) (mount.Capabilities, error) {
	caps := mount.Capabilities{
		Family:       mount.FamilyAP,
		Firmware:     v,
		PierSide:     true,
		PEC:          true,
		CustomRates:  true,
		TrackControl: true,
		TrackRate:    true,
		PulseGuide:   true,
	}
	switch {
	case strings.Contains(v, "VCP4"):
		caps.Generation = 'V'
		caps.Servo = mount.GTOCP4
	case len(v) == 1 || len(v) == 2:
		if v[0] < 'E' || v[0] > 'V' {
			return caps, fmt.Errorf("%w: unknown firmware %q", mount.ErrProtocolMismatch, v)
		}
		caps.Generation = v[0]
		if v[0] < 'G' {
			caps.Servo = mount.GTOCP2
		} else {
			caps.Servo = mount.GTOCP3
		}
	default:
		return caps, fmt.Errorf("%w: unknown firmware %q", mount.ErrProtocolMismatch, v)
	}
	caps.ParkStatus = caps.Generation >= 'T'
	return caps, nil
}
