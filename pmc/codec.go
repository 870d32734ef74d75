package pmc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/mount"
)

// Response lengths, including the '!' terminator.
const (
	versionLen   = 13
	positionLen  = 12
	trackRateLen = 9
	moveRateLen  = 10
	directionLen = 7
	rateLen      = 10
)

func axisNumber(a mount.Axis) int {
	if a == mount.AxisDec {
		return 1
	}
	return 0
}

// FormatPosition builds a position frame such as ESPt1F73600!.
// verb is one of "ESGp", "ESSp", "ESPt" or "ESGt".
func FormatPosition(verb string, axis mount.Axis, counts int) (string, error) {
	hex, err := coords.EncodeCounts24(counts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d%s!", verb, axisNumber(axis), hex), nil
}

// ParsePosition decodes an ESGp response into motor counts.
func ParsePosition(res string, axis mount.Axis) (int, error) {
	prefix := fmt.Sprintf("ESGp%d", axisNumber(axis))
	if len(res) != positionLen || !strings.HasPrefix(res, prefix) || res[positionLen-1] != '!' {
		return 0, fmt.Errorf("%w: bad position response %q", mount.ErrProtocolMismatch, res)
	}
	return coords.DecodeCounts24(res[5:11])
}

// FormatTrackRate builds the precise rate frame. The sign travels separately
// as the RA direction.
func FormatTrackRate(mrate int) string {
	return fmt.Sprintf("ESTr%04X!", abs(mrate))
}

// FormatMoveRate builds the move rate frame for one axis.
func FormatMoveRate(axis mount.Axis, mrate int) string {
	return fmt.Sprintf("ESSr%d%04X!", axisNumber(axis), abs(mrate))
}

// FormatDirection builds the direction frame; forward is 1.
func FormatDirection(axis mount.Axis, forward bool) string {
	d := 0
	if forward {
		d = 1
	}
	return fmt.Sprintf("ESSd%d%d!", axisNumber(axis), d)
}

// ParseRate decodes an ESGr response. The rate field runs up to the terminator.
func ParseRate(res string, axis mount.Axis) (int, error) {
	prefix := fmt.Sprintf("ESGr%d", axisNumber(axis))
	end := strings.IndexByte(res, '!')
	if len(res) != rateLen || !strings.HasPrefix(res, prefix) || end <= len(prefix) {
		return 0, fmt.Errorf("%w: bad rate response %q", mount.ErrProtocolMismatch, res)
	}
	v, err := strconv.ParseUint(res[len(prefix):end], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad rate response %q", mount.ErrProtocolMismatch, res)
	}
	return int(v), nil
}

// ParseDirection decodes an ESGd response into forward (true) or reverse.
func ParseDirection(res string, axis mount.Axis) (bool, error) {
	prefix := fmt.Sprintf("ESGd%d", axisNumber(axis))
	if len(res) != directionLen || !strings.HasPrefix(res, prefix) {
		return false, fmt.Errorf("%w: bad direction response %q", mount.ErrProtocolMismatch, res)
	}
	switch res[5] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	}
	return false, fmt.Errorf("%w: bad direction response %q", mount.ErrProtocolMismatch, res)
}

// ParseVersion decodes the ESGv response.
func ParseVersion(res string) (mount.Capabilities, error) {
	if len(res) != versionLen || !strings.HasPrefix(res, "ESGvES") || res[versionLen-1] != '!' {
		return mount.Capabilities{}, fmt.Errorf("%w: bad version response %q", mount.ErrProtocolMismatch, res)
	}
	return mount.Capabilities{
		Family:       mount.FamilyPMC,
		Firmware:     res[4 : versionLen-1],
		Board:        res[6 : versionLen-1],
		PierSide:     true,
		CustomRates:  true,
		TrackControl: true,
		TrackRate:    true,
		PulseGuide:   true,
	}, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
