package ap

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/internal/porttest"
	"github.com/w1xm/mount_interface/mount"
)

func newTest() (*Protocol, *porttest.Port) {
	port := porttest.New()
	return New(port, nil), port
}

func checkFrames(t *testing.T, port *porttest.Port, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, port.Frames()); diff != "" {
		t.Errorf("unexpected frames: (-want +got):\n%s", diff)
	}
}

func TestHandshakeCP4(t *testing.T) {
	p, port := newTest()
	port.On(":Br 00:00:00#", "1").
		On(":V#", "VCP4-P01-01#").
		On(":GR#", "10:11:12.3#")
	caps, err := p.Handshake()
	require.NoError(t, err)
	want := mount.Capabilities{
		Family:       mount.FamilyAP,
		Firmware:     "VCP4-P01-01",
		Generation:   'V',
		Servo:        mount.GTOCP4,
		PierSide:     true,
		ParkStatus:   true,
		PEC:          true,
		CustomRates:  true,
		TrackControl: true,
		TrackRate:    true,
		PulseGuide:   true,
	}
	if diff := cmp.Diff(want, caps); diff != "" {
		t.Errorf("capabilities: (-want +got):\n%s", diff)
	}
	checkFrames(t, port, "#", ":Br 00:00:00#", ":V#", ":GR#")
}

func TestHandshakeBacklashRetry(t *testing.T) {
	p, port := newTest()
	port.On(":Br 00:00:00#", "0", "1").
		On(":V#", "T#").
		On(":GR#", "10:11:12.3#")
	caps, err := p.Handshake()
	require.NoError(t, err)
	require.Equal(t, mount.GTOCP3, caps.Servo)
	checkFrames(t, port, "#", ":Br 00:00:00#", ":Br 00:00:00#", ":V#", ":GR#")
}

func TestHandshakeBacklashRetriesOnce(t *testing.T) {
	p, port := newTest()
	port.On(":Br 00:00:00#", "0")
	_, err := p.Handshake()
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
	checkFrames(t, port, "#", ":Br 00:00:00#", ":Br 00:00:00#")
}

func TestHandshakeShortFormat(t *testing.T) {
	p, port := newTest()
	port.On(":Br 00:00:00#", "1").
		On(":V#", "VCP4-P01-01#").
		On(":GR#", "10:11.2#", "10:11:12.3#")
	_, err := p.Handshake()
	require.NoError(t, err)
	checkFrames(t, port, "#", ":Br 00:00:00#", ":V#", ":GR#", ":U#", ":GR#")
}

func TestParseVersion(t *testing.T) {
	for _, test := range []struct {
		in    string
		servo mount.Servo
		gen   byte
		park  bool
		err   bool
	}{
		{"VCP4-P01-01", mount.GTOCP4, 'V', true, false},
		{"E", mount.GTOCP2, 'E', false, false},
		{"F1", mount.GTOCP2, 'F', false, false},
		{"G", mount.GTOCP3, 'G', false, false},
		{"T", mount.GTOCP3, 'T', true, false},
		{"V1", mount.GTOCP3, 'V', true, false},
		{"A", 0, 0, false, true},
		{"", 0, 0, false, true},
		{"garbage", 0, 0, false, true},
	} {
		t.Run(test.in, func(t *testing.T) {
			caps, err := ParseVersion(test.in)
			if test.err {
				require.ErrorIs(t, err, mount.ErrProtocolMismatch)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.servo, caps.Servo)
			require.Equal(t, test.gen, caps.Generation)
			require.Equal(t, test.park, caps.ParkStatus)
		})
	}
}

func TestGoto(t *testing.T) {
	p, port := newTest()
	port.On(":Sr 04:00:00.0#", "1").
		On(":Sd +45*00:00#", "1").
		On(":MS#", "0")
	pier, err := p.Goto(mount.EquatorialCoord{RA: 4, Dec: 45}, 10)
	require.NoError(t, err)
	require.Equal(t, mount.PierEast, pier)
	checkFrames(t, port, ":Sr 04:00:00.0#", ":Sd +45*00:00#", ":MS#")
}

func TestGotoRejected(t *testing.T) {
	p, port := newTest()
	port.On(":Sr 04:00:00.0#", "1").
		On(":Sd -10*30:00#", "1").
		On(":MS#", "1Object below horizon#")
	_, err := p.Goto(mount.EquatorialCoord{RA: 4, Dec: -10.5}, 10)
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)

	p, port = newTest()
	port.On(":Sr 04:00:00.0#", "0")
	_, err = p.Goto(mount.EquatorialCoord{RA: 4, Dec: 0}, 10)
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
	checkFrames(t, port, ":Sr 04:00:00.0#")
}

func TestSync(t *testing.T) {
	for _, test := range []struct {
		mode mount.SyncMode
		cmd  string
	}{
		{mount.SyncRegular, ":CM#"},
		{mount.SyncCMR, ":CMR#"},
	} {
		p, port := newTest()
		port.On(":Sr 12:30:00.0#", "1").
			On(":Sd +00*00:00#", "1").
			On(test.cmd, " M31 EX GAL#")
		require.NoError(t, p.Sync(mount.EquatorialCoord{RA: 12.5}, 0, test.mode))
		checkFrames(t, port, ":Sr 12:30:00.0#", ":Sd +00*00:00#", test.cmd)
	}
}

func TestSetTrackRate(t *testing.T) {
	p, port := newTest()
	require.NoError(t, p.SetTrackRate(30.082, 0))
	first := port.Frames()
	checkFrames(t, port, ":RR+1.0000#", ":RD+0.0000#")
	port.Reset()
	require.NoError(t, p.SetTrackRate(30.082, 0))
	if diff := cmp.Diff(first, port.Frames()); diff != "" {
		t.Errorf("repeated SetTrackRate differs: (-first +second):\n%s", diff)
	}
	port.Reset()
	require.NoError(t, p.SetTrackRate(20000, -20000))
	checkFrames(t, port, ":RR+998.9999#", ":RD-998.9999#")
}

func TestSetTracking(t *testing.T) {
	p, port := newTest()
	for _, mode := range []mount.TrackMode{mount.TrackSidereal, mount.TrackLunar, mount.TrackSolar, mount.TrackOff} {
		require.NoError(t, p.SetTracking(mode))
	}
	require.NoError(t, p.SetTrackRate(mount.Sidereal, 1.5))
	port.Reset()
	require.NoError(t, p.SetTracking(mount.TrackCustom))
	checkFrames(t, port, ":RT0#", ":RR+0.0000#", ":RD+0.0997#")
}

func TestJogAndGuide(t *testing.T) {
	p, port := newTest()
	p.caps.Generation = 'E'
	require.NoError(t, p.SetGuideRate(2))
	require.NoError(t, p.PulseGuide(mount.North, 250*time.Millisecond))
	require.NoError(t, p.Jog(mount.West, 3))
	require.NoError(t, p.StopJog(mount.West))
	require.NoError(t, p.PulseGuide(mount.East, 33*time.Millisecond))
	require.NoError(t, p.PulseGuide(mount.South, 33*time.Millisecond))
	checkFrames(t, port,
		":RG2#", ":Mn250#",
		":RC3#", ":Mw#", ":Qw#",
		// Firmware E lost the guide rate while jogging.
		":RG2#", ":Me033#",
		":Ms033#")
	require.ErrorIs(t, p.PulseGuide(mount.North, 2*time.Second), mount.ErrOutOfRange)
	require.ErrorIs(t, p.Jog(mount.North, 4), mount.ErrOutOfRange)
}

func TestGuideRateNotReissuedOnNewerFirmware(t *testing.T) {
	p, port := newTest()
	p.caps.Generation = 'V'
	require.NoError(t, p.Jog(mount.North, 0))
	require.NoError(t, p.PulseGuide(mount.North, 100*time.Millisecond))
	checkFrames(t, port, ":RC0#", ":Mn#", ":Mn100#")
}

func TestSetLocation(t *testing.T) {
	p, port := newTest()
	port.On(":Sg 071*05:30#", "1").On(":St +42*21:36#", "1")
	require.NoError(t, p.SetLocation(mount.Site{Latitude: 42.36, Longitude: 360 - 71.0916666667}))
	checkFrames(t, port, ":Sg 071*05:30#", ":St +42*21:36#")
}

func TestLongitudeRoundTrip(t *testing.T) {
	for lon := 0.0; lon < 360; lon += 7.123456 {
		got, err := ParseLongitude(FormatLongitude(lon))
		require.NoError(t, err)
		d := got - lon
		if d > 180 {
			d -= 360
		} else if d < -180 {
			d += 360
		}
		require.InDelta(t, 0, d, 1.0/3600, "longitude %v via %q", lon, FormatLongitude(lon))
	}
}

func TestSetTime(t *testing.T) {
	p, port := newTest()
	port.On(":SL 23:04:05#", "1").
		On(":SC 05/31/21#", "                                #").
		On(":SG 04:00:00#", "1")
	utc := time.Date(2021, 6, 1, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.SetTime(utc, -4))
	checkFrames(t, port, ":SL 23:04:05#", ":SC 05/31/21#", ":SG 04:00:00#")
}

func TestNeedsInit(t *testing.T) {
	for _, test := range []struct {
		ra, dec string
		want    bool
	}{
		{"00:00:00.0#", "+00*00:00#", true},
		{"00:00:00.0#", "+90*00:00#", true},
		{"00:00:00.0#", "+45*00:00#", false},
		{"01:00:00.0#", "+90*00:00#", false},
	} {
		p, port := newTest()
		port.On(":GR#", test.ra).On(":GD#", test.dec)
		got, err := p.NeedsInit()
		require.NoError(t, err)
		require.Equal(t, test.want, got, "%s %s", test.ra, test.dec)
	}
	p, port := newTest()
	require.NoError(t, p.Initialize())
	checkFrames(t, port, ":PO#", ":Q#")
}

func TestSideOfPier(t *testing.T) {
	p, port := newTest()
	port.On(":pS#", "West#", "East#", "Up#")
	for _, want := range []mount.PierSide{mount.PierWest, mount.PierEast} {
		got, err := p.SideOfPier()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := p.SideOfPier()
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
}

func TestParkStatus(t *testing.T) {
	p, port := newTest()
	p.caps.ParkStatus = false
	_, err := p.ParkStatus()
	require.ErrorIs(t, err, mount.ErrNotSupported)
	checkFrames(t, port)

	p.caps.ParkStatus = true
	port.On(":GOS#", "P0000#", "N0000#")
	got, err := p.ParkStatus()
	require.NoError(t, err)
	require.Equal(t, mount.ParkParked, got)
	got, err = p.ParkStatus()
	require.NoError(t, err)
	require.Equal(t, mount.ParkUnparked, got)
}

func TestHorizontal(t *testing.T) {
	p, port := newTest()
	port.On(":Sz 180*00:00#", "1").On(":Sa +42*00:00#", "1").On(":MS#", "0").
		On(":GZ#", "180*00:00#").On(":GA#", "+42*00:00#")
	require.NoError(t, p.GotoHorizontal(mount.HorizontalCoord{Az: 180, Alt: 42}))
	h, err := p.ReadHorizontal()
	require.NoError(t, err)
	require.Equal(t, mount.HorizontalCoord{Az: 180, Alt: 42}, h)
	checkFrames(t, port, ":Sz 180*00:00#", ":Sa +42*00:00#", ":MS#", ":GZ#", ":GA#")
}

func TestMiscCommands(t *testing.T) {
	p, port := newTest()
	require.NoError(t, p.Abort())
	require.NoError(t, p.Park())
	require.NoError(t, p.SetSlewRate(2))
	require.NoError(t, p.SwapButtons(mount.AxisDec))
	require.NoError(t, p.SwapButtons(mount.AxisRA))
	require.NoError(t, p.SetPEC(true))
	require.NoError(t, p.SetPEC(false))
	require.ErrorIs(t, p.SetSlewRate(3), mount.ErrOutOfRange)
	checkFrames(t, port, ":Q#", ":KA#", ":RT9#", ":RS2#", ":NS#", ":EW#", ":P#", ":p#")
	require.Equal(t, 8, port.Flushes())
}
