package pmc

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/internal/porttest"
	"github.com/w1xm/mount_interface/mount"
)

func newTest() (*Protocol, *porttest.Port, *[]time.Duration) {
	port := porttest.New()
	p := New(port, nil)
	var slept []time.Duration
	p.SetSleep(func(d time.Duration) { slept = append(slept, d) })
	return p, port, &slept
}

// echo scripts the mount to repeat each frame back.
func echo(port *porttest.Port, frames ...string) {
	for _, f := range frames {
		port.On(f, f)
	}
}

func checkFrames(t *testing.T, port *porttest.Port, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, port.Frames()); diff != "" {
		t.Errorf("unexpected frames: (-want +got):\n%s", diff)
	}
}

func TestHandshake(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGv!", "ESGvES06B9T9!")
	caps, err := p.Handshake()
	require.NoError(t, err)
	want := mount.Capabilities{
		Family:       mount.FamilyPMC,
		Firmware:     "ES06B9T9",
		Board:        "06B9T9",
		PierSide:     true,
		CustomRates:  true,
		TrackControl: true,
		TrackRate:    true,
		PulseGuide:   true,
	}
	if diff := cmp.Diff(want, caps); diff != "" {
		t.Errorf("capabilities: (-want +got):\n%s", diff)
	}
	checkFrames(t, port, "ESGv!")
}

func TestHandshakeRetry(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGv!", "junk!", "ESGvES06B9T9!")
	caps, err := p.Handshake()
	require.NoError(t, err)
	require.Equal(t, "06B9T9", caps.Board)
	checkFrames(t, port, "ESGv!", "ESGv!")
}

func TestHandshakeFails(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGv!", ":V#")
	_, err := p.Handshake()
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
	checkFrames(t, port, "ESGv!", "ESGv!")
}

func TestGoto(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESPt0000000!", "ESGt0000000!").
		On("ESPt1F73600!", "ESGt1F73600!")
	pier, err := p.Goto(mount.EquatorialCoord{RA: 4, Dec: 45}, 10)
	require.NoError(t, err)
	require.Equal(t, mount.PierEast, pier)
	checkFrames(t, port, "ESPt0000000!", "ESPt1F73600!")
}

func TestGotoBadEcho(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESPt0000000!", "ESGt0000001!")
	_, err := p.Goto(mount.EquatorialCoord{RA: 4, Dec: 45}, 10)
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
	checkFrames(t, port, "ESPt0000000!")
}

func TestSync(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESSp0000000!", "ESGp0000000!").
		On("ESSp1F73600!", "ESGp1F73600!")
	require.NoError(t, p.Sync(mount.EquatorialCoord{RA: 4, Dec: 45}, 10, mount.SyncRegular))
	checkFrames(t, port, "ESSp0000000!", "ESSp1F73600!")

	port.Reset()
	require.ErrorIs(t, p.Sync(mount.EquatorialCoord{RA: 4, Dec: 45}, 10, mount.SyncCMR), mount.ErrNotSupported)
	checkFrames(t, port)
}

func TestReadPosition(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGp0!", "ESGp0000000!").
		On("ESGp1!", "ESGp1F73600!")
	c, err := p.ReadPosition(10)
	require.NoError(t, err)
	require.InDelta(t, 4, c.RA, 1e-9)
	require.InDelta(t, 45, c.Dec, 1e-9)

	pier, err := p.SideOfPier()
	require.NoError(t, err)
	require.Equal(t, mount.PierEast, pier)
}

func TestReadPositionShort(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGp0!", "ESGp0000!")
	_, err := p.ReadPosition(10)
	require.ErrorIs(t, err, mount.ErrProtocolMismatch)
}

func TestTracking(t *testing.T) {
	p, port, _ := newTest()
	echo(port, "ESTr0539!", "ESTr0000!", "ESSd01!", "ESSd00!", "ESTr0A51!")

	require.NoError(t, p.SetTracking(mount.TrackSidereal))
	checkFrames(t, port, "ESTr0539!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.SetTracking(mount.TrackOff))
	checkFrames(t, port, "ESTr0000!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.SetTrackRate(-mount.Sidereal, 0))
	checkFrames(t, port, "ESTr0539!", "ESSd00!")

	port.Reset()
	require.NoError(t, p.SetTrackRate(30, 1))
	checkFrames(t, port, "ESTr0A51!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.SetTracking(mount.TrackCustom))
	checkFrames(t, port, "ESTr0A51!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.Park())
	checkFrames(t, port, "ESTr0000!", "ESSd01!")
}

func TestAbort(t *testing.T) {
	p, port, _ := newTest()
	echo(port, "ESSd01!", "ESSr00000!", "ESSd11!", "ESSr10000!")
	require.NoError(t, p.Abort())
	checkFrames(t, port, "ESSd01!", "ESSr00000!", "ESSd11!", "ESSr10000!")
}

func TestAbortShortEcho(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESSd01!", "ESSd01!").On("ESSr00000!", "ESSr0!")
	require.ErrorIs(t, p.Abort(), mount.ErrProtocolMismatch)
}

func TestJog(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGr0!", "ESGr00000!").On("ESGr1!", "ESGr10035!")
	echo(port, "ESSd11!", "ESSr100D5!", "ESSd00!", "ESSr00F00!", "ESSr10000!")

	require.NoError(t, p.Jog(mount.North, 0))
	checkFrames(t, port, "ESGr0!", "ESGr1!", "ESSd11!", "ESSr100D5!")

	port.Reset()
	require.NoError(t, p.Jog(mount.East, 3))
	checkFrames(t, port, "ESGr0!", "ESGr1!", "ESSd00!", "ESSr00F00!")

	port.Reset()
	require.NoError(t, p.StopJog(mount.South))
	checkFrames(t, port, "ESSd11!", "ESSr10000!")

	port.Reset()
	require.ErrorIs(t, p.Jog(mount.North, 4), mount.ErrOutOfRange)
}

func TestJogWhileSlewing(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGr0!", "ESGr00F00!").On("ESGr1!", "ESGr10000!")
	require.ErrorIs(t, p.Jog(mount.West, 1), mount.ErrInvalidState)
	checkFrames(t, port, "ESGr0!", "ESGr1!")
}

func TestPulseGuide(t *testing.T) {
	p, port, slept := newTest()
	echo(port, "ESTr0539!", "ESTr07D5!", "ESTr029C!", "ESSd01!", "ESSd11!", "ESSd10!", "ESSr1001B!", "ESSr10000!")
	require.NoError(t, p.SetTracking(mount.TrackSidereal))

	port.Reset()
	require.NoError(t, p.PulseGuide(mount.West, 100*time.Millisecond))
	checkFrames(t, port, "ESTr07D5!", "ESSd01!", "ESTr0539!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.PulseGuide(mount.East, 50*time.Millisecond))
	checkFrames(t, port, "ESTr029C!", "ESSd01!", "ESTr0539!", "ESSd01!")

	port.Reset()
	require.NoError(t, p.PulseGuide(mount.North, 200*time.Millisecond))
	checkFrames(t, port, "ESSd11!", "ESSr1001B!", "ESSd11!", "ESSr10000!")

	require.Equal(t, []time.Duration{100 * time.Millisecond, 50 * time.Millisecond, 200 * time.Millisecond}, *slept)

	require.ErrorIs(t, p.SetGuideRate(3), mount.ErrOutOfRange)
	require.NoError(t, p.SetGuideRate(2))
	port.Reset()
	echo(port, "ESSd10!", "ESSr10035!")
	require.NoError(t, p.PulseGuide(mount.South, time.Millisecond))
	checkFrames(t, port, "ESSd10!", "ESSr10035!", "ESSd11!", "ESSr10000!")
}

func TestIsMoving(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGr0!", "ESGr00037!", "ESGr00038!").On("ESGr1!", "ESGr10000!")
	moving, err := p.IsMoving()
	require.NoError(t, err)
	require.False(t, moving)
	moving, err = p.IsMoving()
	require.NoError(t, err)
	require.True(t, moving)
}

func TestDirection(t *testing.T) {
	p, port, _ := newTest()
	port.On("ESGd1!", "ESGd10!")
	forward, err := p.Direction(mount.AxisDec)
	require.NoError(t, err)
	require.False(t, forward)
}
