package simulator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/ap"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/transport"
)

func TestHandle(t *testing.T) {
	s, _ := New(nil)
	for _, test := range []struct {
		cmd, want string
	}{
		{":Br 00:00:00", "0"},
		{":Br 00:00:00", "1"},
		{":V", "VCP4-P01-01#"},
		{":GR", "00:00:00.0#"},
		{":GD", "+90*00:00#"},
		{":GOS", "0#"},
		{":Sr 04:00:00.0", "1"},
		{":Sd +45*00:00", "1"},
		{":Sd bogus", "0"},
		{":CM", "Coordinates     matched.        #"},
		{":SC 05/31/21", "Updating Planetary Data#"},
		{":KA", ""},
		{":GOS", "P#"},
	} {
		got, _ := s.handle(test.cmd)
		require.Equal(t, test.want, got, test.cmd)
	}
	s.SetInitialized(true)
	got, err := s.handle(":GR")
	require.NoError(t, err)
	require.Equal(t, "04:00:00.0#", got)
	s.handle(":U")
	got, err = s.handle(":GR")
	require.NoError(t, err)
	require.Equal(t, "04:00.0#", got)

	_, err = s.handle("garbage")
	require.Error(t, err)
	_, err = s.handle(":RC9")
	require.Error(t, err)
}

func TestSwapButtons(t *testing.T) {
	s, _ := New(nil)
	s.SetInitialized(true)
	s.handle(":NS")
	s.handle(":Mn")
	require.True(t, s.jog[mount.South])
	s.handle(":Qn")
	require.Empty(t, s.jog)
}

func newProtocol(t *testing.T) (*Simulator, *ap.Protocol) {
	t.Helper()
	sim, conn := New(nil)
	sim.SlewSpeed = 360
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()
	port := transport.NewConn(conn, nil)
	t.Cleanup(func() {
		cancel()
		port.Close()
		<-done
	})
	p := ap.New(port, nil)
	p.SetTimeout(time.Second)
	return sim, p
}

func TestSession(t *testing.T) {
	sim, p := newProtocol(t)
	caps, err := p.Handshake()
	require.NoError(t, err)
	require.Equal(t, mount.GTOCP4, caps.Servo)

	site := mount.Site{Latitude: 42.36, Longitude: 288.91}
	require.NoError(t, p.SetLocation(site))
	require.NoError(t, p.SetTime(time.Now().UTC(), -4))

	need, err := p.NeedsInit()
	require.NoError(t, err)
	require.True(t, need)
	require.NoError(t, p.Initialize())
	need, err = p.NeedsInit()
	require.NoError(t, err)
	require.False(t, need)

	target := mount.EquatorialCoord{RA: 4, Dec: 45}
	_, err = p.Goto(target, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c := sim.Position()
		return math.Abs(c.RA-target.RA) < 1e-6 && math.Abs(c.Dec-target.Dec) < 1e-6
	}, 5*time.Second, 10*time.Millisecond)

	c, err := p.ReadPosition(0)
	require.NoError(t, err)
	require.InDelta(t, target.RA, c.RA, 0.1/3600)
	require.InDelta(t, target.Dec, c.Dec, 1.0/3600)

	park := mount.HorizontalCoord{Az: 90, Alt: 30}
	require.NoError(t, p.GotoHorizontal(park))
	require.Eventually(t, func() bool {
		h, err := p.ReadHorizontal()
		return err == nil && math.Abs(math.Remainder(h.Az-park.Az, 360)) < 2.0/3600 && math.Abs(h.Alt-park.Alt) < 2.0/3600
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, p.Park())
	require.Eventually(t, sim.Parked, time.Second, 10*time.Millisecond)
	status, err := p.ParkStatus()
	require.NoError(t, err)
	require.Equal(t, mount.ParkParked, status)
}
