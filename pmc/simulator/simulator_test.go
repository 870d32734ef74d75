package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/pmc"
	"github.com/w1xm/mount_interface/transport"
)

func TestHandle(t *testing.T) {
	s, _ := New(nil)
	for _, test := range []struct {
		cmd, want string
	}{
		{"ESGv", "ESGvES06B9T9!"},
		{"ESGp0", "ESGp0000000!"},
		{"ESSp1F73600", "ESGp1F73600!"},
		{"ESGp1", "ESGp1F73600!"},
		{"ESTr0539", "ESTr0539!"},
		{"ESGr0", "ESGr00035!"},
		{"ESSd00", "ESSd00!"},
		{"ESGd0", "ESGd00!"},
		{"ESPt0001000", "ESGt0001000!"},
		{"ESGr0", "ESGr00F00!"},
		{"ESSr00000", "ESSr00000!"},
		{"ESGr0", "ESGr00035!"},
	} {
		got, err := s.handle(test.cmd)
		require.NoError(t, err, test.cmd)
		require.Equal(t, test.want, got, test.cmd)
	}
	for _, cmd := range []string{"", "XXGv", "ESGp2", "ESSpZZ", "ESSd02", "ESQq0"} {
		_, err := s.handle(cmd)
		require.Error(t, err, cmd)
	}
}

func TestStep(t *testing.T) {
	s, _ := New(nil)
	s.handle("ESTr0539")
	for i := 0; i < 40; i++ {
		s.step()
	}
	// One second of sidereal tracking.
	require.InDelta(t, 53, s.Counts().RA, 1)
	require.Equal(t, 1337, s.TrackRate())

	s.handle("ESPt1F73600")
	require.True(t, s.Slewing())
	for i := 0; i < 100; i++ {
		s.step()
	}
	require.False(t, s.Slewing())
	require.Equal(t, -576000, s.Counts().Dec)
}

func TestSession(t *testing.T) {
	sim, conn := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx)
	}()
	port := transport.NewConn(conn, nil)
	defer func() {
		cancel()
		port.Close()
		<-done
	}()
	p := pmc.New(port, nil)
	p.SetTimeout(time.Second)

	caps, err := p.Handshake()
	require.NoError(t, err)
	require.Equal(t, "06B9T9", caps.Board)

	require.NoError(t, p.SetTracking(mount.TrackSidereal))
	pier, err := p.Goto(mount.EquatorialCoord{RA: 4, Dec: 45}, 10)
	require.NoError(t, err)
	require.Equal(t, mount.PierEast, pier)

	moving, err := p.IsMoving()
	require.NoError(t, err)
	require.True(t, moving)
	require.ErrorIs(t, p.Jog(mount.North, 0), mount.ErrInvalidState)

	require.Eventually(t, func() bool { return !sim.Slewing() }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, -576000, sim.Counts().Dec)
	side, err := p.SideOfPier()
	require.NoError(t, err)
	require.Equal(t, mount.PierEast, side)

	require.NoError(t, p.Jog(mount.East, 1))
	fwd, err := p.Direction(mount.AxisRA)
	require.NoError(t, err)
	require.False(t, fwd)
	require.NoError(t, p.StopJog(mount.East))

	require.NoError(t, p.Sync(mount.EquatorialCoord{RA: 4, Dec: 45}, 10, mount.SyncRegular))
	c := sim.Counts()
	require.InDelta(t, 0, c.RA, 3)
	require.Equal(t, -576000, c.Dec)

	require.NoError(t, p.Park())
	require.Equal(t, 0, sim.TrackRate())
}
