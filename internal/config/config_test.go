package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/mount"
)

func TestLoad(t *testing.T) {
	t.Setenv("MOUNT_FAMILY", "PMC")
	t.Setenv("MOUNT_BAUD", "115200")
	t.Setenv("MOUNT_SIMULATE", "true")
	t.Setenv("MOUNT_TIMEOUT", "250ms")
	t.Setenv("SITE_LAT", "-33.5")
	t.Setenv("SITE_LON", "-70.25")
	t.Setenv("POLL_INTERVAL", "bogus")
	t.Setenv("SETTLE_COUNTS", "4")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, mount.FamilyPMC, cfg.Family)
	require.Equal(t, 115200, cfg.Baud)
	require.True(t, cfg.Simulate)
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
	require.Equal(t, mount.Site{Latitude: -33.5, Longitude: 289.75}, cfg.Site)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 2, cfg.SettleSamples)
	require.Equal(t, 0.5, cfg.SettleEpsilon)
	require.Equal(t, 4, cfg.SettleCounts)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("MOUNT_FAMILY", "meade")
	_, err := Load()
	require.ErrorIs(t, err, mount.ErrOutOfRange)

	t.Setenv("MOUNT_FAMILY", "auto")
	t.Setenv("SITE_LAT", "91")
	_, err = Load()
	require.ErrorIs(t, err, mount.ErrOutOfRange)

	t.Setenv("SITE_LAT", "45")
	t.Setenv("SETTLE_SAMPLES", "1")
	_, err = Load()
	require.ErrorIs(t, err, mount.ErrOutOfRange)

	t.Setenv("SETTLE_SAMPLES", "2")
	t.Setenv("SETTLE_EPSILON", "-1")
	_, err = Load()
	require.ErrorIs(t, err, mount.ErrOutOfRange)
}

func TestOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.env")

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultOptions, opts); diff != "" {
		t.Errorf("defaults: got(-)/want(+):\n%s", diff)
	}

	want := Options{
		GotoRate:  2,
		JogRate:   3,
		GuideRate: 0,
		SyncMode:  mount.SyncCMR,
		Park:      &mount.HorizontalCoord{Az: 181.5, Alt: 42.25},
	}
	require.NoError(t, SaveOptions(path, want))
	got, err := LoadOptions(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip: got(-)/want(+):\n%s", diff)
	}
}

func TestOptionsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.env")
	require.NoError(t, os.WriteFile(path, []byte("GOTO_RATE=fast\n"), 0o644))
	_, err := LoadOptions(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("SYNC_MODE=sideways\n"), 0o644))
	_, err = LoadOptions(path)
	require.ErrorIs(t, err, mount.ErrOutOfRange)
}
