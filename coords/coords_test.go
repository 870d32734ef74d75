package coords

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/mount_interface/mount"
)

func TestCounts24RoundTrip(t *testing.T) {
	for _, x := range []int{0, 1, -1, 576000, -576000, 1<<23 - 1, -1 << 23, 4608000 / 2, -4608000 / 4} {
		s, err := EncodeCounts24(x)
		require.NoError(t, err)
		require.Len(t, s, 6)
		got, err := DecodeCounts24(s)
		require.NoError(t, err)
		require.Equal(t, x, got, "round trip through %q", s)
	}
	// Sweep the whole range coarsely.
	for x := -1 << 23; x < 1<<23; x += 4099 {
		s, _ := EncodeCounts24(x)
		if got, _ := DecodeCounts24(s); got != x {
			t.Fatalf("DecodeCounts24(EncodeCounts24(%d)) = %d", x, got)
		}
	}
}

func TestEncodeCounts24(t *testing.T) {
	for _, test := range []struct {
		in   int
		want string
	}{
		{0, "000000"},
		{-576000, "F73600"},
		{-1, "FFFFFF"},
		{255, "0000FF"},
		{1<<23 - 1, "7FFFFF"},
		{-1 << 23, "800000"},
	} {
		got, err := EncodeCounts24(test.in)
		require.NoError(t, err)
		require.Equal(t, test.want, got)
	}
	_, err := EncodeCounts24(1 << 23)
	require.ErrorIs(t, err, mount.ErrOutOfRange)
}

func TestDecodeCounts24Errors(t *testing.T) {
	for _, in := range []string{"", "12345", "1234567", "12G456"} {
		_, err := DecodeCounts24(in)
		require.ErrorIs(t, err, mount.ErrProtocolMismatch, "input %q", in)
	}
	got, err := DecodeCounts24("f73600")
	require.NoError(t, err)
	require.Equal(t, -576000, got)
}

func TestNormalizeHourAngle(t *testing.T) {
	for in, want := range map[float64]float64{
		0: 0, 12: 12, -12: 12, 13: -11, -13: 11, 24: 0, 36: 12, -6: -6, 23.5: -0.5,
	} {
		if got := NormalizeHourAngle(in); math.Abs(got-want) > 1e-12 {
			t.Errorf("NormalizeHourAngle(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDestPierSide(t *testing.T) {
	for _, test := range []struct {
		ra, lst float64
		want    mount.PierSide
	}{
		{4, 10, mount.PierEast},
		{10, 10, mount.PierEast},
		{11, 10, mount.PierWest},
		{22.5, 10, mount.PierEast},
		{21.5, 10, mount.PierWest},
	} {
		if got := DestPierSide(test.ra, test.lst); got != test.want {
			t.Errorf("DestPierSide(%v, %v) = %v, want %v", test.ra, test.lst, got, test.want)
		}
	}
	for ra := 0.0; ra < 24; ra += 0.25 {
		got := DestPierSide(ra, 3.3)
		require.Contains(t, []mount.PierSide{mount.PierEast, mount.PierWest}, got)
	}
}

func TestToMotorScenario(t *testing.T) {
	c := mount.EquatorialCoord{RA: 4, Dec: 45}
	pier := DestPierSide(c.RA, 10)
	require.Equal(t, mount.PierEast, pier)
	got := ToMotor(c, 10, pier)
	if diff := cmp.Diff(Counts{RA: 0, Dec: -576000}, got); diff != "" {
		t.Errorf("ToMotor: (-want +got):\n%s", diff)
	}
}

func TestMotorRoundTrip(t *testing.T) {
	// One arcsecond in hours of RA and degrees of Dec.
	const raTol, decTol = 1.0 / (15 * 3600), 1.0 / 3600
	for _, lst := range []float64{0, 3.7, 10, 18.25, 23.99} {
		for _, pier := range []mount.PierSide{mount.PierEast, mount.PierWest} {
			for ra := 0.0; ra < 24; ra += 1.3 {
				for dec := -89.0; dec < 90; dec += 7.9 {
					c := mount.EquatorialCoord{RA: ra, Dec: dec}
					got := FromMotor(ToMotor(c, lst, pier), lst)
					dra := math.Abs(got.RA - ra)
					if dra > 12 {
						dra = 24 - dra
					}
					if dra > raTol || math.Abs(got.Dec-dec) > decTol {
						t.Fatalf("lst=%v pier=%v: %+v round-tripped to %+v", lst, pier, c, got)
					}
				}
			}
		}
	}
}

func TestPierFromMotor(t *testing.T) {
	require.Equal(t, mount.PierEast, PierFromMotor(Counts{Dec: -576000}))
	require.Equal(t, mount.PierWest, PierFromMotor(Counts{Dec: 576000}))
}

func TestAzimuthConventions(t *testing.T) {
	for _, test := range []struct{ mountAz, publicAz float64 }{
		{0, 180}, {90, 270}, {180, 0}, {270, 90}, {359, 179},
	} {
		require.InDelta(t, test.publicAz, PublicAz(test.mountAz), 1e-9)
		require.InDelta(t, test.mountAz, MountAz(test.publicAz), 1e-9)
	}
}
