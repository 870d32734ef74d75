package mount

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	for _, test := range []struct {
		name   string
		events []Event
		want   State
		err    bool
	}{
		{"connect", []Event{EventConnect}, Idle, false},
		{"track", []Event{EventConnect, EventTrackOn}, Tracking, false},
		{"goto from idle", []Event{EventConnect, EventGoto}, Slewing, false},
		{"goto settles", []Event{EventConnect, EventTrackOn, EventGoto, EventSettled}, Tracking, false},
		{"preempt", []Event{EventConnect, EventGoto, EventGoto}, Slewing, false},
		{"park cycle", []Event{EventConnect, EventTrackOn, EventPark, EventParked}, Parked, false},
		{"unpark", []Event{EventConnect, EventPark, EventParked, EventUnpark}, Tracking, false},
		{"goto while parked", []Event{EventConnect, EventPark, EventParked, EventGoto}, Parked, true},
		{"park while slewing", []Event{EventConnect, EventGoto, EventPark}, Slewing, true},
		{"abort slew", []Event{EventConnect, EventGoto, EventAbort}, Idle, false},
		{"abort parking", []Event{EventConnect, EventPark, EventAbort}, Idle, false},
		{"abort parked", []Event{EventConnect, EventPark, EventParked, EventAbort}, Parked, false},
		{"disconnect", []Event{EventConnect, EventTrackOn, EventDisconnect}, Disconnected, false},
		{"settle without slew", []Event{EventConnect, EventSettled}, Idle, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			var m Machine
			var err error
			for _, ev := range test.events {
				if err = m.Fire(ev); err != nil {
					break
				}
			}
			if test.err {
				require.True(t, errors.Is(err, ErrInvalidState), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			if diff := cmp.Diff(test.want, m.State()); diff != "" {
				t.Errorf("unexpected state: (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMachineOnTransition(t *testing.T) {
	var got []string
	m := Machine{OnTransition: func(from, to State, ev Event) {
		got = append(got, from.String()+">"+to.String())
	}}
	require.NoError(t, m.Fire(EventConnect))
	require.NoError(t, m.Fire(EventTrackOn))
	require.NoError(t, m.Fire(EventTrackOn))
	want := []string{"DISCONNECTED>IDLE", "IDLE>TRACKING"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions: (-want +got):\n%s", diff)
	}
}

func TestStasis(t *testing.T) {
	for _, test := range []struct {
		name    string
		samples int
		points  [][2]float64
		want    []bool
	}{
		{"two samples", 2, [][2]float64{{1, 1}, {1, 1}}, []bool{false, true}},
		{"moving", 2, [][2]float64{{1, 1}, {2, 1}, {3, 1}, {3, 1}}, []bool{false, false, false, true}},
		{"three samples", 3, [][2]float64{{1, 1}, {1, 1}, {1, 1}}, []bool{false, false, true}},
		{"reset by motion", 3, [][2]float64{{1, 1}, {1, 1}, {1, 2}, {1, 2}, {1, 2}}, []bool{false, false, false, false, true}},
		{"within epsilon", 2, [][2]float64{{1, 1}, {1.0005, 0.9995}}, []bool{false, true}},
		{"wraps", 2, [][2]float64{{23.9999, 1}, {0.0001, 1}}, []bool{false, true}},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := Stasis{Samples: test.samples, Eps1: 0.001, Eps2: 0.001}
			var got []bool
			for _, p := range test.points {
				got = append(got, s.Sample(p[0], p[1], 24))
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("settled: (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"n": North, "South": South, "E": East, "west": West} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseDirection("up")
	require.ErrorIs(t, err, ErrOutOfRange)
}
