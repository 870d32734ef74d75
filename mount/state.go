package mount

import (
	"fmt"
	"math"
)

type State int

const (
	Disconnected State = iota
	Idle
	Tracking
	Slewing
	Parking
	Parked
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Idle:
		return "IDLE"
	case Tracking:
		return "TRACKING"
	case Slewing:
		return "SLEWING"
	case Parking:
		return "PARKING"
	case Parked:
		return "PARKED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Event int

const (
	EventConnect Event = iota
	EventDisconnect
	EventTrackOn
	EventTrackOff
	EventGoto
	EventSettled
	EventAbort
	EventPark
	EventParked
	EventUnpark
	// EventRestoreParked is used when the mount reports it is already parked.
	EventRestoreParked
)

func (e Event) String() string {
	return [...]string{"connect", "disconnect", "track-on", "track-off", "goto", "settled", "abort", "park", "parked", "unpark", "restore-parked"}[e]
}

type transition struct {
	from  State
	event Event
}

var transitions = map[transition]State{
	{Disconnected, EventConnect}: Idle,

	{Idle, EventTrackOn}:      Tracking,
	{Tracking, EventTrackOn}:  Tracking,
	{Tracking, EventTrackOff}: Idle,
	{Idle, EventTrackOff}:     Idle,

	{Idle, EventGoto}:     Slewing,
	{Tracking, EventGoto}: Slewing,
	{Slewing, EventGoto}:  Slewing,

	{Slewing, EventSettled}: Tracking,

	{Idle, EventPark}:      Parking,
	{Tracking, EventPark}:  Parking,
	{Parking, EventParked}: Parked,
	{Parked, EventUnpark}:  Tracking,

	{Idle, EventRestoreParked}:     Parked,
	{Tracking, EventRestoreParked}: Parked,
}

// Stasis decides when a slew has settled: a position is settled once
// Samples consecutive polls agree within the epsilons.
type Stasis struct {
	Samples int
	// Epsilons for the two axes in the units of the compared coordinates.
	Eps1, Eps2 float64

	last    [2]float64
	haveOne bool
	matches int
}

// Reset forgets the previous sample.
func (s *Stasis) Reset() {
	s.haveOne = false
	s.matches = 0
}

// Sample records a position and reports whether the mount has stopped
// moving. a1 is treated as an angle modulo wrap (24 or 360) when wrap is non-zero.
func (s *Stasis) Sample(a1, a2, wrap float64) bool {
	if !s.haveOne {
		s.last = [2]float64{a1, a2}
		s.haveOne = true
		return false
	}
	d1 := math.Abs(a1 - s.last[0])
	if wrap != 0 && d1 > wrap/2 {
		d1 = wrap - d1
	}
	d2 := math.Abs(a2 - s.last[1])
	s.last = [2]float64{a1, a2}
	if d1 <= s.Eps1 && d2 <= s.Eps2 {
		s.matches++
	} else {
		s.matches = 0
	}
	samples := s.Samples
	if samples < 2 {
		samples = 2
	}
	return s.matches >= samples-1
}

// Machine enforces the legal lifecycle of a mount.
type Machine struct {
	state State
	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State, ev Event)
}

func (m *Machine) State() State {
	return m.state
}

// Can reports whether ev is legal in the current state.
func (m *Machine) Can(ev Event) bool {
	if ev == EventAbort || ev == EventDisconnect {
		return m.state != Disconnected
	}
	_, ok := transitions[transition{m.state, ev}]
	return ok
}

// Fire applies ev, returning ErrInvalidState if it is not legal.
func (m *Machine) Fire(ev Event) error {
	from := m.state
	var to State
	switch ev {
	case EventDisconnect:
		to = Disconnected
	case EventAbort:
		if from == Disconnected {
			return fmt.Errorf("%w: %s while %s", ErrInvalidState, ev, from)
		}
		// An aborted parked mount has not moved.
		to = Idle
		if from == Parked {
			to = Parked
		}
	default:
		var ok bool
		to, ok = transitions[transition{from, ev}]
		if !ok {
			return fmt.Errorf("%w: %s while %s", ErrInvalidState, ev, from)
		}
	}
	m.state = to
	if m.OnTransition != nil && from != to {
		m.OnTransition(from, to, ev)
	}
	return nil
}
