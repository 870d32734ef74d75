// Package simulator emulates an AP-family mount on the wire.
package simulator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/ap"
	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/motion"
	"github.com/w1xm/mount_interface/mount"
	"golang.org/x/sync/errgroup"
)

const (
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
	// Goto speed in degrees/second
	defaultSlewSpeed = 20
)

type Simulator struct {
	conn io.ReadWriteCloser
	log  logrus.FieldLogger

	mu sync.Mutex
	// Version is the :V# answer.
	Version string
	// SlewSpeed is the goto speed in degrees/second.
	SlewSpeed float64

	clock time.Time
	site  mount.Site
	long  bool
	// The mount reports 0/90 until :PO# on power-up.
	initialized bool
	// backlash acceptance is refused once per connection.
	backlashTried bool

	pos     mount.EquatorialCoord
	object  mount.EquatorialCoord
	objHorz mount.HorizontalCoord
	horz    bool

	slewing bool
	// holdHorz is the horizontal slew target. The mount stops tracking on
	// arrival so that Az/Alt hold still until it is parked.
	holdHorz *mount.HorizontalCoord

	tracking        bool
	raRate, decRate float64
	parked          bool
	jog             map[mount.Direction]bool
	jogIndex        int
	guideIndex      int
	slewIndex       int
	pec             bool
	swapNS, swapEW  bool
}

func New(log logrus.FieldLogger) (*Simulator, net.Conn) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a, b := net.Pipe()
	return &Simulator{
		conn:       a,
		log:        log.WithField("sim", "AP"),
		Version:    "VCP4-P01-01",
		SlewSpeed:  defaultSlewSpeed,
		clock:      time.Now().UTC(),
		long:       true,
		pos:        mount.EquatorialCoord{Dec: 90},
		raRate:     mount.Sidereal,
		jog:        make(map[mount.Direction]bool),
		guideIndex: 1,
	}, b
}

// Position returns the simulated pointing.
func (s *Simulator) Position() mount.EquatorialCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// SetInitialized skips the power-up state in which the mount reports 0/90.
func (s *Simulator) SetInitialized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = v
	s.tracking = v
}

func (s *Simulator) Parked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parked
}

func (s *Simulator) lst() float64 {
	return astro.LocalSiderealTime(s.clock, s.site.Longitude)
}

func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})
	return g.Wait()
}

func scanHash(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '#'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(scanHash)
	for scanner.Scan() {
		input := scanner.Text()
		s.log.WithField("cmd", input).Debug("srv->sim")
		res, err := s.handle(input)
		if err != nil {
			s.log.WithError(err).WithField("cmd", input).Warn("bad command")
		}
		if res == "" {
			continue
		}
		if _, err := io.WriteString(s.conn, res); err != nil {
			return fmt.Errorf("writing port: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !isClosed(err) {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

func isClosed(err error) bool {
	return err == io.ErrClosedPipe || strings.Contains(err.Error(), "closed")
}

func parseIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || i < 0 || i >= n {
		return 0, fmt.Errorf("bad rate index %q", arg)
	}
	return i, nil
}

func direction(c byte) (mount.Direction, bool) {
	switch c {
	case 'n':
		return mount.North, true
	case 's':
		return mount.South, true
	case 'e':
		return mount.East, true
	case 'w':
		return mount.West, true
	}
	return 0, false
}

// handle executes one command and returns the bytes to send back.
func (s *Simulator) handle(input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if input == "" {
		return "", nil
	}
	if !strings.HasPrefix(input, ":") {
		return "", fmt.Errorf("unrecognized command %q", input)
	}
	cmd := input[1:]
	arg := func(prefix string) string {
		return strings.TrimSpace(strings.TrimPrefix(cmd, prefix))
	}
	switch {
	case cmd == "V":
		return s.Version + "#", nil
	case strings.HasPrefix(cmd, "Br"):
		if !s.backlashTried {
			s.backlashTried = true
			return "0", nil
		}
		return "1", nil
	case cmd == "U":
		s.long = !s.long
		return "", nil
	case cmd == "GR":
		ra := s.reportedPosition().RA
		if s.long {
			return ap.FormatRA(ra) + "#", nil
		}
		t := int(math.Round(ra*600)) % (24 * 600)
		return fmt.Sprintf("%02d:%02d.%d#", t/600, t/10%60, t%10), nil
	case cmd == "GD":
		return ap.FormatDec(s.reportedPosition().Dec) + "#", nil
	case cmd == "GZ":
		return ap.FormatAz(s.horizontal().Az) + "#", nil
	case cmd == "GA":
		return ap.FormatDec(s.horizontal().Alt) + "#", nil
	case cmd == "pS":
		if coords.DestPierSide(s.pos.RA, s.lst()) == mount.PierWest {
			return "West#", nil
		}
		return "East#", nil
	case cmd == "GOS":
		if s.parked {
			return "P#", nil
		}
		return "0#", nil
	case strings.HasPrefix(cmd, "Sr"):
		v, err := ap.ParseSexagesimal(arg("Sr"))
		if err != nil {
			return "0", err
		}
		s.object.RA, s.horz = v, false
		return "1", nil
	case strings.HasPrefix(cmd, "Sd"):
		v, err := ap.ParseSexagesimal(arg("Sd"))
		if err != nil {
			return "0", err
		}
		s.object.Dec, s.horz = v, false
		return "1", nil
	case strings.HasPrefix(cmd, "Sz"):
		v, err := ap.ParseSexagesimal(arg("Sz"))
		if err != nil {
			return "0", err
		}
		s.objHorz.Az, s.horz = v, true
		return "1", nil
	case strings.HasPrefix(cmd, "Sa"):
		v, err := ap.ParseSexagesimal(arg("Sa"))
		if err != nil {
			return "0", err
		}
		s.objHorz.Alt, s.horz = v, true
		return "1", nil
	case strings.HasPrefix(cmd, "Sg"):
		v, err := ap.ParseLongitude(arg("Sg"))
		if err != nil {
			return "0", err
		}
		s.site.Longitude = v
		return "1", nil
	case strings.HasPrefix(cmd, "St"):
		v, err := ap.ParseSexagesimal(arg("St"))
		if err != nil {
			return "0", err
		}
		s.site.Latitude = v
		return "1", nil
	case strings.HasPrefix(cmd, "SL"), strings.HasPrefix(cmd, "SG"):
		return "1", nil
	case strings.HasPrefix(cmd, "SC"):
		return "Updating Planetary Data#", nil
	case cmd == "MS":
		s.slewing = true
		s.parked = false
		s.holdHorz = nil
		if s.horz {
			h := s.objHorz
			s.holdHorz = &h
		}
		return "0", nil
	case cmd == "CM" || cmd == "CMR":
		s.pos = s.object
		return "Coordinates     matched.        #", nil
	case cmd == "Q":
		s.slewing = false
		s.jog = make(map[mount.Direction]bool)
		return "", nil
	case cmd == "KA":
		s.slewing = false
		s.tracking = false
		s.parked = true
		return "", nil
	case cmd == "PO":
		s.initialized = true
		s.tracking = true
		s.parked = false
		s.pos.RA = s.lst()
		return "", nil
	case strings.HasPrefix(cmd, "RT"):
		switch arg("RT") {
		case "0":
			s.raRate, s.tracking = mount.Sidereal, true
		case "1":
			s.raRate, s.tracking = motion.Lunar, true
		case "2":
			s.raRate, s.tracking = motion.Solar, true
		case "9":
			s.tracking = false
		default:
			return "", fmt.Errorf("bad tracking mode %q", cmd)
		}
		s.decRate = 0
		return "", nil
	case strings.HasPrefix(cmd, "RR"):
		m, err := strconv.ParseFloat(arg("RR"), 64)
		if err != nil {
			return "", err
		}
		s.raRate = mount.Sidereal + m*mount.Sidereal
		return "", nil
	case strings.HasPrefix(cmd, "RD"):
		m, err := strconv.ParseFloat(arg("RD"), 64)
		if err != nil {
			return "", err
		}
		s.decRate = m * mount.Sidereal
		return "", nil
	case strings.HasPrefix(cmd, "RC"):
		i, err := parseIndex(arg("RC"), len(motion.APJogRates))
		s.jogIndex = i
		return "", err
	case strings.HasPrefix(cmd, "RS"):
		i, err := parseIndex(arg("RS"), len(motion.APGotoRates))
		s.slewIndex = i
		return "", err
	case strings.HasPrefix(cmd, "RG"):
		i, err := parseIndex(arg("RG"), len(motion.GuideRates))
		s.guideIndex = i
		return "", err
	case cmd == "NS":
		s.swapNS = !s.swapNS
		return "", nil
	case cmd == "EW":
		s.swapEW = !s.swapEW
		return "", nil
	case cmd == "P":
		s.pec = true
		return "", nil
	case cmd == "p":
		s.pec = false
		return "", nil
	case len(cmd) >= 2 && (cmd[0] == 'M' || cmd[0] == 'Q'):
		dir, ok := direction(cmd[1])
		if !ok {
			break
		}
		dir = s.swap(dir)
		if cmd[0] == 'Q' {
			delete(s.jog, dir)
			return "", nil
		}
		if len(cmd) == 2 {
			s.jog[dir] = true
			return "", nil
		}
		ms, err := strconv.Atoi(cmd[2:])
		if err != nil {
			return "", err
		}
		s.pulse(dir, time.Duration(ms)*time.Millisecond)
		return "", nil
	}
	return "", fmt.Errorf("unknown command %q", input)
}

func (s *Simulator) swap(d mount.Direction) mount.Direction {
	switch {
	case s.swapNS && d == mount.North:
		return mount.South
	case s.swapNS && d == mount.South:
		return mount.North
	case s.swapEW && d == mount.East:
		return mount.West
	case s.swapEW && d == mount.West:
		return mount.East
	}
	return d
}

func (s *Simulator) reportedPosition() mount.EquatorialCoord {
	if !s.initialized {
		return mount.EquatorialCoord{Dec: 90}
	}
	return s.pos
}

func (s *Simulator) horizontal() mount.HorizontalCoord {
	return astro.HorizontalFromEquatorial(s.pos, s.site.Latitude, s.lst())
}

// offset moves the pointing by the given RA (hours) and Dec (degrees).
func (s *Simulator) offset(ra, dec float64) {
	s.pos.RA = astro.Range24(s.pos.RA + ra)
	s.pos.Dec = math.Max(-90, math.Min(90, s.pos.Dec+dec))
}

// move applies an arcsec/s rate in dir for d.
func (s *Simulator) move(dir mount.Direction, rate float64, d time.Duration) {
	deg := rate * d.Seconds() / 3600
	switch dir {
	case mount.North:
		s.offset(0, deg)
	case mount.South:
		s.offset(0, -deg)
	case mount.West:
		s.offset(deg/15, 0)
	case mount.East:
		s.offset(-deg/15, 0)
	}
}

func (s *Simulator) pulse(dir mount.Direction, d time.Duration) {
	s.move(dir, motion.GuideRates[s.guideIndex]*mount.Sidereal, d)
}

// servo returns how far to move from s toward t in one step, limited to max.
func servo(s, t, max float64) float64 {
	delta := t - s
	if math.Abs(delta) > max {
		return math.Copysign(max, delta)
	}
	return delta
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(stepSize)
	if !s.initialized {
		return
	}
	dt := stepSize.Seconds()
	// An untracked mount holds hour angle, so RA follows sidereal time.
	drift := mount.Sidereal
	if s.tracking {
		drift -= s.raRate
		s.offset(0, s.decRate*dt/3600)
	}
	s.offset(drift*dt/54000, 0)

	if s.slewing {
		target := s.object
		if s.holdHorz != nil {
			target = astro.EquatorialFromHorizontal(*s.holdHorz, s.site.Latitude, s.lst())
		}
		max := s.SlewSpeed * dt
		dra := servo(0, math.Remainder(target.RA-s.pos.RA, 24), max/15)
		ddec := servo(s.pos.Dec, target.Dec, max)
		s.offset(dra, ddec)
		if math.Abs(math.Remainder(target.RA-s.pos.RA, 24)) < 1e-9 && math.Abs(target.Dec-s.pos.Dec) < 1e-9 {
			s.slewing = false
			if s.holdHorz != nil {
				s.tracking = false
				s.holdHorz = nil
			}
		}
	}
	for dir := range s.jog {
		s.move(dir, motion.APJogRates[s.jogIndex]*mount.Sidereal, stepSize)
	}
}
