// Package simulator emulates a PMC-family mount on the wire. It models the two
// motor axes in counts; sky coordinates only exist on the driver side.
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
	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/motion"
	"golang.org/x/sync/errgroup"
)

const (
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
	// Goto speed in counts/second, about 20 degrees/second.
	defaultSlewSpeed = 256000
)

type axis struct {
	pos     float64
	target  float64
	goingTo bool
	// move is the move rate in counts/second, 0 when not jogging.
	move    int
	forward bool
}

// rate is the speed reported by ESGr in move rate units.
func (a *axis) rate(slew float64, precise int) int {
	switch {
	case a.goingTo:
		return int(math.Min(slew, motion.PMCMaxMove))
	case a.move != 0:
		return a.move
	}
	return precise / 25
}

type Simulator struct {
	conn io.ReadWriteCloser
	log  logrus.FieldLogger

	mu sync.Mutex
	// Board is the controller identification returned by ESGv.
	Board string
	// SlewSpeed is the goto speed in counts/second.
	SlewSpeed float64

	axes [2]axis
	// precise is the RA tracking rate in precise rate units.
	precise int
}

func New(log logrus.FieldLogger) (*Simulator, net.Conn) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a, b := net.Pipe()
	s := &Simulator{
		conn:      a,
		log:       log.WithField("sim", "PMC"),
		Board:     "06B9T9",
		SlewSpeed: defaultSlewSpeed,
	}
	s.axes[0].forward = true
	s.axes[1].forward = true
	return s, b
}

// Counts returns the current motor position.
func (s *Simulator) Counts() coords.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return coords.Counts{RA: int(math.Round(s.axes[0].pos)), Dec: int(math.Round(s.axes[1].pos))}
}

// Slewing reports whether a goto is in progress on either axis.
func (s *Simulator) Slewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[0].goingTo || s.axes[1].goingTo
}

// TrackRate returns the signed precise rate.
func (s *Simulator) TrackRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.axes[0].forward {
		return -s.precise
	}
	return s.precise
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

func scanBang(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '!'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(scanBang)
	for scanner.Scan() {
		input := scanner.Text()
		s.log.WithField("cmd", input).Debug("srv->sim")
		res, err := s.handle(input)
		if err != nil {
			s.log.WithError(err).WithField("cmd", input).Warn("bad command")
			continue
		}
		if _, err := io.WriteString(s.conn, res); err != nil {
			return fmt.Errorf("writing port: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.ErrClosedPipe && !strings.Contains(err.Error(), "closed") {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

func parseAxis(c byte) (int, error) {
	switch c {
	case '0':
		return 0, nil
	case '1':
		return 1, nil
	}
	return 0, fmt.Errorf("bad axis %q", c)
}

// handle executes one command (without its terminator) and returns the response.
func (s *Simulator) handle(input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(input) < 4 || !strings.HasPrefix(input, "ES") {
		return "", fmt.Errorf("unrecognized command %q", input)
	}
	verb, args := input[:4], input[4:]
	if verb == "ESGv" {
		return "ESGvES" + s.Board + "!", nil
	}
	if verb == "ESTr" {
		v, err := strconv.ParseUint(args, 16, 16)
		if err != nil {
			return "", err
		}
		s.precise = int(v)
		return input + "!", nil
	}
	if len(args) < 1 {
		return "", fmt.Errorf("missing axis in %q", input)
	}
	n, err := parseAxis(args[0])
	if err != nil {
		return "", err
	}
	a, args := &s.axes[n], args[1:]
	switch verb {
	case "ESGp":
		hex, err := coords.EncodeCounts24(int(math.Round(a.pos)))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ESGp%d%s!", n, hex), nil
	case "ESSp", "ESPt":
		v, err := coords.DecodeCounts24(args)
		if err != nil {
			return "", err
		}
		if verb == "ESSp" {
			a.pos = float64(v)
			a.goingTo = false
			return fmt.Sprintf("ESGp%d%s!", n, args), nil
		}
		a.target, a.goingTo = float64(v), true
		return fmt.Sprintf("ESGt%d%s!", n, args), nil
	case "ESSd":
		if args != "0" && args != "1" {
			return "", fmt.Errorf("bad direction in %q", input)
		}
		a.forward = args == "1"
		return input + "!", nil
	case "ESSr":
		v, err := strconv.ParseUint(args, 16, 16)
		if err != nil {
			return "", err
		}
		a.move = int(v)
		// Setting the move rate overrides any goto, which is how slews are stopped.
		a.goingTo = false
		return input + "!", nil
	case "ESGd":
		d := 0
		if a.forward {
			d = 1
		}
		return fmt.Sprintf("ESGd%d%d!", n, d), nil
	case "ESGr":
		precise := 0
		if n == 0 {
			precise = s.precise
		}
		return fmt.Sprintf("ESGr%d%04X!", n, a.rate(s.SlewSpeed, precise)), nil
	}
	return "", fmt.Errorf("unknown command %q", input)
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt := stepSize.Seconds()
	for i := range s.axes {
		a := &s.axes[i]
		if a.goingTo {
			max := s.SlewSpeed * dt
			delta := a.target - a.pos
			if math.Abs(delta) <= max {
				a.pos = a.target
				a.goingTo = false
			} else {
				a.pos += math.Copysign(max, delta)
			}
			continue
		}
		v := float64(a.move)
		if i == 0 && a.move == 0 {
			v = float64(s.precise) / 25
		}
		if !a.forward {
			v = -v
		}
		a.pos += v * dt
	}
}
