// Package pmc implements the command layer for PMC-family mounts, which speak
// '!'-terminated ASCII frames carrying motor counts and rates in hex.
package pmc

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/motion"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/transport"
)

// Protocol drives a PMC-family mount over a transport.Port.
type Protocol struct {
	port    transport.Port
	log     logrus.FieldLogger
	timeout time.Duration
	sleep   func(time.Duration)

	caps mount.Capabilities

	guideRate int
	// custom is the RA rate used by TrackCustom, track the rate currently applied.
	custom, track float64
}

var (
	_ mount.Protocol     = (*Protocol)(nil)
	_ mount.PierSider    = (*Protocol)(nil)
	_ mount.MotionSensor = (*Protocol)(nil)
)

func New(port transport.Port, log logrus.FieldLogger) *Protocol {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Protocol{
		port:      port,
		log:       log.WithField("family", "PMC"),
		timeout:   transport.DefaultTimeout,
		sleep:     time.Sleep,
		guideRate: 1,
		custom:    mount.Sidereal,
	}
}

// SetTimeout changes the per-read timeout.
func (p *Protocol) SetTimeout(d time.Duration) {
	p.timeout = d
}

// SetSleep replaces the function used to time guide pulses.
func (p *Protocol) SetSleep(sleep func(time.Duration)) {
	p.sleep = sleep
}

func (p *Protocol) Family() mount.Family {
	return mount.FamilyPMC
}

// exchange flushes stale input, writes cmd and reads an n byte response.
func (p *Protocol) exchange(cmd string, n int) (string, error) {
	if err := p.port.Flush(); err != nil {
		return "", err
	}
	if _, err := p.port.Write([]byte(cmd)); err != nil {
		return "", err
	}
	res, err := p.port.ReadExact(n, p.timeout)
	if err != nil {
		return "", fmt.Errorf("%w: expected %d bytes in response to %q: %v", mount.ErrProtocolMismatch, n, cmd, err)
	}
	return string(res), nil
}

// echo sends cmd and checks that the mount answered with want.
func (p *Protocol) echo(cmd, want string) error {
	res, err := p.exchange(cmd, len(want))
	if err != nil {
		return err
	}
	if res != want {
		return fmt.Errorf("%w: %q answered %q, want %q", mount.ErrProtocolMismatch, cmd, res, want)
	}
	return nil
}

// command sends cmd and checks only the length and framing of the acknowledgement.
func (p *Protocol) command(cmd string, n int) error {
	res, err := p.exchange(cmd, n)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(res, "ES") || res[n-1] != '!' {
		return fmt.Errorf("%w: %q answered %q", mount.ErrProtocolMismatch, cmd, res)
	}
	return nil
}

func (p *Protocol) Handshake() (mount.Capabilities, error) {
	var lastErr error
	for i := 0; i < 2; i++ {
		if err := p.port.Flush(); err != nil {
			return mount.Capabilities{}, err
		}
		if _, err := p.port.Write([]byte("ESGv!")); err != nil {
			return mount.Capabilities{}, err
		}
		res, err := p.port.ReadUntil('!', p.timeout)
		if err != nil {
			lastErr = fmt.Errorf("%w: no response to identify: %v", mount.ErrProtocolMismatch, err)
			continue
		}
		caps, err := ParseVersion(string(res) + "!")
		if err != nil {
			lastErr = err
			continue
		}
		p.log.WithField("board", caps.Board).Info("identified mount")
		p.caps = caps
		return caps, nil
	}
	return mount.Capabilities{}, lastErr
}

func (p *Protocol) readCounts(axis mount.Axis) (int, error) {
	cmd := fmt.Sprintf("ESGp%d!", axisNumber(axis))
	res, err := p.exchange(cmd, positionLen)
	if err != nil {
		return 0, err
	}
	return ParsePosition(res, axis)
}

// ReadCounts returns the raw motor counts of both axes.
func (p *Protocol) ReadCounts() (coords.Counts, error) {
	ra, err := p.readCounts(mount.AxisRA)
	if err != nil {
		return coords.Counts{}, err
	}
	dec, err := p.readCounts(mount.AxisDec)
	if err != nil {
		return coords.Counts{}, err
	}
	return coords.Counts{RA: ra, Dec: dec}, nil
}

func (p *Protocol) ReadPosition(lst float64) (mount.EquatorialCoord, error) {
	c, err := p.ReadCounts()
	if err != nil {
		return mount.EquatorialCoord{}, err
	}
	return coords.FromMotor(c, lst), nil
}

// SideOfPier derives the pier side from the Dec axis counts.
func (p *Protocol) SideOfPier() (mount.PierSide, error) {
	c, err := p.ReadCounts()
	if err != nil {
		return mount.PierUnknown, err
	}
	return coords.PierFromMotor(c), nil
}

// setCounts writes both axes with verb, expecting the echo under reply.
func (p *Protocol) setCounts(verb, reply string, c coords.Counts) error {
	for _, a := range []struct {
		axis   mount.Axis
		counts int
	}{{mount.AxisRA, c.RA}, {mount.AxisDec, c.Dec}} {
		cmd, err := FormatPosition(verb, a.axis, a.counts)
		if err != nil {
			return err
		}
		want, _ := FormatPosition(reply, a.axis, a.counts)
		if err := p.echo(cmd, want); err != nil {
			return err
		}
	}
	return nil
}

// Goto sets the target position; the mount starts moving as soon as it is set.
func (p *Protocol) Goto(target mount.EquatorialCoord, lst float64) (mount.PierSide, error) {
	pier := coords.DestPierSide(target.RA, lst)
	c := coords.ToMotor(target, lst, pier)
	p.log.WithFields(logrus.Fields{"ra": c.RA, "dec": c.Dec, "pier": pier}).Debug("goto")
	if err := p.setCounts("ESPt", "ESGt", c); err != nil {
		return mount.PierUnknown, err
	}
	return pier, nil
}

func (p *Protocol) Sync(target mount.EquatorialCoord, lst float64, mode mount.SyncMode) error {
	if mode != mount.SyncRegular {
		return fmt.Errorf("%w: %v sync", mount.ErrNotSupported, mode)
	}
	pier := coords.DestPierSide(target.RA, lst)
	return p.setCounts("ESSp", "ESGp", coords.ToMotor(target, lst, pier))
}

// setMoveRate sets the signed move rate of one axis in arcsec/s.
func (p *Protocol) setMoveRate(axis mount.Axis, rate float64) error {
	mrate := motion.PMCMoveRate(rate)
	if err := p.command(FormatDirection(axis, mrate >= 0), directionLen); err != nil {
		return err
	}
	return p.command(FormatMoveRate(axis, mrate), moveRateLen)
}

// setPreciseRate sets the RA tracking rate in arcsec/s.
func (p *Protocol) setPreciseRate(rate float64) error {
	mrate := motion.PMCPreciseRate(rate)
	if err := p.command(FormatTrackRate(mrate), trackRateLen); err != nil {
		return err
	}
	if err := p.command(FormatDirection(mount.AxisRA, mrate >= 0), directionLen); err != nil {
		return err
	}
	p.track = rate
	return nil
}

// Abort stops both axes.
func (p *Protocol) Abort() error {
	if err := p.setMoveRate(mount.AxisRA, 0); err != nil {
		return err
	}
	return p.setMoveRate(mount.AxisDec, 0)
}

func (p *Protocol) SetTracking(mode mount.TrackMode) error {
	if mode == mount.TrackCustom {
		return p.setPreciseRate(p.custom)
	}
	rate, err := motion.TrackRate(mode)
	if err != nil {
		return err
	}
	return p.setPreciseRate(rate)
}

// SetTrackRate applies a custom RA rate. The controller has no Dec tracking.
func (p *Protocol) SetTrackRate(raRate, decRate float64) error {
	if decRate != 0 {
		p.log.WithField("dec", decRate).Warn("custom Dec tracking is not supported, ignoring")
	}
	if m := motion.PMCPreciseRate(raRate); m == motion.PMCMaxPrecise || m == -motion.PMCMaxPrecise {
		p.log.WithField("ra", raRate).Warn("custom rate clamped")
	}
	p.custom = raRate
	return p.setPreciseRate(raRate)
}

// Park stops tracking once the mount has reached the park position.
func (p *Protocol) Park() error {
	return p.setPreciseRate(0)
}

func (p *Protocol) Jog(dir mount.Direction, rate int) error {
	moving, err := p.IsMoving()
	if err != nil {
		return err
	}
	if moving {
		return fmt.Errorf("%w: cannot jog while slewing", mount.ErrInvalidState)
	}
	speed, err := motion.PMCJogRate(rate)
	if err != nil {
		return err
	}
	if dir == mount.South || dir == mount.East {
		speed = -speed
	}
	return p.setMoveRate(dir.Axis(), speed)
}

func (p *Protocol) StopJog(dir mount.Direction) error {
	return p.setMoveRate(dir.Axis(), 0)
}

// PulseGuide nudges an axis by changing its rate for d. RA pulses modulate the
// tracking rate; Dec pulses use the move rate.
func (p *Protocol) PulseGuide(dir mount.Direction, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative pulse %v", mount.ErrOutOfRange, d)
	}
	g, err := motion.GuideRate(p.guideRate)
	if err != nil {
		return err
	}
	if dir == mount.South || dir == mount.East {
		g = -g
	}
	if dir.Axis() == mount.AxisRA {
		base := p.track
		if err := p.setPreciseRate(base + g); err != nil {
			return err
		}
		p.sleep(d)
		return p.setPreciseRate(base)
	}
	if err := p.setMoveRate(mount.AxisDec, g); err != nil {
		return err
	}
	p.sleep(d)
	return p.setMoveRate(mount.AxisDec, 0)
}

func (p *Protocol) SetGuideRate(index int) error {
	if _, err := motion.GuideRate(index); err != nil {
		return err
	}
	p.guideRate = index
	return nil
}

func (p *Protocol) readRate(axis mount.Axis) (int, error) {
	res, err := p.exchange(fmt.Sprintf("ESGr%d!", axisNumber(axis)), rateLen)
	if err != nil {
		return 0, err
	}
	return ParseRate(res, axis)
}

// IsMoving reports whether either axis moves faster than the slew threshold.
func (p *Protocol) IsMoving() (bool, error) {
	ra, err := p.readRate(mount.AxisRA)
	if err != nil {
		return false, err
	}
	dec, err := p.readRate(mount.AxisDec)
	if err != nil {
		return false, err
	}
	return ra > motion.PMCMinSlew || dec > motion.PMCMinSlew, nil
}

// Direction reports whether axis is running forward.
func (p *Protocol) Direction(axis mount.Axis) (bool, error) {
	res, err := p.exchange(fmt.Sprintf("ESGd%d!", axisNumber(axis)), directionLen)
	if err != nil {
		return false, err
	}
	return ParseDirection(res, axis)
}
