// Package ap implements the command layer for AP-family mounts, which speak
// '#'-terminated ASCII with sexagesimal fields.
package ap

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/motion"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/transport"
)

// Protocol drives an AP-family mount over a transport.Port.
type Protocol struct {
	port    transport.Port
	log     logrus.FieldLogger
	timeout time.Duration

	caps mount.Capabilities

	guideRate int
	// motionCommanded is set by any motion that resets the guide rate on GTOCP2.
	motionCommanded bool
	raRate, decRate float64
}

var (
	_ mount.Protocol        = (*Protocol)(nil)
	_ mount.Initializer     = (*Protocol)(nil)
	_ mount.HorizontalMount = (*Protocol)(nil)
	_ mount.PierSider       = (*Protocol)(nil)
	_ mount.ParkStatuser    = (*Protocol)(nil)
	_ mount.SlewRater       = (*Protocol)(nil)
	_ mount.JogRater        = (*Protocol)(nil)
	_ mount.ButtonSwapper   = (*Protocol)(nil)
	_ mount.Locator         = (*Protocol)(nil)
	_ mount.Clocker         = (*Protocol)(nil)
	_ mount.PECer           = (*Protocol)(nil)
)

func New(port transport.Port, log logrus.FieldLogger) *Protocol {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Protocol{
		port:      port,
		log:       log.WithField("family", "AP"),
		timeout:   transport.DefaultTimeout,
		guideRate: 1,
		raRate:    mount.Sidereal,
	}
}

// SetTimeout changes the per-read timeout.
func (p *Protocol) SetTimeout(d time.Duration) {
	p.timeout = d
}

func (p *Protocol) Family() mount.Family {
	return mount.FamilyAP
}

// send discards stale input and writes cmd.
func (p *Protocol) send(cmd string) error {
	if err := p.port.Flush(); err != nil {
		return err
	}
	_, err := p.port.Write([]byte(cmd))
	return err
}

// query sends cmd and returns the '#'-terminated response.
func (p *Protocol) query(cmd string) (string, error) {
	if err := p.send(cmd); err != nil {
		return "", err
	}
	res, err := p.port.ReadUntil('#', p.timeout)
	if err != nil {
		return "", fmt.Errorf("%w: no response to %q: %v", mount.ErrProtocolMismatch, cmd, err)
	}
	return string(res), nil
}

// ack sends cmd and checks the single byte reply.
func (p *Protocol) ack(cmd string, want byte) error {
	if err := p.send(cmd); err != nil {
		return err
	}
	res, err := p.port.ReadExact(1, p.timeout)
	if err != nil {
		return fmt.Errorf("%w: no response to %q: %v", mount.ErrProtocolMismatch, cmd, err)
	}
	if res[0] != want {
		return fmt.Errorf("%w: %q answered %q, want %q", mount.ErrProtocolMismatch, cmd, res, want)
	}
	return nil
}

func (p *Protocol) Handshake() (mount.Capabilities, error) {
	if err := p.send("#"); err != nil {
		return mount.Capabilities{}, err
	}
	// Fresh connections only accept backlash compensation on the second try.
	if err := p.ack(":Br 00:00:00#", '1'); err != nil {
		p.log.WithError(err).Debug("retrying backlash compensation")
		if err := p.ack(":Br 00:00:00#", '1'); err != nil {
			return mount.Capabilities{}, err
		}
	}
	v, err := p.query(":V#")
	if err != nil {
		return mount.Capabilities{}, err
	}
	caps, err := ParseVersion(v)
	if err != nil {
		return mount.Capabilities{}, err
	}
	p.log.WithFields(logrus.Fields{
		"firmware": v,
		"servo":    caps.Servo,
	}).Info("identified mount")
	if err := p.checkFormat(); err != nil {
		return mount.Capabilities{}, err
	}
	p.caps = caps
	return caps, nil
}

// checkFormat switches the mount to long coordinate format if needed.
func (p *Protocol) checkFormat() error {
	ra, err := p.query(":GR#")
	if err != nil {
		return err
	}
	if isLongRA(ra) {
		return nil
	}
	p.log.WithField("res", ra).Info("switching to long format")
	if err := p.send(":U#"); err != nil {
		return err
	}
	if ra, err = p.query(":GR#"); err != nil {
		return err
	}
	if !isLongRA(ra) {
		return fmt.Errorf("%w: mount stayed in short format (%q)", mount.ErrProtocolMismatch, ra)
	}
	return nil
}

func (p *Protocol) readSexagesimal(cmd string) (float64, error) {
	res, err := p.query(cmd)
	if err != nil {
		return 0, err
	}
	return ParseSexagesimal(res)
}

func (p *Protocol) ReadPosition(lst float64) (mount.EquatorialCoord, error) {
	ra, err := p.readSexagesimal(":GR#")
	if err != nil {
		return mount.EquatorialCoord{}, err
	}
	dec, err := p.readSexagesimal(":GD#")
	if err != nil {
		return mount.EquatorialCoord{}, err
	}
	return mount.EquatorialCoord{RA: ra, Dec: dec}, nil
}

func (p *Protocol) ReadHorizontal() (mount.HorizontalCoord, error) {
	az, err := p.readSexagesimal(":GZ#")
	if err != nil {
		return mount.HorizontalCoord{}, err
	}
	alt, err := p.readSexagesimal(":GA#")
	if err != nil {
		return mount.HorizontalCoord{}, err
	}
	return mount.HorizontalCoord{Az: az, Alt: alt}, nil
}

func (p *Protocol) setObject(c mount.EquatorialCoord) error {
	if err := p.ack(":Sr "+FormatRA(c.RA)+"#", '1'); err != nil {
		return err
	}
	return p.ack(":Sd "+FormatDec(c.Dec)+"#", '1')
}

// slew issues :MS#, which answers '0' when the slew has started.
func (p *Protocol) slew() error {
	if err := p.ack(":MS#", '0'); err != nil {
		return err
	}
	p.motionCommanded = true
	return nil
}

func (p *Protocol) Goto(target mount.EquatorialCoord, lst float64) (mount.PierSide, error) {
	if err := p.setObject(target); err != nil {
		return mount.PierUnknown, err
	}
	if err := p.slew(); err != nil {
		return mount.PierUnknown, err
	}
	return coords.DestPierSide(target.RA, lst), nil
}

// GotoHorizontal slews to a south-origin Az and Alt.
func (p *Protocol) GotoHorizontal(target mount.HorizontalCoord) error {
	if err := p.ack(":Sz "+FormatAz(target.Az)+"#", '1'); err != nil {
		return err
	}
	if err := p.ack(":Sa "+FormatDec(target.Alt)+"#", '1'); err != nil {
		return err
	}
	return p.slew()
}

func (p *Protocol) Sync(target mount.EquatorialCoord, lst float64, mode mount.SyncMode) error {
	if err := p.setObject(target); err != nil {
		return err
	}
	cmd := ":CM#"
	if mode == mount.SyncCMR {
		cmd = ":CMR#"
	}
	name, err := p.query(cmd)
	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"mode": mode, "res": strings.TrimSpace(name)}).Debug("synced")
	return nil
}

func (p *Protocol) Abort() error {
	return p.send(":Q#")
}

func (p *Protocol) SetTracking(mode mount.TrackMode) error {
	switch mode {
	case mount.TrackSidereal:
		return p.send(":RT0#")
	case mount.TrackLunar:
		return p.send(":RT1#")
	case mount.TrackSolar:
		return p.send(":RT2#")
	case mount.TrackOff:
		return p.send(":RT9#")
	case mount.TrackCustom:
		if err := p.send(":RT0#"); err != nil {
			return err
		}
		return p.SetTrackRate(p.raRate, p.decRate)
	}
	return fmt.Errorf("%w: track mode %v", mount.ErrOutOfRange, mode)
}

func (p *Protocol) SetTrackRate(raRate, decRate float64) error {
	ra, dec := motion.APRAMultiplier(raRate), motion.APDecMultiplier(decRate)
	if math.Abs(ra) == motion.APMaxMultiplier || math.Abs(dec) == motion.APMaxMultiplier {
		p.log.WithFields(logrus.Fields{"ra": raRate, "dec": decRate}).Warn("custom rate clamped")
	}
	p.raRate, p.decRate = raRate, decRate
	if err := p.send(":RR" + formatMultiplier(ra) + "#"); err != nil {
		return err
	}
	return p.send(":RD" + formatMultiplier(dec) + "#")
}

// Park parks the mount where it stands and stops tracking.
func (p *Protocol) Park() error {
	if err := p.send(":KA#"); err != nil {
		return err
	}
	return p.send(":RT9#")
}

func (p *Protocol) SetJogRate(index int) error {
	if index < 0 || index >= len(motion.APJogRates) {
		return fmt.Errorf("%w: jog rate index %d", mount.ErrOutOfRange, index)
	}
	return p.send(fmt.Sprintf(":RC%d#", index))
}

func (p *Protocol) Jog(dir mount.Direction, rate int) error {
	if err := p.SetJogRate(rate); err != nil {
		return err
	}
	if err := p.send(fmt.Sprintf(":M%c#", directionLetter(dir))); err != nil {
		return err
	}
	p.motionCommanded = true
	return nil
}

func (p *Protocol) StopJog(dir mount.Direction) error {
	return p.send(fmt.Sprintf(":Q%c#", directionLetter(dir)))
}

func (p *Protocol) PulseGuide(dir mount.Direction, d time.Duration) error {
	ms, err := pulseMillis(d)
	if err != nil {
		return err
	}
	// Firmware E forgets the guide rate after any other motion.
	if p.caps.Generation == 'E' && p.motionCommanded {
		if err := p.SetGuideRate(p.guideRate); err != nil {
			return err
		}
		p.motionCommanded = false
	}
	return p.send(fmt.Sprintf(":M%c%03d#", directionLetter(dir), ms))
}

func (p *Protocol) SetGuideRate(index int) error {
	if index < 0 || index >= len(motion.GuideRates) {
		return fmt.Errorf("%w: guide rate index %d", mount.ErrOutOfRange, index)
	}
	if err := p.send(fmt.Sprintf(":RG%d#", index)); err != nil {
		return err
	}
	p.guideRate = index
	return nil
}

func (p *Protocol) SetSlewRate(index int) error {
	if index < 0 || index >= len(motion.APGotoRates) {
		return fmt.Errorf("%w: slew rate index %d", mount.ErrOutOfRange, index)
	}
	return p.send(fmt.Sprintf(":RS%d#", index))
}

func (p *Protocol) SwapButtons(axis mount.Axis) error {
	if axis == mount.AxisRA {
		return p.send(":EW#")
	}
	return p.send(":NS#")
}

func (p *Protocol) SideOfPier() (mount.PierSide, error) {
	res, err := p.query(":pS#")
	if err != nil {
		return mount.PierUnknown, err
	}
	switch res {
	case "East":
		return mount.PierEast, nil
	case "West":
		return mount.PierWest, nil
	}
	return mount.PierUnknown, fmt.Errorf("%w: pier side %q", mount.ErrProtocolMismatch, res)
}

func (p *Protocol) ParkStatus() (mount.ParkStatus, error) {
	if !p.caps.ParkStatus {
		return mount.ParkUnknown, fmt.Errorf("%w: park status needs firmware T or later", mount.ErrNotSupported)
	}
	res, err := p.query(":GOS#")
	if err != nil {
		return mount.ParkUnknown, err
	}
	if strings.HasPrefix(res, "P") {
		return mount.ParkParked, nil
	}
	return mount.ParkUnparked, nil
}

func (p *Protocol) SetLocation(site mount.Site) error {
	if err := p.ack(":Sg "+FormatLongitude(site.Longitude)+"#", '1'); err != nil {
		return err
	}
	return p.ack(":St "+FormatDec(site.Latitude)+"#", '1')
}

func (p *Protocol) SetTime(utc time.Time, offset float64) error {
	local := astro.ZoneDate(utc, int(math.Round(offset*3600)))
	if err := p.ack(":SL "+formatClock(local)+"#", '1'); err != nil {
		return err
	}
	// The date is acknowledged with a padded text line.
	if _, err := p.query(":SC " + formatDate(local) + "#"); err != nil {
		return err
	}
	return p.ack(":SG "+formatOffset(offset)+"#", '1')
}

func (p *Protocol) SetPEC(enabled bool) error {
	if enabled {
		return p.send(":P#")
	}
	return p.send(":p#")
}

// NeedsInit reports whether the mount has just been powered up: it then
// reads RA 0 with Dec 0 or 90.
func (p *Protocol) NeedsInit() (bool, error) {
	c, err := p.ReadPosition(0)
	if err != nil {
		return false, err
	}
	const eps = 1e-5
	raZero := math.Abs(c.RA) < eps
	return raZero && (math.Abs(c.Dec) < eps || math.Abs(c.Dec-90) < eps), nil
}

// Initialize unparks a freshly powered mount. It must only be used once per session.
func (p *Protocol) Initialize() error {
	if err := p.send(":PO#"); err != nil {
		return err
	}
	return p.send(":Q#")
}
