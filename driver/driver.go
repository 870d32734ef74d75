// Package driver is the mount façade. It owns the session state, picks the
// command layer for the connected family and turns periodic status polls
// into state machine transitions.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/ap"
	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/coords"
	"github.com/w1xm/mount_interface/motion"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/pmc"
	"github.com/w1xm/mount_interface/transport"
)

// preemptDelay is how long the mount is given to stop before a new slew.
const preemptDelay = 100 * time.Millisecond

// Default settle tolerances.
const (
	DefaultSettleEpsilon = 0.5 // arcseconds
	DefaultSettleCounts  = 1
)

// Recorder receives command outcomes and status snapshots.
type Recorder interface {
	ObserveCommand(op string, start time.Time, err error)
	ObserveStatus(s mount.Status)
}

// Options configure a Driver. Zero values select the defaults.
type Options struct {
	// Family forces a mount family; FamilyUnknown probes PMC, then AP.
	Family mount.Family
	Slew   mount.SlewConfig
	Sync   mount.SyncMode
	// Park is the public (north-origin) park position. Nil selects the default
	// for the site once the location is known.
	Park *mount.HorizontalCoord
	// SettleSamples is the number of identical polls that end a slew.
	SettleSamples int
	// SettleEpsilon is the largest movement between polls, in arcseconds,
	// that still counts as stopped on mounts reporting sky coordinates.
	SettleEpsilon float64
	// SettleCounts is the same tolerance in motor counts for mounts
	// reporting raw axis positions.
	SettleCounts int
	Timeout      time.Duration

	Log      logrus.FieldLogger
	Recorder Recorder
	Now      func() time.Time
	Sleep    func(time.Duration)
}

// Settings are the options a host persists across sessions.
type Settings struct {
	Slew mount.SlewConfig
	Sync mount.SyncMode
	Park *mount.HorizontalCoord
}

type Driver struct {
	log      logrus.FieldLogger
	recorder Recorder
	now      func() time.Time
	sleep    func(time.Duration)
	family   mount.Family
	timeout  time.Duration

	mu      sync.Mutex
	port    transport.Port
	proto   mount.Protocol
	caps    mount.Capabilities
	machine mount.Machine
	stasis  mount.Stasis
	// driving is set while the mount's tracking drive runs.
	driving bool

	settleEpsilon float64
	settleCounts  int

	site     mount.Site
	skew     time.Duration
	timeSet  bool
	location bool
	// initialized is set once the mount has been prepared for gotos.
	initialized bool

	current    mount.EquatorialCoord
	target     mount.EquatorialCoord
	horizontal *mount.HorizontalCoord
	pier       mount.PierSide
	moving     bool
	trackMode  mount.TrackMode
	parkStatus mount.ParkStatus
	park       *mount.HorizontalCoord
	slew       mount.SlewConfig
	syncMode   mount.SyncMode
	degraded   bool
	lastErr    string
}

func New(opts Options) *Driver {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Timeout == 0 {
		opts.Timeout = transport.DefaultTimeout
	}
	if opts.SettleSamples < 2 {
		opts.SettleSamples = 2
	}
	if opts.SettleEpsilon <= 0 {
		opts.SettleEpsilon = DefaultSettleEpsilon
	}
	if opts.SettleCounts <= 0 {
		opts.SettleCounts = DefaultSettleCounts
	}
	d := &Driver{
		log:      opts.Log,
		recorder: opts.Recorder,
		now:      opts.Now,
		sleep:    opts.Sleep,
		family:   opts.Family,
		timeout:  opts.Timeout,
		slew:     opts.Slew,
		syncMode: opts.Sync,
		park:     opts.Park,
		stasis:   mount.Stasis{Samples: opts.SettleSamples},

		settleEpsilon: opts.SettleEpsilon,
		settleCounts:  opts.SettleCounts,
	}
	d.machine.OnTransition = func(from, to mount.State, ev mount.Event) {
		d.log.WithFields(logrus.Fields{"from": from, "state": to, "event": ev}).Info("state changed")
	}
	return d
}

func (d *Driver) observe(op string, start time.Time, errp *error) {
	err := *errp
	if d.recorder != nil {
		d.recorder.ObserveCommand(op, start, err)
	}
	if err != nil {
		d.log.WithError(err).WithField("op", op).Warn("command failed")
	}
}

func (d *Driver) newProtocol(f mount.Family) mount.Protocol {
	switch f {
	case mount.FamilyAP:
		p := ap.New(d.port, d.log)
		p.SetTimeout(d.timeout)
		return p
	case mount.FamilyPMC:
		p := pmc.New(d.port, d.log)
		p.SetTimeout(d.timeout)
		p.SetSleep(d.sleep)
		return p
	}
	return nil
}

// lst returns the local sidereal time on the mount's clock.
func (d *Driver) lst() float64 {
	return astro.LocalSiderealTime(d.now().Add(d.skew), d.site.Longitude)
}

// LST returns the local sidereal time in hours.
func (d *Driver) LST() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lst()
}

// Connect attaches the driver to port and identifies the mount on it.
func (d *Driver) Connect(port transport.Port) (err error) {
	defer d.observe("connect", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.machine.State() != mount.Disconnected {
		return fmt.Errorf("%w: already connected", mount.ErrInvalidState)
	}
	d.port = port
	if err := d.handshake(); err != nil {
		d.port, d.proto = nil, nil
		return err
	}
	if err := d.machine.Fire(mount.EventConnect); err != nil {
		return err
	}
	d.parkStatus = mount.ParkUnknown
	d.driving = false
	if ps, ok := d.proto.(mount.ParkStatuser); ok {
		status, err := ps.ParkStatus()
		switch {
		case errors.Is(err, mount.ErrNotSupported):
		case err != nil:
			d.log.WithError(err).Warn("reading park status")
		default:
			d.parkStatus = status
		}
	}
	if d.parkStatus == mount.ParkParked {
		if err := d.machine.Fire(mount.EventRestoreParked); err != nil {
			return err
		}
	}
	return d.proto.SetGuideRate(d.slew.GuideRate)
}

// Handshake identifies the connected mount again and returns its capabilities.
func (d *Driver) Handshake() (caps mount.Capabilities, err error) {
	defer d.observe("handshake", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.machine.State() == mount.Disconnected {
		return mount.Capabilities{}, fmt.Errorf("%w: not connected", mount.ErrInvalidState)
	}
	caps, err = d.proto.Handshake()
	if err != nil {
		return mount.Capabilities{}, err
	}
	d.caps = caps
	return caps, nil
}

func (d *Driver) handshake() error {
	families := []mount.Family{mount.FamilyPMC, mount.FamilyAP}
	if d.family != mount.FamilyUnknown {
		families = []mount.Family{d.family}
	}
	var errs []error
	for _, f := range families {
		p := d.newProtocol(f)
		caps, err := p.Handshake()
		if err != nil {
			d.log.WithError(err).WithField("family", f).Debug("probe failed")
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		d.proto, d.caps = p, caps
		return nil
	}
	return fmt.Errorf("no mount answered: %w", errors.Join(errs...))
}

// Disconnect ends the session. The port stays open and belongs to the caller.
func (d *Driver) Disconnect() (err error) {
	defer d.observe("disconnect", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if err := d.machine.Fire(mount.EventDisconnect); err != nil {
		return err
	}
	d.port, d.proto = nil, nil
	d.caps = mount.Capabilities{}
	d.timeSet, d.location, d.initialized = false, false, false
	d.driving = false
	d.horizontal = nil
	d.degraded, d.lastErr = false, ""
	d.stasis.Reset()
	return nil
}

func (d *Driver) requireConnected() error {
	if d.machine.State() == mount.Disconnected {
		return fmt.Errorf("%w: not connected", mount.ErrInvalidState)
	}
	return nil
}

// UpdateTime sets the mount clock. offset is the UTC offset in hours.
func (d *Driver) UpdateTime(utc time.Time, offset float64) (err error) {
	defer d.observe("update_time", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if c, ok := d.proto.(mount.Clocker); ok {
		if err := c.SetTime(utc, offset); err != nil {
			return err
		}
	}
	d.skew = utc.Sub(d.now())
	d.timeSet = true
	return d.maybeInit()
}

// UpdateLocation sets the site. lon is east-positive.
func (d *Driver) UpdateLocation(lat, lon, elev float64) (err error) {
	defer d.observe("update_location", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", mount.ErrOutOfRange, lat)
	}
	site := mount.Site{Latitude: lat, Longitude: astro.Range360(lon), Elevation: elev}
	if l, ok := d.proto.(mount.Locator); ok {
		if err := l.SetLocation(site); err != nil {
			return err
		}
	}
	d.site = site
	d.location = true
	if d.park == nil {
		d.setDefaultPark()
	}
	return d.maybeInit()
}

// maybeInit prepares the mount once both the clock and the site are known.
func (d *Driver) maybeInit() error {
	if !d.timeSet || !d.location || d.initialized {
		return nil
	}
	in, ok := d.proto.(mount.Initializer)
	if !ok {
		d.initialized = true
		return nil
	}
	need, err := in.NeedsInit()
	if err != nil {
		return err
	}
	if need {
		d.log.Info("initializing mount")
		if err := in.Initialize(); err != nil {
			return err
		}
	}
	d.initialized = true
	if d.machine.State() == mount.Parked {
		return nil
	}
	if err := d.startTracking(); err != nil {
		return err
	}
	if r, ok := d.proto.(mount.JogRater); ok {
		if err := r.SetJogRate(d.slew.JogRate); err != nil {
			return err
		}
	}
	if r, ok := d.proto.(mount.SlewRater); ok {
		if err := r.SetSlewRate(d.slew.GotoRate); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) requireInitialized() error {
	if !d.initialized {
		return fmt.Errorf("%w: set time and location first", mount.ErrInitializationRequired)
	}
	return nil
}

// activeMode is the mode tracking resumes in.
func (d *Driver) activeMode() mount.TrackMode {
	if d.trackMode == mount.TrackOff {
		return mount.TrackSidereal
	}
	return d.trackMode
}

func (d *Driver) startTracking() error {
	if err := d.drive(d.activeMode()); err != nil {
		return err
	}
	return d.machine.Fire(mount.EventTrackOn)
}

// drive sets the tracking drive of the mount without changing state.
func (d *Driver) drive(mode mount.TrackMode) error {
	if err := d.proto.SetTracking(mode); err != nil {
		return err
	}
	d.driving = mode != mount.TrackOff
	return nil
}

// countReader is implemented by protocols that read raw motor counts.
type countReader interface {
	ReadCounts() (coords.Counts, error)
}

// equatorialStasis arms settle detection for a slew. With the drive running
// the sky position holds still once the slew ends. Otherwise the sky drifts
// past a stopped mount, so the axes themselves are compared: motor counts
// where the protocol reports them, else the hour angle.
func (d *Driver) equatorialStasis() {
	d.stasis.Reset()
	_, counts := d.proto.(countReader)
	switch {
	case counts && !d.driving:
		d.stasis.Eps1 = float64(d.settleCounts)
		d.stasis.Eps2 = float64(d.settleCounts)
	case counts:
		// Tracking moves the RA counts, so allow one more count of rounding.
		n := float64(d.settleCounts + 1)
		d.stasis.Eps1 = n * 24 / coords.AxisScale
		d.stasis.Eps2 = n * 360 / coords.AxisScale
	case !d.driving:
		// The hour angle mixes a continuous clock with RA read in whole seconds.
		d.stasis.Eps1 = 1.0/3600 + d.settleEpsilon/(15*3600)
		d.stasis.Eps2 = d.settleEpsilon / 3600
	default:
		d.stasis.Eps1 = d.settleEpsilon / (15 * 3600)
		d.stasis.Eps2 = d.settleEpsilon / 3600
	}
}

// horizontalStasis arms settle detection for a park slew, made with the
// drive off.
func (d *Driver) horizontalStasis() {
	d.stasis.Reset()
	if _, ok := d.proto.(countReader); ok {
		d.stasis.Eps1 = float64(d.settleCounts)
		d.stasis.Eps2 = float64(d.settleCounts)
		return
	}
	d.stasis.Eps1 = d.settleEpsilon / 3600
	d.stasis.Eps2 = d.settleEpsilon / 3600
}

// Goto slews to c, pre-empting any slew in progress.
func (d *Driver) Goto(c mount.EquatorialCoord) (err error) {
	defer d.observe("goto", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.machine.Can(mount.EventGoto) {
		return fmt.Errorf("%w: cannot goto while %s", mount.ErrInvalidState, d.machine.State())
	}
	if !c.Valid() {
		return fmt.Errorf("%w: target %+v", mount.ErrOutOfRange, c)
	}
	if err := d.requireInitialized(); err != nil {
		return err
	}
	if d.machine.State() == mount.Slewing {
		if err := d.proto.Abort(); err != nil {
			return err
		}
		d.sleep(preemptDelay)
	}
	pier, err := d.proto.Goto(c, d.lst())
	if err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"ra": c.RA, "dec": c.Dec, "pier": pier}).Info("slewing")
	d.target = c
	d.equatorialStasis()
	return d.machine.Fire(mount.EventGoto)
}

// Sync tells the mount it is pointing at c.
func (d *Driver) Sync(c mount.EquatorialCoord, mode mount.SyncMode) (err error) {
	defer d.observe("sync", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.machine.State(); st != mount.Idle && st != mount.Tracking {
		return fmt.Errorf("%w: cannot sync while %s", mount.ErrInvalidState, st)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: target %+v", mount.ErrOutOfRange, c)
	}
	if err := d.requireInitialized(); err != nil {
		return err
	}
	if err := d.proto.Sync(c, d.lst(), mode); err != nil {
		return err
	}
	d.syncMode = mode
	d.current, d.target = c, c
	return nil
}

// Abort stops all motion.
func (d *Driver) Abort() (err error) {
	defer d.observe("abort", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if err := d.proto.Abort(); err != nil {
		return err
	}
	d.stasis.Reset()
	return d.machine.Fire(mount.EventAbort)
}

// Park slews to the park position; ReadStatus completes the park once the
// mount has stopped there.
func (d *Driver) Park() (err error) {
	defer d.observe("park", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.machine.Can(mount.EventPark) {
		return fmt.Errorf("%w: cannot park while %s", mount.ErrInvalidState, d.machine.State())
	}
	if !d.location || d.park == nil {
		return fmt.Errorf("%w: location not set", mount.ErrInitializationRequired)
	}
	target := mount.HorizontalCoord{Az: coords.MountAz(d.park.Az), Alt: d.park.Alt}
	d.log.WithFields(logrus.Fields{"az": d.park.Az, "alt": d.park.Alt}).Info("parking")
	if hm, ok := d.proto.(mount.HorizontalMount); ok {
		if err := hm.GotoHorizontal(target); err != nil {
			return err
		}
	} else {
		// Without tracking the slew target stays fixed in Az/Alt.
		if err := d.drive(mount.TrackOff); err != nil {
			return err
		}
		lst := d.lst()
		eq := astro.EquatorialFromHorizontal(target, d.site.Latitude, lst)
		if _, err := d.proto.Goto(eq, lst); err != nil {
			return err
		}
		d.target = eq
	}
	d.horizontalStasis()
	return d.machine.Fire(mount.EventPark)
}

// UnPark resumes tracking from the park position.
func (d *Driver) UnPark() (err error) {
	defer d.observe("unpark", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.machine.Can(mount.EventUnpark) {
		return fmt.Errorf("%w: cannot unpark while %s", mount.ErrInvalidState, d.machine.State())
	}
	if err := d.drive(d.activeMode()); err != nil {
		return err
	}
	d.parkStatus = mount.ParkUnparked
	return d.machine.Fire(mount.EventUnpark)
}

// SetCurrentPark makes the current pointing the park position.
func (d *Driver) SetCurrentPark() (err error) {
	defer d.observe("set_current_park", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if !d.location {
		return fmt.Errorf("%w: location not set", mount.ErrInitializationRequired)
	}
	h, err := d.readHorizontal()
	if err != nil {
		return err
	}
	h.Az = coords.PublicAz(h.Az)
	d.park = &h
	d.log.WithFields(logrus.Fields{"az": h.Az, "alt": h.Alt}).Info("park position set")
	return nil
}

// SetDefaultPark resets the park position to the celestial pole's side of
// the meridian at an altitude equal to the latitude.
func (d *Driver) SetDefaultPark() (err error) {
	defer d.observe("set_default_park", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.location {
		return fmt.Errorf("%w: location not set", mount.ErrInitializationRequired)
	}
	d.setDefaultPark()
	return nil
}

func (d *Driver) setDefaultPark() {
	az := 0.0
	if d.site.Latitude < 0 {
		az = 180
	}
	d.park = &mount.HorizontalCoord{Az: az, Alt: d.site.Latitude}
}

// readHorizontal returns the mount-convention (south-origin) Az/Alt.
func (d *Driver) readHorizontal() (mount.HorizontalCoord, error) {
	if hm, ok := d.proto.(mount.HorizontalMount); ok {
		return hm.ReadHorizontal()
	}
	lst := d.lst()
	c, err := d.proto.ReadPosition(lst)
	if err != nil {
		return mount.HorizontalCoord{}, err
	}
	return astro.HorizontalFromEquatorial(c, d.site.Latitude, lst), nil
}

// SetTracking turns tracking on in the selected mode, or off.
func (d *Driver) SetTracking(on bool) (err error) {
	defer d.observe("set_tracking", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setTracking(on)
}

func (d *Driver) setTracking(on bool) error {
	ev := mount.EventTrackOff
	if on {
		ev = mount.EventTrackOn
	}
	if !d.machine.Can(ev) {
		return fmt.Errorf("%w: cannot change tracking while %s", mount.ErrInvalidState, d.machine.State())
	}
	if !on {
		if err := d.drive(mount.TrackOff); err != nil {
			return err
		}
		return d.machine.Fire(ev)
	}
	return d.startTracking()
}

// SetTrackMode selects the tracking mode, applying it at once if tracking.
func (d *Driver) SetTrackMode(mode mount.TrackMode) (err error) {
	defer d.observe("set_track_mode", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if mode < mount.TrackSidereal || mode > mount.TrackOff {
		return fmt.Errorf("%w: track mode %v", mount.ErrOutOfRange, mode)
	}
	if mode == mount.TrackOff {
		if d.machine.State() == mount.Tracking {
			if err := d.setTracking(false); err != nil {
				return err
			}
		}
		d.trackMode = mode
		return nil
	}
	if d.machine.State() == mount.Tracking {
		if err := d.drive(mode); err != nil {
			return err
		}
	}
	d.trackMode = mode
	return nil
}

// SetTrackRate applies custom rates in arcsec/s while tracking.
func (d *Driver) SetTrackRate(raRate, decRate float64) (err error) {
	defer d.observe("set_track_rate", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.machine.State(); st != mount.Tracking {
		return fmt.Errorf("%w: custom rates need tracking, mount is %s", mount.ErrInvalidState, st)
	}
	if err := d.proto.SetTrackRate(raRate, decRate); err != nil {
		return err
	}
	d.trackMode = mount.TrackCustom
	return nil
}

func (d *Driver) requireStill(op string) error {
	if st := d.machine.State(); st != mount.Idle && st != mount.Tracking {
		return fmt.Errorf("%w: cannot %s while %s", mount.ErrInvalidState, op, st)
	}
	return nil
}

// Jog moves the mount in dir at the jog rate with the given index until StopJog.
func (d *Driver) Jog(dir mount.Direction, rate int) (err error) {
	defer d.observe("jog", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireStill("jog"); err != nil {
		return err
	}
	if err := d.proto.Jog(dir, rate); err != nil {
		return err
	}
	d.slew.JogRate = rate
	return nil
}

func (d *Driver) StopJog(dir mount.Direction) (err error) {
	defer d.observe("stop_jog", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.proto.StopJog(dir)
}

// PulseGuide moves the mount in dir at the guide rate for dur.
func (d *Driver) PulseGuide(dir mount.Direction, dur time.Duration) (err error) {
	defer d.observe("pulse_guide", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireStill("guide"); err != nil {
		return err
	}
	return d.proto.PulseGuide(dir, dur)
}

// SetSlewRate selects the goto speed.
func (d *Driver) SetSlewRate(index int) (err error) {
	defer d.observe("set_slew_rate", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	r, ok := d.proto.(mount.SlewRater)
	if !ok {
		return fmt.Errorf("%w: %s slews at a fixed rate", mount.ErrNotSupported, d.caps.Family)
	}
	if err := r.SetSlewRate(index); err != nil {
		return err
	}
	d.slew.GotoRate = index
	return nil
}

func (d *Driver) SetGuideRate(index int) (err error) {
	defer d.observe("set_guide_rate", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	if _, err := motion.GuideRate(index); err != nil {
		return err
	}
	if err := d.proto.SetGuideRate(index); err != nil {
		return err
	}
	d.slew.GuideRate = index
	return nil
}

// SwapButtons reverses the hand controller buttons for axis.
func (d *Driver) SwapButtons(axis mount.Axis) (err error) {
	defer d.observe("swap_buttons", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	s, ok := d.proto.(mount.ButtonSwapper)
	if !ok {
		return fmt.Errorf("%w: button swapping", mount.ErrNotSupported)
	}
	return s.SwapButtons(axis)
}

// SetPEC turns periodic error correction playback on or off.
func (d *Driver) SetPEC(enabled bool) (err error) {
	defer d.observe("set_pec", time.Now(), &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	p, ok := d.proto.(mount.PECer)
	if !ok {
		return fmt.Errorf("%w: PEC", mount.ErrNotSupported)
	}
	return p.SetPEC(enabled)
}

// Settings returns the options worth persisting.
func (d *Driver) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Settings{Slew: d.slew, Sync: d.syncMode}
	if d.park != nil {
		p := *d.park
		s.Park = &p
	}
	return s
}

// SyncMode returns the sync mode used by the last sync, or the configured one.
func (d *Driver) SyncMode() mount.SyncMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncMode
}

// ReadStatus polls the mount and advances slews and parks that have settled.
// On a failed poll the state is kept and the status is marked degraded.
func (d *Driver) ReadStatus() (status mount.Status, err error) {
	start := time.Now()
	d.mu.Lock()
	defer func() {
		status = d.status()
		d.mu.Unlock()
		if d.recorder != nil {
			d.recorder.ObserveStatus(status)
			d.recorder.ObserveCommand("read_status", start, err)
		}
	}()
	if d.machine.State() == mount.Disconnected {
		return
	}
	if err = d.poll(); err != nil {
		d.degraded, d.lastErr = true, err.Error()
		d.log.WithError(err).Warn("status poll failed")
		return
	}
	d.degraded, d.lastErr = false, ""
	return
}

func (d *Driver) poll() error {
	lst := d.lst()
	var (
		c      mount.EquatorialCoord
		counts *coords.Counts
		err    error
	)
	if cr, ok := d.proto.(countReader); ok {
		m, err := cr.ReadCounts()
		if err != nil {
			return err
		}
		counts = &m
		c = coords.FromMotor(m, lst)
		d.pier = coords.PierFromMotor(m)
	} else {
		if c, err = d.proto.ReadPosition(lst); err != nil {
			return err
		}
		if ps, ok := d.proto.(mount.PierSider); ok {
			if d.pier, err = ps.SideOfPier(); err != nil {
				return err
			}
		} else {
			d.pier = coords.DestPierSide(c.RA, lst)
		}
	}
	d.current = c
	h := astro.HorizontalFromEquatorial(c, d.site.Latitude, lst)
	if ms, ok := d.proto.(mount.MotionSensor); ok {
		if d.moving, err = ms.IsMoving(); err != nil {
			return err
		}
	}

	switch d.machine.State() {
	case mount.Slewing:
		var settled bool
		switch {
		case d.driving:
			settled = d.stasis.Sample(c.RA, c.Dec, 24)
		case counts != nil:
			settled = d.stasis.Sample(float64(counts.RA), float64(counts.Dec), 0)
		default:
			settled = d.stasis.Sample(astro.Range24(lst-c.RA), c.Dec, 24)
		}
		if settled {
			d.log.Info("slew complete")
			if err := d.drive(d.activeMode()); err != nil {
				return err
			}
			if err := d.machine.Fire(mount.EventSettled); err != nil {
				return err
			}
		}
	case mount.Parking:
		if hm, ok := d.proto.(mount.HorizontalMount); ok {
			if h, err = hm.ReadHorizontal(); err != nil {
				return err
			}
		}
		var settled bool
		if counts != nil {
			settled = d.stasis.Sample(float64(counts.RA), float64(counts.Dec), 0)
		} else {
			settled = d.stasis.Sample(h.Az, h.Alt, 360)
		}
		if settled {
			d.log.Info("park position reached")
			if err := d.proto.Park(); err != nil {
				return err
			}
			d.driving = false
			d.parkStatus = mount.ParkParked
			if err := d.machine.Fire(mount.EventParked); err != nil {
				return err
			}
		}
	}
	h.Az = coords.PublicAz(h.Az)
	d.horizontal = &h
	return nil
}

func (d *Driver) status() mount.Status {
	s := mount.Status{
		Connected:    d.machine.State() != mount.Disconnected,
		State:        d.machine.State(),
		Current:      d.current,
		Target:       d.target,
		Pier:         d.pier,
		TrackMode:    d.trackMode,
		Tracking:     d.machine.State() == mount.Tracking,
		Park:         d.parkStatus,
		Moving:       d.moving,
		Degraded:     d.degraded,
		Err:          d.lastErr,
		Capabilities: d.caps,
		Slew:         d.slew,
	}
	if d.horizontal != nil {
		h := *d.horizontal
		s.Horizontal = &h
	}
	if s.Connected && d.location {
		s.LST = d.lst()
	}
	return s
}

// Status returns the last polled status without touching the mount.
func (d *Driver) Status() mount.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status()
}
