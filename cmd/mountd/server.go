package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/mount_interface/driver"
	"github.com/w1xm/mount_interface/internal/config"
	"github.com/w1xm/mount_interface/mount"
	"github.com/w1xm/mount_interface/transport"
)

type Server struct {
	d           *driver.Driver
	log         logrus.FieldLogger
	optionsFile string

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     mount.Status
}

func NewServer(d *driver.Driver, log logrus.FieldLogger, optionsFile string) *Server {
	s := &Server{d: d, log: log, optionsFile: optionsFile}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	s.status = d.Status()
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// maxPollFailures is the number of consecutive failed polls that end a
// session.
const maxPollFailures = 5

// Run keeps the driver connected to port until ctx is done. Each session
// programs the site and clock and polls the mount every interval; a session
// that fails is torn down and the mount connected again.
func (s *Server) Run(ctx context.Context, port transport.Port, site mount.Site, interval time.Duration) error {
	for {
		if err := s.d.Connect(port); err != nil {
			s.log.WithError(err).Warn("connecting to mount")
		} else {
			err := s.watch(ctx, site, interval)
			if derr := s.d.Disconnect(); derr != nil {
				s.log.WithError(derr).Warn("disconnecting")
			}
			s.statusCallback(s.d.Status())
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("mount session lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// watch runs one session on a connected driver.
func (s *Server) watch(ctx context.Context, site mount.Site, interval time.Duration) error {
	if err := s.d.UpdateLocation(site.Latitude, site.Longitude, site.Elevation); err != nil {
		return fmt.Errorf("setting location: %w", err)
	}
	now := time.Now()
	_, offset := now.Zone()
	if err := s.d.UpdateTime(now.UTC(), float64(offset)/3600); err != nil {
		return fmt.Errorf("setting time: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		// Poll errors are also reported in the status.
		status, err := s.d.ReadStatus()
		s.statusCallback(status)
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures >= maxPollFailures {
			return fmt.Errorf("%d polls failed: %w", failures, err)
		}
	}
}

func (s *Server) currentStatus() mount.Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) statusCallback(status mount.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.currentStatus()); err != nil {
		s.log.WithError(err).Warn("writing status")
	}
}

// Command is a JSON request accepted by the websocket and /api/command.
type Command struct {
	Command   string  `json:"command"`
	RA        float64 `json:"ra"`
	Dec       float64 `json:"dec"`
	Direction string  `json:"direction"`
	Rate      int     `json:"rate"`
	Duration  int     `json:"duration_ms"`
	Enabled   bool    `json:"enabled"`
	Mode      string  `json:"mode"`
	Axis      string  `json:"axis"`
	RARate    float64 `json:"ra_rate"`
	DecRate   float64 `json:"dec_rate"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

type commandResult struct {
	Error string `json:"error,omitempty"`
}

func parseAxis(s string) (mount.Axis, error) {
	switch s {
	case "ra", "RA":
		return mount.AxisRA, nil
	case "dec", "DEC":
		return mount.AxisDec, nil
	}
	return 0, fmt.Errorf("%w: unknown axis %q", mount.ErrOutOfRange, s)
}

// Execute runs one command against the driver.
func (s *Server) Execute(cmd Command) error {
	s.log.WithField("command", cmd.Command).Debug("executing")
	var (
		err  error
		save bool
	)
	switch cmd.Command {
	case "handshake":
		_, err = s.d.Handshake()
	case "goto":
		err = s.d.Goto(mount.EquatorialCoord{RA: cmd.RA, Dec: cmd.Dec})
	case "sync":
		var mode mount.SyncMode
		if mode, err = mount.ParseSyncMode(cmd.Mode); err == nil {
			err = s.d.Sync(mount.EquatorialCoord{RA: cmd.RA, Dec: cmd.Dec}, mode)
			save = true
		}
	case "abort", "stop":
		err = s.d.Abort()
	case "park":
		err = s.d.Park()
	case "unpark":
		err = s.d.UnPark()
	case "set_current_park":
		err = s.d.SetCurrentPark()
		save = true
	case "set_default_park":
		err = s.d.SetDefaultPark()
		save = true
	case "set_tracking":
		err = s.d.SetTracking(cmd.Enabled)
	case "set_track_mode":
		var mode mount.TrackMode
		if mode, err = mount.ParseTrackMode(cmd.Mode); err == nil {
			err = s.d.SetTrackMode(mode)
		}
	case "set_track_rate":
		err = s.d.SetTrackRate(cmd.RARate, cmd.DecRate)
	case "jog":
		var dir mount.Direction
		if dir, err = mount.ParseDirection(cmd.Direction); err == nil {
			err = s.d.Jog(dir, cmd.Rate)
			save = true
		}
	case "stop_jog":
		var dir mount.Direction
		if dir, err = mount.ParseDirection(cmd.Direction); err == nil {
			err = s.d.StopJog(dir)
		}
	case "pulse_guide":
		var dir mount.Direction
		if dir, err = mount.ParseDirection(cmd.Direction); err == nil {
			err = s.d.PulseGuide(dir, time.Duration(cmd.Duration)*time.Millisecond)
		}
	case "set_slew_rate":
		err = s.d.SetSlewRate(cmd.Rate)
		save = true
	case "set_guide_rate":
		err = s.d.SetGuideRate(cmd.Rate)
		save = true
	case "swap_buttons":
		var axis mount.Axis
		if axis, err = parseAxis(cmd.Axis); err == nil {
			err = s.d.SwapButtons(axis)
		}
	case "set_pec":
		err = s.d.SetPEC(cmd.Enabled)
	case "update_location":
		err = s.d.UpdateLocation(cmd.Latitude, cmd.Longitude, cmd.Elevation)
	default:
		err = fmt.Errorf("%w: unknown command %q", mount.ErrNotSupported, cmd.Command)
	}
	if err != nil {
		return err
	}
	if save {
		s.saveOptions()
	}
	return nil
}

func (s *Server) saveOptions() {
	if s.optionsFile == "" {
		return
	}
	st := s.d.Settings()
	opts := config.Options{
		GotoRate:  st.Slew.GotoRate,
		JogRate:   st.Slew.JogRate,
		GuideRate: st.Slew.GuideRate,
		SyncMode:  st.Sync,
		Park:      st.Park,
	}
	if err := config.SaveOptions(s.optionsFile, opts); err != nil {
		s.log.WithError(err).Warn("saving options")
	}
}

func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, mount.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, mount.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, mount.ErrInitializationRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, mount.ErrNotSupported):
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var res commandResult
	err := s.Execute(cmd)
	if err != nil {
		res.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	json.NewEncoder(w).Encode(res)
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			var res commandResult
			if err := s.Execute(msg); err != nil {
				res.Error = err.Error()
			}
			if err := send(res); err != nil {
				return
			}
		}
	}()

	if err := send(s.currentStatus()); err != nil {
		return
	}
	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			s.log.WithError(err).Debug("websocket closed")
			return
		}
	}
}
