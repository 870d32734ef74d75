package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/mount_interface/mount"
)

// Report codes of the control protocol.
const (
	rprtOK       = 0
	rprtFailed   = -1
	rprtIO       = -6
	rprtRejected = -9
	rprtNotAvail = -11
	rprtInvalid  = -22
)

func reportCode(err error) int {
	switch {
	case err == nil:
		return rprtOK
	case errors.Is(err, mount.ErrOutOfRange):
		return rprtInvalid
	case errors.Is(err, mount.ErrInvalidState), errors.Is(err, mount.ErrInitializationRequired):
		return rprtRejected
	case errors.Is(err, mount.ErrNotSupported):
		return rprtNotAvail
	case errors.Is(err, mount.ErrTransport), errors.Is(err, mount.ErrProtocolMismatch):
		return rprtIO
	}
	return rprtFailed
}

// errArgs reports a command with missing or malformed arguments.
var errArgs = fmt.Errorf("%w: bad arguments", mount.ErrOutOfRange)

func (s *Server) ListenControl(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.log.Info("shutdown; closing control socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					s.log.WithError(err).Warn("failed to accept")
				}
				continue
			}
			go s.handleControl(conn)
		}
	}()
	return ln.Addr(), nil
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, errArgs
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, errArgs
		}
		out[i] = v
	}
	return out, nil
}

func parseDirIndex(args []string) (mount.Direction, int, error) {
	if len(args) != 2 {
		return 0, 0, errArgs
	}
	dir, err := mount.ParseDirection(args[0])
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, errArgs
	}
	return dir, n, nil
}

func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("accepted connection")
	if err := s.serveControl(conn, log.Debugf); err != nil {
		log.WithError(err).Warn("reading control connection")
	}
}

// serveControl runs the line protocol on rw until EOF or a quit command.
func (s *Server) serveControl(rw io.ReadWriter, logf func(string, ...interface{})) error {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(rw, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			args = strings.Fields(cmd[1:])
			cmd = cmd[:1]
		}
		logf("command: %q args: %#v", cmd, args)
		var err error
		switch cmd {
		case "q", "Q", "quit":
			return nil
		case "1", "dump_caps":
			caps := s.d.Status().Capabilities
			fmt.Fprintf(rw, "Model name: %s\nFirmware: %s\nCan Park: Y\nCan Sync: Y\nCan Pulse Guide: %s\nCan get Pier Side: %s\n",
				caps.Family, caps.Firmware, yesNo(caps.PulseGuide), yesNo(caps.PierSide))
		case "p", "get_pos":
			status := s.currentStatus()
			if extended {
				fmt.Fprintf(rw, "RA: %.6f\nDec: %.6f\n", status.Current.RA, status.Current.Dec)
			} else {
				fmt.Fprintf(rw, "%.6f\n%.6f\n", status.Current.RA, status.Current.Dec)
			}
		case "s", "get_state":
			status := s.currentStatus()
			fmt.Fprintf(rw, "%s\n", status.State)
		case "P", "set_pos":
			extended = true // always print RPRT
			var v []float64
			if v, err = parseFloats(args, 2); err == nil {
				err = s.d.Goto(mount.EquatorialCoord{RA: v[0], Dec: v[1]})
			}
		case "S", "stop":
			extended = true
			err = s.d.Abort()
		case "K", "park":
			extended = true
			err = s.d.Park()
		case "U", "unpark":
			extended = true
			err = s.d.UnPark()
		case "T", "set_tracking":
			extended = true
			if len(args) != 1 || (args[0] != "0" && args[0] != "1") {
				err = errArgs
				break
			}
			err = s.d.SetTracking(args[0] == "1")
		case "M", "move":
			extended = true
			var dir mount.Direction
			var rate int
			if dir, rate, err = parseDirIndex(args); err == nil {
				err = s.d.Jog(dir, rate)
			}
		case "m", "stop_move":
			extended = true
			if len(args) != 1 {
				err = errArgs
				break
			}
			var dir mount.Direction
			if dir, err = mount.ParseDirection(args[0]); err == nil {
				err = s.d.StopJog(dir)
			}
		case "G", "guide":
			extended = true
			var dir mount.Direction
			var ms int
			if dir, ms, err = parseDirIndex(args); err == nil {
				err = s.d.PulseGuide(dir, time.Duration(ms)*time.Millisecond)
			}
		default:
			err = fmt.Errorf("%w: unknown command %q", mount.ErrNotSupported, cmd)
		}
		if err != nil {
			logf("command %q failed: %v", cmd, err)
		}
		if rprt := reportCode(err); extended || rprt != rprtOK {
			fmt.Fprintf(rw, "RPRT %d\n", rprt)
		}
	}
	return scanner.Err()
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
