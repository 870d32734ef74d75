// Command mountd drives an equatorial mount over a serial port and exposes it
// over HTTP, a websocket status stream and a line-oriented control socket.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	apsim "github.com/w1xm/mount_interface/ap/simulator"
	"github.com/w1xm/mount_interface/driver"
	"github.com/w1xm/mount_interface/internal/config"
	"github.com/w1xm/mount_interface/internal/logging"
	"github.com/w1xm/mount_interface/internal/observability"
	"github.com/w1xm/mount_interface/mount"
	pmcsim "github.com/w1xm/mount_interface/pmc/simulator"
	"github.com/w1xm/mount_interface/transport"
	"golang.org/x/sync/errgroup"
)

var (
	serialPort = flag.String("serial", "", "serial port name, or host:port of a serial bridge (overrides MOUNT_SERIAL)")
	family     = flag.String("family", "", "mount family: ap, pmc or auto (overrides MOUNT_FAMILY)")
	simulate   = flag.Bool("simulate", false, "drive a simulated mount")
	staticDir  = flag.String("static_dir", "", "directory containing static files")
)

func main() {
	flag.Parse()
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	if *serialPort != "" {
		cfg.Serial = *serialPort
	}
	if *family != "" {
		if cfg.Family, err = config.ParseFamily(*family); err != nil {
			logrus.Fatal(err)
		}
	}
	if *simulate {
		cfg.Simulate = true
	}
	if cfg.Simulate && cfg.Family == mount.FamilyUnknown {
		cfg.Family = mount.FamilyAP
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	opts, err := config.LoadOptions(cfg.OptionsFile)
	if err != nil {
		log.WithError(err).Warn("using default options")
		opts = config.DefaultOptions
	}
	metrics, err := observability.NewMountCollector(nil)
	if err != nil {
		log.Fatal(err)
	}
	d := driver.New(driver.Options{
		Family:        cfg.Family,
		Slew:          mount.SlewConfig{GotoRate: opts.GotoRate, JogRate: opts.JogRate, GuideRate: opts.GuideRate},
		Sync:          opts.SyncMode,
		Park:          opts.Park,
		SettleSamples: cfg.SettleSamples,
		SettleEpsilon: cfg.SettleEpsilon,
		SettleCounts:  cfg.SettleCounts,
		Timeout:       cfg.Timeout,
		Log:           log,
		Recorder:      metrics,
	})
	s := NewServer(d, log, cfg.OptionsFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	port, err := openPort(ctx, g, cfg, log)
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()
	g.Go(func() error {
		return s.Run(ctx, port, cfg.Site, cfg.PollInterval)
	})

	if _, err := s.ListenControl(ctx, cfg.CtlAddr); err != nil {
		log.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/command", s.CommandHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	r.Handle("/metrics", metrics.Handler())
	if *staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	}
	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("serving HTTP")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

// openPort returns the port to the mount: a simulator running in g, a TCP
// serial bridge, or a serial port opened with retries.
func openPort(ctx context.Context, g *errgroup.Group, cfg *config.Config, log logrus.FieldLogger) (transport.Port, error) {
	if cfg.Simulate {
		var run func(context.Context) error
		var conn transport.Port
		if cfg.Family == mount.FamilyPMC {
			sim, c := pmcsim.New(log)
			run, conn = sim.Run, transport.NewConn(c, log)
		} else {
			sim, c := apsim.New(log)
			run, conn = sim.Run, transport.NewConn(c, log)
		}
		log.Info("driving a simulated mount")
		g.Go(func() error { return run(ctx) })
		return conn, nil
	}
	if isNetAddr(cfg.Serial) {
		return transport.Dial(ctx, cfg.Serial, log)
	}
	for {
		conn, err := transport.OpenSerial(cfg.Serial, cfg.Baud, log)
		if err == nil {
			log.WithField("port", cfg.Serial).Info("opened serial port")
			return conn, nil
		}
		log.WithError(err).WithField("port", cfg.Serial).Warn("opening serial port")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// isNetAddr reports whether name is host:port rather than a device path.
func isNetAddr(name string) bool {
	if strings.HasPrefix(name, "/") {
		return false
	}
	_, port, err := net.SplitHostPort(name)
	return err == nil && port != ""
}
