// Package observability exposes mount driver metrics to Prometheus.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/w1xm/mount_interface/mount"
)

// MountCollector bundles the Prometheus metrics of one mount driver.
type MountCollector struct {
	gatherer prometheus.Gatherer

	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Errors          *prometheus.CounterVec

	State     *prometheus.GaugeVec
	Position  *prometheus.GaugeVec
	Tracking  prometheus.Gauge
	Degraded  prometheus.Gauge
	Connected prometheus.Gauge
}

// NewMountCollector registers the mount metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewMountCollector(reg prometheus.Registerer) (*MountCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_commands_total",
		Help: "Driver operations, labeled by operation and outcome.",
	}, []string{"op", "result"}), "mount_commands_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mount_command_duration_seconds",
		Help:    "Driver operation latency in seconds, including serial round trips.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"op"}), "mount_command_duration_seconds")
	if err != nil {
		return nil, err
	}
	errs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_errors_total",
		Help: "Failed driver operations, labeled by error kind.",
	}, []string{"kind"}), "mount_errors_total")
	if err != nil {
		return nil, err
	}
	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mount_state",
		Help: "1 for the current mount state, 0 for the others.",
	}, []string{"state"}), "mount_state")
	if err != nil {
		return nil, err
	}
	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mount_position",
		Help: "Current pointing: ra in hours, dec/az/alt in degrees.",
	}, []string{"coord"}), "mount_position")
	if err != nil {
		return nil, err
	}
	tracking, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_tracking",
		Help: "1 while the mount is tracking.",
	}), "mount_tracking")
	if err != nil {
		return nil, err
	}
	degraded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_degraded",
		Help: "1 when the last status poll failed.",
	}), "mount_degraded")
	if err != nil {
		return nil, err
	}
	connected, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_connected",
		Help: "1 while a mount session is open.",
	}), "mount_connected")
	if err != nil {
		return nil, err
	}

	return &MountCollector{
		gatherer:        gatherer,
		Commands:        commands,
		CommandDuration: durations,
		Errors:          errs,
		State:           state,
		Position:        position,
		Tracking:        tracking,
		Degraded:        degraded,
		Connected:       connected,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MountCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCommand records one driver operation that started at start.
func (c *MountCollector) ObserveCommand(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		c.Errors.WithLabelValues(ErrorKind(err)).Inc()
	}
	c.Commands.WithLabelValues(op, result).Inc()
	c.CommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveStatus updates the gauges from a status snapshot.
func (c *MountCollector) ObserveStatus(s mount.Status) {
	if c == nil {
		return
	}
	for st := mount.Disconnected; st <= mount.Parked; st++ {
		v := 0.0
		if st == s.State {
			v = 1
		}
		c.State.WithLabelValues(st.String()).Set(v)
	}
	c.Position.WithLabelValues("ra").Set(s.Current.RA)
	c.Position.WithLabelValues("dec").Set(s.Current.Dec)
	if s.Horizontal != nil {
		c.Position.WithLabelValues("az").Set(s.Horizontal.Az)
		c.Position.WithLabelValues("alt").Set(s.Horizontal.Alt)
	}
	c.Tracking.Set(boolValue(s.Tracking))
	c.Degraded.Set(boolValue(s.Degraded))
	c.Connected.Set(boolValue(s.Connected))
}

// ErrorKind names the mount error kind wrapped by err.
func ErrorKind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{mount.ErrTransport, "transport"},
		{mount.ErrProtocolMismatch, "protocol_mismatch"},
		{mount.ErrInvalidState, "invalid_state"},
		{mount.ErrOutOfRange, "out_of_range"},
		{mount.ErrNotSupported, "not_supported"},
		{mount.ErrInitializationRequired, "initialization_required"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
