// Package config loads host settings from the environment (or a .env file)
// and persists the driver options between sessions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/w1xm/mount_interface/astro"
	"github.com/w1xm/mount_interface/mount"
)

// Config holds the settings of the host binaries.
type Config struct {
	Serial   string
	Baud     int
	Family   mount.Family
	Simulate bool
	Timeout  time.Duration

	Site mount.Site

	HTTPAddr      string
	CtlAddr       string
	PollInterval  time.Duration
	SettleSamples int
	// SettleEpsilon is in arcseconds, SettleCounts in motor counts.
	SettleEpsilon float64
	SettleCounts  int

	LogLevel  string
	LogFormat string

	OptionsFile string

	Influx InfluxConfig
}

// InfluxConfig is used by the status logger.
type InfluxConfig struct {
	Server string
	Token  string
	Org    string
	Bucket string
	// StatusURL is the daemon's websocket status endpoint.
	StatusURL string
}

// Load reads the configuration from a .env file, if present, and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	family, err := ParseFamily(getEnv("MOUNT_FAMILY", "auto"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Serial:   getEnv("MOUNT_SERIAL", "/dev/ttyUSB0"),
		Baud:     getEnvAsInt("MOUNT_BAUD", 9600),
		Family:   family,
		Simulate: getEnvAsBool("MOUNT_SIMULATE", false),
		Timeout:  getEnvAsDuration("MOUNT_TIMEOUT", 5*time.Second),
		Site: mount.Site{
			Latitude:  getEnvAsFloat("SITE_LAT", 42.36),
			Longitude: astro.Range360(getEnvAsFloat("SITE_LON", 288.91)),
			Elevation: getEnvAsFloat("SITE_ELEV", 0),
		},
		HTTPAddr:      getEnv("HTTP_ADDR", ":8502"),
		CtlAddr:       getEnv("CTL_ADDR", ":4533"),
		PollInterval:  getEnvAsDuration("POLL_INTERVAL", time.Second),
		SettleSamples: getEnvAsInt("SETTLE_SAMPLES", 2),
		SettleEpsilon: getEnvAsFloat("SETTLE_EPSILON", 0.5),
		SettleCounts:  getEnvAsInt("SETTLE_COUNTS", 1),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		OptionsFile:   getEnv("OPTIONS_FILE", "mount_options.env"),
		Influx: InfluxConfig{
			Server:    getEnv("INFLUX_SERVER", "http://localhost:8086"),
			Token:     getEnv("INFLUX_TOKEN", ""),
			Org:       getEnv("INFLUX_ORG", ""),
			Bucket:    getEnv("INFLUX_BUCKET", "mount"),
			StatusURL: getEnv("STATUS_URL", "ws://localhost:8502/api/ws"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the ranges of the loaded values.
func (c *Config) Validate() error {
	if c.Site.Latitude < -90 || c.Site.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", mount.ErrOutOfRange, c.Site.Latitude)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("%w: baud rate %d", mount.ErrOutOfRange, c.Baud)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval %v", mount.ErrOutOfRange, c.PollInterval)
	}
	if c.SettleSamples < 2 {
		return fmt.Errorf("%w: settle samples %d, need at least 2", mount.ErrOutOfRange, c.SettleSamples)
	}
	if c.SettleEpsilon <= 0 || c.SettleCounts <= 0 {
		return fmt.Errorf("%w: settle tolerance %v arcsec, %d counts", mount.ErrOutOfRange, c.SettleEpsilon, c.SettleCounts)
	}
	return nil
}

// ParseFamily accepts "ap", "pmc" or "auto" (FamilyUnknown).
func ParseFamily(s string) (mount.Family, error) {
	switch strings.ToLower(s) {
	case "ap":
		return mount.FamilyAP, nil
	case "pmc":
		return mount.FamilyPMC, nil
	case "auto", "":
		return mount.FamilyUnknown, nil
	}
	return mount.FamilyUnknown, fmt.Errorf("%w: unknown mount family %q", mount.ErrOutOfRange, s)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(name string, defaultValue int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	valueStr := getEnv(name, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	val, _ := strconv.ParseBool(value)
	return val
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// Options are the driver settings saved across sessions.
type Options struct {
	GotoRate  int
	JogRate   int
	GuideRate int
	SyncMode  mount.SyncMode
	// Park is nil until a park position has been saved.
	Park *mount.HorizontalCoord
}

// DefaultOptions are used when nothing has been saved yet.
var DefaultOptions = Options{
	GotoRate:  0,
	JogRate:   1,
	GuideRate: 1,
}

// LoadOptions reads saved options. A missing file yields DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("reading options %s: %w", path, err)
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"GOTO_RATE", &opts.GotoRate},
		{"JOG_RATE", &opts.JogRate},
		{"GUIDE_RATE", &opts.GuideRate},
	} {
		v, ok := env[f.key]
		if !ok {
			continue
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("option %s: %w", f.key, err)
		}
	}
	if v, ok := env["SYNC_MODE"]; ok {
		if opts.SyncMode, err = mount.ParseSyncMode(v); err != nil {
			return opts, err
		}
	}
	az, azOK := env["PARK_AZ"]
	alt, altOK := env["PARK_ALT"]
	if azOK && altOK {
		var park mount.HorizontalCoord
		if park.Az, err = strconv.ParseFloat(az, 64); err != nil {
			return opts, fmt.Errorf("option PARK_AZ: %w", err)
		}
		if park.Alt, err = strconv.ParseFloat(alt, 64); err != nil {
			return opts, fmt.Errorf("option PARK_ALT: %w", err)
		}
		opts.Park = &park
	}
	return opts, nil
}

// SaveOptions writes opts to path.
func SaveOptions(path string, opts Options) error {
	env := map[string]string{
		"GOTO_RATE":  strconv.Itoa(opts.GotoRate),
		"JOG_RATE":   strconv.Itoa(opts.JogRate),
		"GUIDE_RATE": strconv.Itoa(opts.GuideRate),
		"SYNC_MODE":  opts.SyncMode.String(),
	}
	if opts.Park != nil {
		env["PARK_AZ"] = strconv.FormatFloat(opts.Park.Az, 'f', -1, 64)
		env["PARK_ALT"] = strconv.FormatFloat(opts.Park.Alt, 'f', -1, 64)
	}
	return godotenv.Write(env, path)
}
