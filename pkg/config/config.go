// Package config loads doorctl configuration.
//
// Settings come from a YAML file, then DOORCTL_* environment variables,
// then command-line flags applied by the caller. The device key is never
// read from the YAML file itself: it comes from DOORCTL_DEVICE_KEY or from
// the file named by intweb.device_key_file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hive13/doorctl/pkg/checksum"
	"github.com/hive13/doorctl/pkg/controller"
	"github.com/hive13/doorctl/pkg/door"
	"github.com/hive13/doorctl/pkg/persistence"
	"github.com/hive13/doorctl/pkg/protocol"
	"github.com/hive13/doorctl/pkg/reader"
	"github.com/hive13/doorctl/pkg/retry"
)

// Environment variables.
const (
	EnvDeviceKey     = "DOORCTL_DEVICE_KEY"
	EnvDeviceKeyFile = "DOORCTL_DEVICE_KEY_FILE"
	EnvURL           = "DOORCTL_URL"
	EnvDevice        = "DOORCTL_DEVICE"
	EnvItem          = "DOORCTL_ITEM"
	EnvListen        = "DOORCTL_LISTEN"
)

// Config errors.
var (
	ErrInlineKey = errors.New("config: intweb.device_key must not be set in the config file; use " +
		EnvDeviceKey + " or intweb.device_key_file")
	ErrNoKey = errors.New("config: no device key; set " + EnvDeviceKey + " or intweb.device_key_file")
)

// Secret is key material. It never prints, logs or marshals its value.
type Secret []byte

const redacted = "[REDACTED]"

// String implements fmt.Stringer.
func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	return redacted
}

// GoString keeps %#v from dumping the key.
func (s Secret) GoString() string {
	return s.String()
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// MarshalYAML writes the placeholder instead of the key.
func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Config is the complete doorctl configuration.
type Config struct {
	Intweb     IntwebConfig     `yaml:"intweb"`
	Reader     ReaderConfig     `yaml:"reader"`
	Door       DoorConfig       `yaml:"door"`
	Controller ControllerConfig `yaml:"controller"`
	HTTP       HTTPConfig       `yaml:"http"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Log        LogConfig        `yaml:"log"`
	State      StateConfig      `yaml:"state"`
}

// IntwebConfig describes the access server and this device.
type IntwebConfig struct {
	// URL of the access endpoint, including /api/access.
	URL string `yaml:"url"`

	// Device is the intweb device name.
	Device string `yaml:"device"`

	// Item is the access item asked for.
	Item string `yaml:"item"`

	// InlineKey is only present to reject keys written into the file.
	InlineKey string `yaml:"device_key,omitempty"`

	// KeyFile names a file holding the device key.
	KeyFile string `yaml:"device_key_file,omitempty"`

	// Key is the resolved device key.
	Key Secret `yaml:"-"`

	// Timeout bounds one HTTP exchange.
	Timeout time.Duration `yaml:"timeout"`

	// Checksum selects the checksum engine (see checksum.ByName).
	Checksum string `yaml:"checksum,omitempty"`

	// Retry bounds retries of transport failures.
	Retry retry.Policy `yaml:"retry"`
}

// ReaderConfig describes the badge reader.
type ReaderConfig struct {
	// Command runs the reader helper. Empty reads from stdin.
	Command string `yaml:"command,omitempty"`

	// Args are passed to Command.
	Args []string `yaml:"args,omitempty"`

	// Format of reader lines: "csv" or "wiegand".
	Format string `yaml:"format,omitempty"`
}

// DoorConfig describes the strike.
type DoorConfig struct {
	// Pin is the GPIO value file driving the strike. Empty is a dry run.
	Pin string `yaml:"pin,omitempty"`

	// HoldTime is how long the strike stays released.
	HoldTime time.Duration `yaml:"hold_time"`
}

// ControllerConfig sizes the event loop.
type ControllerConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// RequestTimeout bounds an HTTP or console request from queueing to
	// outcome. Zero derives it from the intweb retry budget.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// HTTPConfig configures the open-door endpoint.
type HTTPConfig struct {
	// Listen is the listen address. Empty disables the endpoint.
	Listen string `yaml:"listen,omitempty"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DiscoveryConfig configures mDNS advertisement of the HTTP endpoint.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Protocol is a .dlog capture file. Empty disables capture.
	Protocol string `yaml:"protocol,omitempty"`
}

// StateConfig configures the persisted attempt history.
type StateConfig struct {
	// Path of the state file. Empty disables persistence.
	Path string `yaml:"path,omitempty"`

	// Recent is how many attempt records are kept.
	Recent int `yaml:"recent"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Intweb: IntwebConfig{
			Item:    protocol.DefaultItem,
			Timeout: protocol.DefaultTimeout,
			Retry:   retry.DefaultPolicy(),
		},
		Reader: ReaderConfig{
			Format: string(reader.FormatCSV),
		},
		Door: DoorConfig{
			HoldTime: door.DefaultHoldTime,
		},
		Controller: ControllerConfig{
			Workers:      controller.DefaultWorkers,
			QueueSize:    controller.DefaultQueueSize,
			QueueTimeout: controller.DefaultQueueTimeout,
		},
		HTTP: HTTPConfig{
			ReadTimeout:  20 * time.Second,
			WriteTimeout: 20 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		State: StateConfig{
			Recent: persistence.DefaultMaxRecent,
		},
	}
}

// Load returns the defaults overlaid with the file at path (if path is
// not empty) and the environment. The device key is resolved but the
// result is not validated; call Validate after applying flags.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if cfg.Intweb.InlineKey != "" {
			return cfg, ErrInlineKey
		}
	}

	applyEnv(&cfg)
	if err := cfg.ResolveKey(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvURL); v != "" {
		cfg.Intweb.URL = v
	}
	if v := os.Getenv(EnvDevice); v != "" {
		cfg.Intweb.Device = v
	}
	if v := os.Getenv(EnvItem); v != "" {
		cfg.Intweb.Item = v
	}
	if v := os.Getenv(EnvDeviceKeyFile); v != "" {
		cfg.Intweb.KeyFile = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.HTTP.Listen = v
	}
}

// ResolveKey loads the device key from the environment or the key file.
// The environment wins. Surrounding whitespace in a key file is ignored.
func (c *Config) ResolveKey() error {
	if v := os.Getenv(EnvDeviceKey); v != "" {
		c.Intweb.Key = Secret(v)
		return nil
	}
	if c.Intweb.KeyFile == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Clean(c.Intweb.KeyFile))
	if err != nil {
		return fmt.Errorf("config: read device key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return fmt.Errorf("config: device key file %s is empty", c.Intweb.KeyFile)
	}
	c.Intweb.Key = Secret(key)
	return nil
}

// Validate checks that the configuration can run.
func (c Config) Validate() error {
	var errs []error
	if c.Intweb.URL == "" {
		errs = append(errs, errors.New("intweb.url must be set (or "+EnvURL+")"))
	}
	if c.Intweb.Device == "" {
		errs = append(errs, errors.New("intweb.device must be set (or "+EnvDevice+")"))
	}
	if c.Intweb.Item == "" {
		errs = append(errs, errors.New("intweb.item must not be empty"))
	}
	if len(c.Intweb.Key) == 0 {
		errs = append(errs, ErrNoKey)
	}
	if c.Intweb.InlineKey != "" {
		errs = append(errs, ErrInlineKey)
	}
	if c.Intweb.Timeout <= 0 {
		errs = append(errs, errors.New("intweb.timeout must be positive"))
	}
	if c.Intweb.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("intweb.retry.max_attempts must be at least 1"))
	}
	if _, err := checksum.ByName(c.Intweb.Checksum); err != nil {
		errs = append(errs, fmt.Errorf("intweb.checksum: %w", err))
	}
	if _, err := reader.ParseFormat(c.Reader.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Door.HoldTime <= 0 {
		errs = append(errs, errors.New("door.hold_time must be positive"))
	}
	if c.Controller.Workers < 1 {
		errs = append(errs, errors.New("controller.workers must be at least 1"))
	}
	if c.Controller.RequestTimeout < 0 {
		errs = append(errs, errors.New("controller.request_timeout must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Discovery.Enabled && c.HTTP.Listen == "" {
		errs = append(errs, errors.New("discovery.enabled requires http.listen"))
	}
	return errors.Join(errs...)
}

// writeMargin is the time left to write an /open_door reply after the
// request timeout.
const writeMargin = 5 * time.Second

// RequestTimeout returns controller.request_timeout, or the longest all
// intweb tries and their backoff can take.
func (c Config) RequestTimeout() time.Duration {
	if c.Controller.RequestTimeout > 0 {
		return c.Controller.RequestTimeout
	}
	return c.Intweb.Retry.Budget(c.Intweb.Timeout)
}

// HTTPWriteTimeout returns http.write_timeout, raised so that a request
// that runs into RequestTimeout still gets its reply written.
func (c Config) HTTPWriteTimeout() time.Duration {
	floor := c.RequestTimeout() + writeMargin
	if c.HTTP.WriteTimeout < floor {
		return floor
	}
	return c.HTTP.WriteTimeout
}

// Identity returns the device identity.
func (c Config) Identity() (protocol.DeviceIdentity, error) {
	return protocol.NewDeviceIdentity(c.Intweb.Device, c.Intweb.Key)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", s)
	}
	return l, nil
}
