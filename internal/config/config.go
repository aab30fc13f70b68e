package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Firmware  string          `yaml:"firmware"`
	BLE       BLEConfig       `yaml:"ble"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Button    ButtonConfig    `yaml:"button"`
	Status    StatusConfig    `yaml:"status"`
	Influx    InfluxConfig    `yaml:"influx"`
	Network   NetworkConfig   `yaml:"network"`
	Log       LogConfig       `yaml:"log"`
}

// BLEConfig holds the connection manager settings.
type BLEConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ScanDuration   time.Duration `yaml:"scan_duration"` // 0 scans until a match
	ScanRetryDelay time.Duration `yaml:"scan_retry_delay"`
	// Scan timing hints. The host stack picks its own radio timing, these are
	// logged at startup only.
	ScanInterval      time.Duration `yaml:"scan_interval"`
	ScanWindow        time.Duration `yaml:"scan_window"`
	ActiveScan        bool          `yaml:"active_scan"`
	Conn              ConnConfig    `yaml:"conn"`
	OverwriteIdentity bool          `yaml:"overwrite_identity"`
	QueueSize         int           `yaml:"queue_size"`
}

// ConnConfig holds the connection parameters requested from the peripheral.
type ConnConfig struct {
	MinInterval        time.Duration `yaml:"min_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	Latency            uint16        `yaml:"latency"`
	SupervisionTimeout time.Duration `yaml:"supervision_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// IndicatorConfig holds the RGB status LED settings.
type IndicatorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRed       uint8         `yaml:"max_red"`
	MaxGreen     uint8         `yaml:"max_green"`
	MaxBlue      uint8         `yaml:"max_blue"`
	TickInterval time.Duration `yaml:"tick_interval"`
	// Pins are periph.io pin names. Leaving all empty logs colours instead.
	Pins         LEDPins `yaml:"pins"`
	PWMFrequency int     `yaml:"pwm_frequency"` // Hz
}

// LEDPins names the GPIO pin of each LED channel.
type LEDPins struct {
	Red   string `yaml:"red"`
	Green string `yaml:"green"`
	Blue  string `yaml:"blue"`
}

// ButtonConfig holds the indicator toggle button settings.
type ButtonConfig struct {
	Pin  string        `yaml:"pin"` // empty disables the button
	Hold time.Duration `yaml:"hold"`
}

// StatusConfig holds the web status server settings.
type StatusConfig struct {
	Listen       string        `yaml:"listen"` // empty disables the server
	MDNS         bool          `yaml:"mdns"`
	MDNSName     string        `yaml:"mdns_name"` // defaults to the host name
	PushInterval time.Duration `yaml:"push_interval"`
}

// InfluxConfig holds the time-series backend settings.
type InfluxConfig struct {
	URL      string        `yaml:"url"` // empty disables posting
	Database string        `yaml:"database"`
	Token    string        `yaml:"token"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds the circuit breaker settings for backend posts.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// NetworkConfig holds the reachability probe settings.
type NetworkConfig struct {
	Target   string        `yaml:"target"` // host:port, empty counts as reachable
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", "file" or "syslog"
	File   string `yaml:"file"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "oximeter-bridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Firmware: "Oximeter",
		BLE: BLEConfig{
			PollInterval:   time.Second,
			TickInterval:   50 * time.Millisecond,
			ScanDuration:   5 * time.Second,
			ScanRetryDelay: time.Second,
			ScanInterval:   1349 * time.Millisecond,
			ScanWindow:     449 * time.Millisecond,
			ActiveScan:     true,
			Conn: ConnConfig{
				MinInterval:        15 * time.Millisecond,
				MaxInterval:        15 * time.Millisecond,
				Latency:            0,
				SupervisionTimeout: 600 * time.Millisecond,
				ConnectTimeout:     5 * time.Second,
			},
			OverwriteIdentity: true,
			QueueSize:         64,
		},
		Indicator: IndicatorConfig{
			Enabled:      true,
			MaxRed:       240,
			MaxGreen:     255,
			MaxBlue:      255,
			TickInterval: 10 * time.Millisecond,
			PWMFrequency: 1000,
		},
		Button: ButtonConfig{
			Hold: 200 * time.Millisecond,
		},
		Status: StatusConfig{
			Listen:       ":8080",
			MDNS:         true,
			PushInterval: time.Second,
		},
		Influx: InfluxConfig{
			Database: "oximeter",
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Network: NetworkConfig{
			Target:   "1.1.1.1:53",
			Interval: 10 * time.Second,
			Timeout:  2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log.file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Log.File = expandTilde(cfg.Log.File)

	return cfg, nil
}

const defaultHeader = `# oximeter-bridge configuration
#
# Durations use Go syntax (500ms, 5s, 1m). Leave influx.url empty to disable
# the time-series backend and status.listen empty to disable the web view.
# LED and button pins take periph.io names such as GPIO17.

`

// WriteDefault writes the default configuration to path, or to
// DefaultConfigPath when path is empty. It returns the written path, or ""
// if a file already exists there.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Firmware == "" {
		return fmt.Errorf("firmware must not be empty")
	}

	if c.BLE.PollInterval <= 0 {
		return fmt.Errorf("ble.poll_interval must be > 0")
	}
	if c.BLE.TickInterval <= 0 {
		return fmt.Errorf("ble.tick_interval must be > 0")
	}
	if c.BLE.TickInterval > c.BLE.PollInterval {
		return fmt.Errorf("ble.tick_interval (%s) must not exceed ble.poll_interval (%s)", c.BLE.TickInterval, c.BLE.PollInterval)
	}
	if c.BLE.ScanDuration < 0 {
		return fmt.Errorf("ble.scan_duration must be >= 0")
	}
	if c.BLE.ScanWindow > c.BLE.ScanInterval {
		return fmt.Errorf("ble.scan_window must not exceed ble.scan_interval")
	}
	if c.BLE.Conn.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.conn.connect_timeout must be > 0")
	}
	if c.BLE.Conn.MinInterval > c.BLE.Conn.MaxInterval {
		return fmt.Errorf("ble.conn.min_interval must not exceed ble.conn.max_interval")
	}
	if c.BLE.QueueSize <= 0 {
		return fmt.Errorf("ble.queue_size must be > 0")
	}

	if c.Indicator.TickInterval <= 0 {
		return fmt.Errorf("indicator.tick_interval must be > 0")
	}
	pins := c.Indicator.Pins
	set := 0
	for _, p := range []string{pins.Red, pins.Green, pins.Blue} {
		if p != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("indicator.pins must name all three channels or none")
	}
	if set == 3 && c.Indicator.PWMFrequency <= 0 {
		return fmt.Errorf("indicator.pwm_frequency must be > 0")
	}

	if c.Button.Pin != "" && c.Button.Hold <= 0 {
		return fmt.Errorf("button.hold must be > 0")
	}

	if c.Status.Listen != "" && c.Status.PushInterval <= 0 {
		return fmt.Errorf("status.push_interval must be > 0")
	}

	if c.Influx.URL != "" {
		if !strings.HasPrefix(c.Influx.URL, "http://") && !strings.HasPrefix(c.Influx.URL, "https://") {
			return fmt.Errorf("influx.url must start with http:// or https://, got %q", c.Influx.URL)
		}
		if c.Influx.Database == "" {
			return fmt.Errorf("influx.database must not be empty")
		}
		if c.Influx.Interval <= 0 {
			return fmt.Errorf("influx.interval must be > 0")
		}
		if c.Influx.Timeout <= 0 {
			return fmt.Errorf("influx.timeout must be > 0")
		}
	}

	if c.Network.Target != "" {
		if c.Network.Interval <= 0 {
			return fmt.Errorf("network.interval must be > 0")
		}
		if c.Network.Timeout <= 0 {
			return fmt.Errorf("network.timeout must be > 0")
		}
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	return nil
}

// Validate checks the logging section on its own. The logger relies on it
// and does not re-check values when opening the output.
func (l LogConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr", "syslog":
	case "file":
		if l.File == "" {
			return fmt.Errorf("log.file must be set when log.output is \"file\"")
		}
	default:
		return fmt.Errorf("log.output must be stdout, stderr, file, or syslog, got %q", l.Output)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
