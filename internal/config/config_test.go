package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Firmware != "Oximeter" {
		t.Errorf("Firmware = %q, want %q", cfg.Firmware, "Oximeter")
	}
	if cfg.BLE.PollInterval != time.Second {
		t.Errorf("BLE.PollInterval = %v, want 1s", cfg.BLE.PollInterval)
	}
	if cfg.BLE.Conn.SupervisionTimeout != 600*time.Millisecond {
		t.Errorf("BLE.Conn.SupervisionTimeout = %v, want 600ms", cfg.BLE.Conn.SupervisionTimeout)
	}
	if cfg.BLE.Conn.MinInterval != 15*time.Millisecond || cfg.BLE.Conn.MaxInterval != 15*time.Millisecond {
		t.Errorf("BLE.Conn interval = %v..%v, want 15ms", cfg.BLE.Conn.MinInterval, cfg.BLE.Conn.MaxInterval)
	}
	if !cfg.BLE.OverwriteIdentity {
		t.Error("BLE.OverwriteIdentity should default to true")
	}
	if cfg.Indicator.MaxRed != 240 || cfg.Indicator.MaxGreen != 255 || cfg.Indicator.MaxBlue != 255 {
		t.Errorf("Indicator maxima = %d/%d/%d, want 240/255/255",
			cfg.Indicator.MaxRed, cfg.Indicator.MaxGreen, cfg.Indicator.MaxBlue)
	}
	if cfg.Indicator.TickInterval != 10*time.Millisecond {
		t.Errorf("Indicator.TickInterval = %v, want 10ms", cfg.Indicator.TickInterval)
	}
	if cfg.Button.Hold != 200*time.Millisecond {
		t.Errorf("Button.Hold = %v, want 200ms", cfg.Button.Hold)
	}
	if cfg.Influx.URL != "" {
		t.Errorf("Influx.URL = %q, want empty", cfg.Influx.URL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
firmware: Ward-3
ble:
  poll_interval: 2s
  scan_duration: 0s
  overwrite_identity: false
  conn:
    connect_timeout: 8s
indicator:
  max_red: 128
  pins:
    red: GPIO17
    green: GPIO27
    blue: GPIO22
button:
  pin: GPIO39
influx:
  url: http://influx.local:8086
  database: ward
  token: secret
network:
  target: ""
log:
  level: debug
  format: json
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Firmware != "Ward-3" {
		t.Errorf("Firmware = %q, want %q", cfg.Firmware, "Ward-3")
	}
	if cfg.BLE.PollInterval != 2*time.Second {
		t.Errorf("BLE.PollInterval = %v, want 2s", cfg.BLE.PollInterval)
	}
	if cfg.BLE.ScanDuration != 0 {
		t.Errorf("BLE.ScanDuration = %v, want 0", cfg.BLE.ScanDuration)
	}
	if cfg.BLE.OverwriteIdentity {
		t.Error("BLE.OverwriteIdentity should be false")
	}
	if cfg.BLE.Conn.ConnectTimeout != 8*time.Second {
		t.Errorf("BLE.Conn.ConnectTimeout = %v, want 8s", cfg.BLE.Conn.ConnectTimeout)
	}
	// Unset fields in a partially given section keep their defaults.
	if cfg.BLE.Conn.SupervisionTimeout != 600*time.Millisecond {
		t.Errorf("BLE.Conn.SupervisionTimeout = %v, want default 600ms", cfg.BLE.Conn.SupervisionTimeout)
	}
	if cfg.Indicator.MaxRed != 128 || cfg.Indicator.MaxGreen != 255 {
		t.Errorf("Indicator maxima = %d/%d, want 128/255", cfg.Indicator.MaxRed, cfg.Indicator.MaxGreen)
	}
	if cfg.Indicator.Pins.Green != "GPIO27" {
		t.Errorf("Indicator.Pins.Green = %q, want GPIO27", cfg.Indicator.Pins.Green)
	}
	if cfg.Button.Pin != "GPIO39" {
		t.Errorf("Button.Pin = %q, want GPIO39", cfg.Button.Pin)
	}
	if cfg.Influx.URL != "http://influx.local:8086" || cfg.Influx.Database != "ward" || cfg.Influx.Token != "secret" {
		t.Errorf("Influx = %+v", cfg.Influx)
	}
	if cfg.Network.Target != "" {
		t.Errorf("Network.Target = %q, want empty", cfg.Network.Target)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
log:
  output: file
  file: ~/logs/oximeter.log
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "logs/oximeter.log")
	if cfg.Log.File != expected {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble:\n  poll_interval: [1, 2\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble:\n  poll_interval: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on an unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty firmware",
			modify:  func(c *Config) { c.Firmware = "" },
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			modify:  func(c *Config) { c.BLE.PollInterval = 0 },
			wantErr: true,
		},
		{
			name:    "tick slower than poll",
			modify:  func(c *Config) { c.BLE.TickInterval = 2 * time.Second },
			wantErr: true,
		},
		{
			name:    "negative scan duration",
			modify:  func(c *Config) { c.BLE.ScanDuration = -time.Second },
			wantErr: true,
		},
		{
			name:    "scan window wider than interval",
			modify:  func(c *Config) { c.BLE.ScanWindow = 2 * c.BLE.ScanInterval },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.Conn.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "inverted connection interval",
			modify:  func(c *Config) { c.BLE.Conn.MinInterval = 30 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.BLE.QueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "zero indicator tick",
			modify:  func(c *Config) { c.Indicator.TickInterval = 0 },
			wantErr: true,
		},
		{
			name:    "partial LED pins",
			modify:  func(c *Config) { c.Indicator.Pins.Red = "GPIO17" },
			wantErr: true,
		},
		{
			name: "all LED pins",
			modify: func(c *Config) {
				c.Indicator.Pins = LEDPins{Red: "GPIO17", Green: "GPIO27", Blue: "GPIO22"}
			},
			wantErr: false,
		},
		{
			name:    "button without hold",
			modify:  func(c *Config) { c.Button.Pin = "GPIO39"; c.Button.Hold = 0 },
			wantErr: true,
		},
		{
			name:    "status without push interval",
			modify:  func(c *Config) { c.Status.PushInterval = 0 },
			wantErr: true,
		},
		{
			name:    "disabled status ignores push interval",
			modify:  func(c *Config) { c.Status.Listen = ""; c.Status.PushInterval = 0 },
			wantErr: false,
		},
		{
			name:    "influx url without scheme",
			modify:  func(c *Config) { c.Influx.URL = "influx.local:8086" },
			wantErr: true,
		},
		{
			name:    "influx without database",
			modify:  func(c *Config) { c.Influx.URL = "http://influx.local"; c.Influx.Database = "" },
			wantErr: true,
		},
		{
			name:    "influx zero interval",
			modify:  func(c *Config) { c.Influx.URL = "http://influx.local"; c.Influx.Interval = 0 },
			wantErr: true,
		},
		{
			name:    "network zero timeout",
			modify:  func(c *Config) { c.Network.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "file output without path",
			modify:  func(c *Config) { c.Log.Output = "file" },
			wantErr: true,
		},
		{
			name:    "syslog output",
			modify:  func(c *Config) { c.Log.Output = "syslog" },
			wantErr: false,
		},
		{
			name:    "unknown output",
			modify:  func(c *Config) { c.Log.Output = "kafka" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault("")
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "oximeter-bridge", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# oximeter-bridge") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.PollInterval != time.Second {
		t.Errorf("written config BLE.PollInterval = %v, want 1s", cfg.BLE.PollInterval)
	}
	if cfg.Indicator.MaxRed != 240 {
		t.Errorf("written config Indicator.MaxRed = %d, want 240", cfg.Indicator.MaxRed)
	}
}

func TestWriteDefault_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	existingContent := []byte("firmware: Custom\n")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault(configPath)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}
	tests := map[string]string{
		"":              "",
		"/var/log/x":    "/var/log/x",
		"relative/path": "relative/path",
		"~/x.log":       filepath.Join(home, "x.log"),
	}
	for in, want := range tests {
		if got := expandTilde(in); got != want {
			t.Errorf("expandTilde(%q) = %q, want %q", in, got, want)
		}
	}
}
