package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"github.com/chaz8081/oximeter-bridge/internal/ble"
	"github.com/chaz8081/oximeter-bridge/internal/board"
	"github.com/chaz8081/oximeter-bridge/internal/button"
	"github.com/chaz8081/oximeter-bridge/internal/config"
	"github.com/chaz8081/oximeter-bridge/internal/indicator"
	"github.com/chaz8081/oximeter-bridge/internal/influx"
	"github.com/chaz8081/oximeter-bridge/internal/logger"
	"github.com/chaz8081/oximeter-bridge/internal/netcheck"
	"github.com/chaz8081/oximeter-bridge/internal/status"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

var version = "dev"

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/oximeter-bridge/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("oximeter-bridge", version)
		return
	}

	if *writeConfig {
		path, err := config.WriteDefault(*configPath)
		if err != nil {
			log.Fatalf("write config: %v", err)
		}
		if path == "" {
			log.Println("Config file already exists, left untouched")
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	lg, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	slog.SetDefault(lg)

	printBanner(cfg)

	err = run(cfg)
	_ = closeLog()
	if err != nil {
		log.Fatalf("oximeter-bridge: %v", err)
	}
}

// run wires the components and blocks until a signal arrives or one of the
// core loops fails.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	record := telemetry.NewRecord(cfg.Firmware)
	health := telemetry.NewHealth()

	slog.Info("[BLE] scan timing requested, host stack decides",
		"interval", cfg.BLE.ScanInterval, "window", cfg.BLE.ScanWindow, "active", cfg.BLE.ActiveScan)
	if cfg.BLE.Conn.Latency != 0 {
		slog.Warn("[BLE] peripheral latency is not supported by the host stack, ignoring", "latency", cfg.BLE.Conn.Latency)
	}
	manager := ble.NewManager(ble.NewTinyGoAdapter(), record, managerOptions(cfg.BLE))

	sink, closeSink := openSink(cfg.Indicator)
	defer closeSink()
	engine := indicator.NewEngine(record, health, sink, indicatorOptions(cfg.Indicator))
	engine.SetEnabled(cfg.Indicator.Enabled)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })

	prober := netcheck.New(health, netcheck.Options{
		Target:   cfg.Network.Target,
		Interval: cfg.Network.Interval,
		Timeout:  cfg.Network.Timeout,
	})
	g.Go(func() error { return prober.Run(ctx) })

	if cfg.Influx.URL != "" {
		poster, err := influx.NewPoster(record, health, influx.Options{
			URL:         cfg.Influx.URL,
			Database:    cfg.Influx.Database,
			Token:       cfg.Influx.Token,
			Interval:    cfg.Influx.Interval,
			Timeout:     cfg.Influx.Timeout,
			MaxFailures: cfg.Influx.Breaker.MaxFailures,
			OpenTimeout: cfg.Influx.Breaker.OpenTimeout,
		}, nil)
		if err != nil {
			return err
		}
		g.Go(func() error { return poster.Run(ctx) })
	}

	if cfg.Status.Listen != "" {
		startStatus(ctx, g, cfg, status.Sources{
			Record:    record,
			Health:    health,
			State:     func() string { return manager.State().String() },
			Indicator: engine,
		})
	}

	if cfg.Button.Pin != "" {
		startButton(ctx, g, cfg, engine)
	}

	slog.Info("Ready, waiting for the oximeter. Ctrl+C to quit.")
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Goodbye!")
	return nil
}

func managerOptions(c config.BLEConfig) ble.ManagerOptions {
	return ble.ManagerOptions{
		PollInterval:   c.PollInterval,
		TickInterval:   c.TickInterval,
		ScanDuration:   c.ScanDuration,
		ScanRetryDelay: c.ScanRetryDelay,
		QueueSize:      c.QueueSize,
		Conn: ble.ConnParams{
			MinInterval:        c.Conn.MinInterval,
			MaxInterval:        c.Conn.MaxInterval,
			Latency:            c.Conn.Latency,
			SupervisionTimeout: c.Conn.SupervisionTimeout,
			ConnectTimeout:     c.Conn.ConnectTimeout,
		},
		OverwriteIdentity: c.OverwriteIdentity,
	}
}

func indicatorOptions(c config.IndicatorConfig) indicator.Options {
	opts := indicator.DefaultOptions()
	opts.Palette = indicator.Palette{MaxRed: c.MaxRed, MaxGreen: c.MaxGreen, MaxBlue: c.MaxBlue}
	opts.TickInterval = c.TickInterval
	return opts
}

// openSink opens the RGB LED, falling back to logging colours when no pins
// are configured or the hardware is unavailable.
func openSink(c config.IndicatorConfig) (indicator.Sink, func()) {
	noop := func() {}
	if c.Pins.Red == "" {
		slog.Info("[LED] no pins configured, logging colours")
		return indicator.LogSink{}, noop
	}
	if err := board.Init(); err != nil {
		slog.Warn("[LED] GPIO init failed, logging colours", "error", err)
		return indicator.LogSink{}, noop
	}
	led, err := board.LED(c.Pins.Red, c.Pins.Green, c.Pins.Blue, physic.Frequency(c.PWMFrequency)*physic.Hertz)
	if err != nil {
		slog.Warn("[LED] open failed, logging colours", "error", err)
		return indicator.LogSink{}, noop
	}
	slog.Info("[LED] ready", "red", c.Pins.Red, "green", c.Pins.Green, "blue", c.Pins.Blue)
	return led, func() {
		if err := led.Halt(); err != nil {
			slog.Warn("[LED] halt", "error", err)
		}
	}
}

func startStatus(ctx context.Context, g *errgroup.Group, cfg *config.Config, src status.Sources) {
	srv := status.NewServer(cfg.Status.Listen, src, cfg.Status.PushInterval)
	g.Go(func() error { return srv.Start(ctx) })

	if !cfg.Status.MDNS {
		return
	}
	g.Go(func() error {
		addr, err := srv.BoundAddr(ctx)
		if err != nil {
			return nil
		}
		_, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			slog.Warn("[WEB] mdns disabled", "error", err)
			return nil
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			slog.Warn("[WEB] mdns disabled", "error", err)
			return nil
		}
		if err := status.Advertise(ctx, cfg.Status.MDNSName, port, cfg.Firmware); err != nil {
			slog.Warn("[WEB] mdns disabled", "error", err)
		}
		return nil
	})
}

func startButton(ctx context.Context, g *errgroup.Group, cfg *config.Config, engine *indicator.Engine) {
	if err := board.Init(); err != nil {
		slog.Warn("[BTN] GPIO init failed, button disabled", "error", err)
		return
	}
	pin, err := board.Pin(cfg.Button.Pin)
	if err != nil {
		slog.Warn("[BTN] button disabled", "error", err)
		return
	}

	opts := button.DefaultOptions()
	opts.Hold = cfg.Button.Hold
	opts.InitiallyOn = cfg.Indicator.Enabled
	listener := button.NewListener(pin, opts)

	g.Go(func() error {
		if err := listener.Start(); err != nil {
			slog.Warn("[BTN] listener stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		listener.Stop()
		return nil
	})
	g.Go(func() error {
		for ev := range listener.Events() {
			engine.SetEnabled(ev.Type == button.EventOn)
		}
		return nil
	})
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	influxTarget := "disabled"
	if cfg.Influx.URL != "" {
		influxTarget = cfg.Influx.URL + " (db " + cfg.Influx.Database + ")"
	}
	web := "disabled"
	if cfg.Status.Listen != "" {
		web = cfg.Status.Listen
	}
	led := "log only"
	if cfg.Indicator.Pins.Red != "" {
		led = fmt.Sprintf("%s/%s/%s", cfg.Indicator.Pins.Red, cfg.Indicator.Pins.Green, cfg.Indicator.Pins.Blue)
	}

	fmt.Println("=== oximeter-bridge ===")
	fmt.Printf("  Firmware: %s (%s)\n", cfg.Firmware, version)
	fmt.Printf("  Poll:     every %s\n", cfg.BLE.PollInterval)
	fmt.Printf("  LED:      %s\n", led)
	fmt.Printf("  Web:      %s\n", web)
	fmt.Printf("  Influx:   %s\n", influxTarget)
	fmt.Printf("  Network:  %s\n", cfg.Network.Target)
	fmt.Printf("  Log:      %s (%s, %s)\n", cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	fmt.Println("=======================")
}
