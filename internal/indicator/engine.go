package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// Status reasons reported alongside the colour.
const (
	ReasonOK             = "OK"
	ReasonStartup        = "Starting"
	ReasonPerfusionLow   = "PI low"
	ReasonNetworkDown    = "No WLAN"
	ReasonBackendFailing = "No Influx"
	ReasonNoDevice       = "No F7"
	ReasonDisabled       = "LED off"
)

// Options configures the indicator engine.
type Options struct {
	Palette         Palette
	TickInterval    time.Duration // how often Run recomputes the colour
	StartupDuration time.Duration // startup colour after the first tick
	BlinkInterval   time.Duration // period of the warning blink
	BlinkDuty       time.Duration // on-time of the warning blink per period
}

// DefaultOptions returns the timings of the reference firmware.
func DefaultOptions() Options {
	return Options{
		Palette:         DefaultPalette(),
		TickInterval:    10 * time.Millisecond,
		StartupDuration: 250 * time.Millisecond,
		BlinkInterval:   time.Second,
		BlinkDuty:       250 * time.Millisecond,
	}
}

// Engine turns telemetry and health signals into one status colour and
// forwards changes to a Sink.
type Engine struct {
	record *telemetry.Record
	health *telemetry.Health
	sink   Sink
	opts   Options

	mu        sync.Mutex
	start     time.Time
	started   bool
	last      Color
	hasLast   bool
	reason    string
	enabled   bool
	emissions int

	errLog rate.Sometimes
}

// NewEngine creates an enabled engine. Zero timing options take their defaults.
func NewEngine(record *telemetry.Record, health *telemetry.Health, sink Sink, opts Options) *Engine {
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.StartupDuration <= 0 {
		opts.StartupDuration = def.StartupDuration
	}
	if opts.BlinkInterval <= 0 {
		opts.BlinkInterval = def.BlinkInterval
	}
	if opts.BlinkDuty <= 0 || opts.BlinkDuty > opts.BlinkInterval {
		opts.BlinkDuty = opts.BlinkInterval / 4
	}
	return &Engine{
		record:  record,
		health:  health,
		sink:    sink,
		opts:    opts,
		reason:  ReasonStartup,
		enabled: true,
		errLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Compute returns the status colour and its reason at now. The first call
// latches the start time that the startup phase and the blink phase are
// measured from.
func (e *Engine) Compute(now time.Time) (Color, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compute(now)
}

func (e *Engine) compute(now time.Time) (Color, string) {
	p := e.opts.Palette
	if !e.started {
		e.start = now
		e.started = true
	}
	since := now.Sub(e.start)
	if since < e.opts.StartupDuration {
		return p.Startup(), ReasonStartup
	}

	connected := e.record.Connected()
	reading := e.record.Reading()

	if since%e.opts.BlinkInterval < e.opts.BlinkDuty {
		if c, ok := p.PerfusionBlink(connected, reading.PerfusionTenths); ok {
			return c, ReasonPerfusionLow
		}
		if !e.health.NetworkReachable() {
			return p.NetworkError(), ReasonNetworkDown
		}
		if !e.health.BackendOK() {
			return p.BackendError(), ReasonBackendFailing
		}
	}

	if connected && reading.Valid() {
		return p.HealthColor(reading), ReasonOK
	}
	return p.Neutral(), ReasonNoDevice
}

// Tick recomputes the colour and shows it if it differs from the last one
// shown. A failed write is retried on the next tick.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return
	}
	c, reason := e.compute(now)
	e.reason = reason
	if e.hasLast && c == e.last {
		return
	}
	if err := e.sink.Show(c); err != nil {
		e.errLog.Do(func() {
			slog.Warn("[LED] show failed", "color", c, "error", err)
		})
		return
	}
	e.last = c
	e.hasLast = true
	e.emissions++
	slog.Debug("[LED] color changed", "color", c, "reason", reason)
}

// SetEnabled switches the LED on or off. Switching off blanks it once,
// switching on makes the next tick show its colour unconditionally.
func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if on == e.enabled {
		return
	}
	e.enabled = on
	if on {
		slog.Info("[LED] on")
		e.hasLast = false
		return
	}

	slog.Info("[LED] off")
	e.reason = ReasonDisabled
	if err := e.sink.Show(e.opts.Palette.Neutral()); err != nil {
		slog.Warn("[LED] blank failed", "error", err)
		e.hasLast = false
		return
	}
	e.last = e.opts.Palette.Neutral()
	e.hasLast = true
	e.emissions++
}

// Enabled reports whether the LED is switched on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Reason returns the reason for the most recently computed colour.
func (e *Engine) Reason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Color returns the colour last shown on the sink.
func (e *Engine) Color() Color {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Emissions returns how many colours have been written to the sink.
func (e *Engine) Emissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emissions
}

// Run ticks until ctx is cancelled and blanks the sink on the way out.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	e.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			if err := e.sink.Show(e.opts.Palette.Neutral()); err != nil {
				slog.Debug("[LED] blank on shutdown", "error", err)
			}
			return nil
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}
