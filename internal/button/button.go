// Package button watches an active-low push button on a GPIO pin and turns
// long enough presses into on/off toggle events.
package button

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// EventType indicates whether the indicator should be switched on or off.
type EventType int

const (
	// EventOn signals that the button switched the indicator on.
	EventOn EventType = iota
	// EventOff signals that the button switched the indicator off.
	EventOff
)

func (t EventType) String() string {
	if t == EventOn {
		return "on"
	}
	return "off"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Options configures the button listener.
type Options struct {
	Hold         time.Duration // how long the button must stay pressed
	PollInterval time.Duration // sampling period while pressed
	EdgeTimeout  time.Duration // bound on each edge wait so Stop is noticed
	InitiallyOn  bool          // toggle state before the first press
}

// DefaultOptions returns a 200ms hold with the toggle starting in the on state.
func DefaultOptions() Options {
	return Options{
		Hold:         200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		EdgeTimeout:  100 * time.Millisecond,
		InitiallyOn:  true,
	}
}

// Listener watches the button pin and emits toggle events.
type Listener struct {
	pin  gpio.PinIn
	opts Options
	ch   chan Event
	done chan struct{}
	once sync.Once
	on   bool
}

// NewListener creates a Listener on pin. Zero options take their defaults.
func NewListener(pin gpio.PinIn, opts Options) *Listener {
	def := DefaultOptions()
	if opts.Hold <= 0 {
		opts.Hold = def.Hold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.EdgeTimeout <= 0 {
		opts.EdgeTimeout = def.EdgeTimeout
	}
	return &Listener{
		pin:  pin,
		opts: opts,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
		on:   opts.InitiallyOn,
	}
}

// Events returns the channel that receives toggle events.
// The channel is closed when Start returns.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start configures the pin with a pull-up and waits for presses.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() error {
	defer close(l.ch)

	if err := l.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("button: configure %s: %w", l.pin, err)
	}
	slog.Info("[BTN] listening", "pin", l.pin.Name(), "hold", l.opts.Hold)

	for {
		if l.stopped() {
			return nil
		}
		if !l.pin.WaitForEdge(l.opts.EdgeTimeout) {
			continue
		}
		if !l.held() {
			continue
		}
		l.on = !l.on
		ev := Event{Type: EventOff}
		if l.on {
			ev.Type = EventOn
		}
		select {
		case l.ch <- ev:
		default: // don't block if channel is full
		}
		slog.Debug("[BTN] toggled", "state", ev.Type)
		l.waitRelease()
	}
}

// held reports whether the pin stays low for the hold time.
func (l *Listener) held() bool {
	deadline := time.Now().Add(l.opts.Hold)
	for time.Now().Before(deadline) {
		if l.pin.Read() == gpio.High {
			return false
		}
		if !l.sleep() {
			return false
		}
	}
	return l.pin.Read() == gpio.Low
}

// waitRelease blocks until the button is let go so one long press toggles once.
func (l *Listener) waitRelease() {
	for l.pin.Read() == gpio.Low {
		if !l.sleep() {
			return
		}
	}
}

func (l *Listener) sleep() bool {
	select {
	case <-l.done:
		return false
	case <-time.After(l.opts.PollInterval):
		return true
	}
}

func (l *Listener) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Stop terminates the listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
