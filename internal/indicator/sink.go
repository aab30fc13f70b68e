package indicator

import (
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Sink displays a status colour.
type Sink interface {
	Show(c Color) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Color) error

// Show calls f(c).
func (f SinkFunc) Show(c Color) error { return f(c) }

// PWMLED drives a three pin RGB LED with hardware or software PWM. Duty is
// proportional to the channel value.
type PWMLED struct {
	red, green, blue gpio.PinOut
	freq             physic.Frequency
	// CommonAnode inverts the duty cycle for LEDs wired to the supply rail.
	CommonAnode bool
}

// NewPWMLED creates an LED on the given pins, switched off.
func NewPWMLED(red, green, blue gpio.PinOut, freq physic.Frequency) (*PWMLED, error) {
	if red == nil || green == nil || blue == nil {
		return nil, errors.New("indicator: all three LED pins are required")
	}
	if freq <= 0 {
		freq = physic.KiloHertz
	}
	led := &PWMLED{red: red, green: green, blue: blue, freq: freq}
	if err := led.Show(0); err != nil {
		return nil, err
	}
	return led, nil
}

// Show sets all three channels.
func (l *PWMLED) Show(c Color) error {
	if err := l.set(l.red, c.R()); err != nil {
		return fmt.Errorf("indicator: red channel: %w", err)
	}
	if err := l.set(l.green, c.G()); err != nil {
		return fmt.Errorf("indicator: green channel: %w", err)
	}
	if err := l.set(l.blue, c.B()); err != nil {
		return fmt.Errorf("indicator: blue channel: %w", err)
	}
	return nil
}

// Halt switches the LED off and releases the pins.
func (l *PWMLED) Halt() error {
	err := l.Show(0)
	for _, p := range []gpio.PinOut{l.red, l.green, l.blue} {
		if herr := p.Halt(); herr != nil && err == nil {
			err = herr
		}
	}
	return err
}

func (l *PWMLED) set(p gpio.PinOut, v uint8) error {
	duty := channelDuty(v)
	if l.CommonAnode {
		duty = gpio.DutyMax - duty
	}
	switch duty {
	case 0:
		return p.Out(gpio.Low)
	case gpio.DutyMax:
		return p.Out(gpio.High)
	default:
		return p.PWM(duty, l.freq)
	}
}

func channelDuty(v uint8) gpio.Duty {
	return gpio.Duty(uint64(v) * uint64(gpio.DutyMax) / 255)
}

// LogSink logs every colour it is asked to show. It stands in for the LED on
// hosts without GPIO.
type LogSink struct{}

// Show logs the colour.
func (LogSink) Show(c Color) error {
	slog.Info("[LED] color", "color", c)
	return nil
}

// MultiSink shows each colour on all of its sinks. Every sink is tried and
// the errors are joined.
type MultiSink []Sink

// Show forwards c to every sink.
func (m MultiSink) Show(c Color) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
