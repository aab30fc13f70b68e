// Package board looks up GPIO pins of the host through periph.io.
package board

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/chaz8081/oximeter-bridge/internal/indicator"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph.io host drivers. Calling it again returns the first
// result.
func Init() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = fmt.Errorf("board: periph host init: %w", err)
		}
	})
	return initErr
}

// Pin returns the pin registered under name, such as "GPIO17".
func Pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("board: pin %q not found", name)
	}
	return p, nil
}

// LED opens an RGB LED on the three named pins.
func LED(red, green, blue string, freq physic.Frequency) (*indicator.PWMLED, error) {
	pins := make([]gpio.PinOut, 0, 3)
	for _, name := range []string{red, green, blue} {
		p, err := Pin(name)
		if err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return indicator.NewPWMLED(pins[0], pins[1], pins[2], freq)
}
