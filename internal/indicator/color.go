// Package indicator computes the composite status colour of the bridge from
// the telemetry record and the health signals, and drives an RGB LED with it.
package indicator

import "fmt"

// Color is a packed 0x00RRGGBB value.
type Color uint32

// RGB packs three channel values into a Color.
func RGB(r, g, b uint8) Color {
	return Color(r)<<16 | Color(g)<<8 | Color(b)
}

// R returns the red channel.
func (c Color) R() uint8 { return uint8(c >> 16) }

// G returns the green channel.
func (c Color) G() uint8 { return uint8(c >> 8) }

// B returns the blue channel.
func (c Color) B() uint8 { return uint8(c) }

// String formats the colour as #rrggbb.
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R(), c.G(), c.B())
}

// Palette holds the channel maxima of the LED and derives the fixed colours
// from them.
type Palette struct {
	MaxRed   uint8
	MaxGreen uint8
	MaxBlue  uint8
}

// DefaultPalette returns the maxima of the reference RGB LED.
func DefaultPalette() Palette {
	return Palette{MaxRed: 240, MaxGreen: 255, MaxBlue: 255}
}

// Neutral is shown when there is nothing to report.
func (p Palette) Neutral() Color { return 0 }

// Startup is shown for the first moments after start.
func (p Palette) Startup() Color { return RGB(p.MaxRed, p.MaxGreen, p.MaxBlue) }

// NetworkError blinks while the network is unreachable.
func (p Palette) NetworkError() Color { return RGB(0, p.MaxGreen, p.MaxBlue) }

// BackendError blinks while the time-series backend rejects writes.
func (p Palette) BackendError() Color { return RGB(p.MaxRed/2, 0, p.MaxBlue) }
