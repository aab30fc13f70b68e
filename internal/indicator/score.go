package indicator

import "github.com/chaz8081/oximeter-bridge/internal/telemetry"

// MaxHealth is the top of the sub-score scale.
const MaxHealth = 1000

// Perfusion index thresholds in tenths. At or above perfusionOK nothing
// blinks, at or below perfusionCritical the blink colour saturates.
const (
	perfusionCritical = 20
	perfusionOK       = 80
)

// Lerp maps x from [inMin, inMax] onto [outMin, outMax], clamping x to the
// input range first. inMin must be below inMax.
func Lerp(x, inMin, inMax, outMin, outMax int) int {
	if x <= inMin {
		return outMin
	}
	if x >= inMax {
		return outMax
	}
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}

// SpO2Score rates oxygen saturation: 0 at 70% or below, MaxHealth at 100%.
func SpO2Score(spo2 uint8) int {
	return Lerp(int(spo2), 70, 100, 0, MaxHealth)
}

// PulseScore rates the pulse rate. Rates up to 40 and above 180 score 0, the
// score climbs over [40,60], stays at MaxHealth over (60,80] and falls back to
// 0 over [80,180]. Low saturation (80% or below) pins the (60,80] band to
// MaxHealth, which the plateau already covers.
func PulseScore(pulse uint8) int {
	p := int(pulse)
	switch {
	case p <= 40 || p > 180:
		return 0
	case p <= 60:
		return Lerp(p, 40, 60, 0, MaxHealth)
	case p <= 80:
		return MaxHealth
	default:
		return Lerp(p, 80, 180, MaxHealth, 0)
	}
}

// Health is the worse of the two sub-scores.
func Health(r telemetry.Reading) int {
	return min(SpO2Score(r.SpO2), PulseScore(r.PulseRate))
}

// HealthColor maps a reading onto a red to green gradient. The score is
// squared first so the colour leaves green early as health degrades.
func (p Palette) HealthColor(r telemetry.Reading) Color {
	h := Health(r)
	sq := h * h
	const top = MaxHealth * MaxHealth

	red := Lerp(sq, 0, top, int(p.MaxRed)*3/4, 0)
	green := Lerp(sq, 0, top, 0, int(p.MaxGreen)*3/4)
	return RGB(uint8(red), uint8(green), 0)
}

// PerfusionBlink returns the warning colour for a low perfusion index and
// whether it applies. It never applies while disconnected.
func (p Palette) PerfusionBlink(connected bool, tenths uint8) (Color, bool) {
	t := int(tenths)
	if !connected || t >= perfusionOK {
		return p.Neutral(), false
	}
	blue := p.MaxBlue / 6
	if t <= perfusionCritical {
		return RGB(p.MaxRed, 0, blue), true
	}
	red := Lerp(t, perfusionCritical, perfusionOK, int(p.MaxRed), 0)
	green := Lerp(t, perfusionCritical, perfusionOK, 0, int(p.MaxGreen))
	return RGB(uint8(red), uint8(green), blue), true
}
