package status

import (
	"github.com/chaz8081/oximeter-bridge/internal/indicator"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// Snapshot is the JSON view of the bridge served on /json and /ws.
type Snapshot struct {
	Firmware  string          `json:"firmware"`
	Device    string          `json:"device"`
	Connected bool            `json:"connected"`
	Reading   ReadingView     `json:"reading"`
	Valid     bool            `json:"valid"`
	State     string          `json:"state"`
	Status    IndicatorStatus `json:"status"`
	Network   bool            `json:"network"`
	Backend   int             `json:"backend"`
}

// ReadingView is a reading with the perfusion index in its display unit.
type ReadingView struct {
	PPM  uint8   `json:"ppm"`
	SpO2 uint8   `json:"spo2"`
	PI   float64 `json:"pi"`
}

// IndicatorStatus mirrors the LED.
type IndicatorStatus struct {
	Reason string `json:"reason"`
	Color  string `json:"color"`
}

// Indicator exposes the state of the status LED.
type Indicator interface {
	Reason() string
	Color() indicator.Color
}

// Sources are the values a Snapshot is built from. State and Indicator are
// optional.
type Sources struct {
	Record    *telemetry.Record
	Health    *telemetry.Health
	State     func() string
	Indicator Indicator
}

// Take reads all sources once. Fields are read individually, so a snapshot
// taken during an update may mix old and new values.
func (s Sources) Take() Snapshot {
	snap := s.Record.Snapshot()
	r := snap.Reading

	out := Snapshot{
		Firmware:  snap.Firmware,
		Device:    snap.Device.String(),
		Connected: snap.Connected,
		Reading: ReadingView{
			PPM:  r.PulseRate,
			SpO2: r.SpO2,
			PI:   r.PerfusionIndex(),
		},
		Valid:   r.Valid(),
		Network: s.Health.NetworkReachable(),
		Backend: s.Health.BackendStatus(),
	}
	if s.State != nil {
		out.State = s.State()
	}
	if s.Indicator != nil {
		out.Status = IndicatorStatus{
			Reason: s.Indicator.Reason(),
			Color:  s.Indicator.Color().String(),
		}
	}
	return out
}
