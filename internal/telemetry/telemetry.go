// Package telemetry holds the state shared between the BLE connection
// manager, the status indicator and the external sinks.
package telemetry

import (
	"fmt"
	"sync/atomic"
)

// Reading is one decoded oximeter measurement.
// A zero field means the oximeter has no value for it yet.
type Reading struct {
	PulseRate       uint8 // beats per minute
	SpO2            uint8 // oxygen saturation in percent
	PerfusionTenths uint8 // perfusion index x 10
}

// Valid reports whether all three fields carry a value.
func (r Reading) Valid() bool {
	return r.PulseRate != 0 && r.SpO2 != 0 && r.PerfusionTenths != 0
}

// PerfusionIndex returns the perfusion index in percent.
func (r Reading) PerfusionIndex() float64 {
	return float64(r.PerfusionTenths) / 10
}

func (r Reading) String() string {
	return fmt.Sprintf("SpO2: %d, PI: %d.%d, Pulse: %d",
		r.SpO2, r.PerfusionTenths/10, r.PerfusionTenths%10, r.PulseRate)
}

func (r Reading) pack() uint32 {
	return uint32(r.PulseRate)<<16 | uint32(r.SpO2)<<8 | uint32(r.PerfusionTenths)
}

func unpackReading(v uint32) Reading {
	return Reading{
		PulseRate:       uint8(v >> 16),
		SpO2:            uint8(v >> 8),
		PerfusionTenths: uint8(v),
	}
}

// DeviceIdentity identifies the discovered peripheral.
type DeviceIdentity struct {
	Address string
}

// String returns the address, or "scanning" while nothing was discovered.
func (d DeviceIdentity) String() string {
	if d.Address == "" {
		return "scanning"
	}
	return d.Address
}

// Record is the shared telemetry record. The connection manager is the only
// writer; any number of goroutines may read it. Every field is loaded and
// stored atomically on its own, there is no transaction spanning fields.
type Record struct {
	firmware  string
	device    atomic.Pointer[DeviceIdentity]
	connected atomic.Bool
	reading   atomic.Uint32
}

// NewRecord creates a record for the given firmware name.
func NewRecord(firmware string) *Record {
	return &Record{firmware: firmware}
}

// Firmware returns the firmware name set at startup.
func (r *Record) Firmware() string { return r.firmware }

// Device returns the identity of the last discovered peripheral.
func (r *Record) Device() DeviceIdentity {
	if d := r.device.Load(); d != nil {
		return *d
	}
	return DeviceIdentity{}
}

// SetDevice records a newly discovered peripheral.
func (r *Record) SetDevice(d DeviceIdentity) { r.device.Store(&d) }

// Connected reports whether a subscribed and polled session exists.
func (r *Record) Connected() bool { return r.connected.Load() }

// SetConnected updates the session flag.
func (r *Record) SetConnected(v bool) { r.connected.Store(v) }

// Reading returns the last decoded reading. It is kept across disconnects.
func (r *Record) Reading() Reading { return unpackReading(r.reading.Load()) }

// SetReading stores a decoded reading.
func (r *Record) SetReading(v Reading) { r.reading.Store(v.pack()) }

// Snapshot is a point-in-time copy of a Record.
type Snapshot struct {
	Firmware  string
	Device    DeviceIdentity
	Connected bool
	Reading   Reading
}

// Snapshot copies all fields. Fields are read one at a time.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Firmware:  r.Firmware(),
		Device:    r.Device(),
		Connected: r.Connected(),
		Reading:   r.Reading(),
	}
}

// Health carries the signals written by the network prober and the
// time-series poster.
type Health struct {
	networkReachable atomic.Bool
	backendStatus    atomic.Int32
}

// NewHealth returns signals in their startup state: network not (yet)
// reachable, no backend attempt.
func NewHealth() *Health {
	return &Health{}
}

func (h *Health) NetworkReachable() bool     { return h.networkReachable.Load() }
func (h *Health) SetNetworkReachable(v bool) { h.networkReachable.Store(v) }

// BackendStatus returns the last backend response code, 0 before the first attempt.
func (h *Health) BackendStatus() int     { return int(h.backendStatus.Load()) }
func (h *Health) SetBackendStatus(c int) { h.backendStatus.Store(int32(c)) }

// BackendOK reports whether no attempt was made yet or the last one succeeded.
func (h *Health) BackendOK() bool {
	c := h.BackendStatus()
	return c == 0 || (c >= 200 && c < 300)
}
