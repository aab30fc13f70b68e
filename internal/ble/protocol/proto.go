// Package protocol implements the wire format of the F7 pulse oximeter's
// custom BLE service.
//
// The oximeter exposes one service with two characteristics. Writing
// RequestPayload to the request characteristic makes the device send exactly
// one notification on the notify characteristic. A notification starts with
// a 6 byte header we do not interpret, followed by pulse rate, SpO2 and
// perfusion index (x10), one byte each.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// F7 BLE UUIDs
const (
	// AdvertisedServiceUUID is the service the oximeter advertises. Scans filter on it.
	AdvertisedServiceUUID = "6e40f431-b5a3-f393-e0a9-e50e24dcca9e"
	ServiceUUID           = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	RequestCharUUID       = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	NotifyCharUUID        = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

const (
	// HeaderLen is the length of the opaque notification header.
	HeaderLen = 6
	// ReadingLen is the minimum length of a notification carrying a reading.
	ReadingLen = HeaderLen + 3
)

// ErrShortPayload is returned for notifications too short to hold a reading.
var ErrShortPayload = errors.New("protocol: notification payload too short")

// RequestPayload solicits the next notification.
func RequestPayload() []byte {
	return []byte{0xab, 0x00, 0x03, 0xff, 0x30, 0x80}
}

// DecodeReading extracts the reading from a notification payload.
//
//	bytes 0..5: header
//	byte  6:    pulse rate (bpm)
//	byte  7:    SpO2 (%)
//	byte  8:    perfusion index x 10
//
// Values are not validated; a reading with a zero field is still returned.
func DecodeReading(payload []byte) (telemetry.Reading, error) {
	if len(payload) < ReadingLen {
		return telemetry.Reading{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortPayload, len(payload), ReadingLen)
	}
	return telemetry.Reading{
		PulseRate:       payload[HeaderLen],
		SpO2:            payload[HeaderLen+1],
		PerfusionTenths: payload[HeaderLen+2],
	}, nil
}

// FormatHex renders a payload as space separated hex bytes for debug logs.
func FormatHex(payload []byte) string {
	var b strings.Builder
	for _, c := range payload {
		fmt.Fprintf(&b, " %02x", c)
	}
	return b.String()
}
