// Package ble provides the BLE central for the F7 pulse oximeter. It handles
// discovery, connection management, subscription and polling over Bluetooth
// Low Energy.
package ble

import (
	"context"
	"time"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// ConnParams bounds a connection attempt.
type ConnParams struct {
	MinInterval        time.Duration
	MaxInterval        time.Duration
	Latency            uint16 // peripheral latency in connection events
	SupervisionTimeout time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConnParams returns the parameters the oximeter is known to accept:
// 15ms interval, no latency, 600ms supervision timeout and a 5s connect timeout.
func DefaultConnParams() ConnParams {
	return ConnParams{
		MinInterval:        15 * time.Millisecond,
		MaxInterval:        15 * time.Millisecond,
		Latency:            0,
		SupervisionTimeout: 600 * time.Millisecond,
		ConnectTimeout:     5 * time.Second,
	}
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports peripherals advertising the given service UUID to found.
	// It blocks until ctx is cancelled.
	Scan(ctx context.Context, serviceUUID string, found func(Device)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string, params ConnParams) (Connection, error)
}
