package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/oximeter-bridge/internal/ble/protocol"
)

// ScanForDevices scans for oximeters advertising the F7 service and returns
// each device once, in discovery order.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	err := adapter.Scan(ctx, protocol.AdvertisedServiceUUID, func(d Device) {
		mu.Lock()
		defer mu.Unlock()
		if seen[d.Address] {
			return
		}
		seen[d.Address] = true
		devices = append(devices, d)
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}
