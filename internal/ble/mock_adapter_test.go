package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/oximeter-bridge/internal/ble/protocol"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu           sync.Mutex
	writes       [][]byte
	callback     func([]byte)
	writeErr     error
	subscribeErr error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.callback = cb
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *mockCharacteristic) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *mockCharacteristic) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// mockConnection simulates a BLE connection to the oximeter.
type mockConnection struct {
	mu           sync.Mutex
	reqChar      *mockCharacteristic
	notifyChar   *mockCharacteristic
	missing      map[string]bool
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		reqChar:    &mockCharacteristic{},
		notifyChar: &mockCharacteristic{},
		missing:    make(map[string]bool),
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if serviceUUID != protocol.ServiceUUID || c.missing[serviceUUID] {
		return nil, fmt.Errorf("mock: service %q not found", serviceUUID)
	}
	if c.missing[charUUID] {
		return nil, fmt.Errorf("mock: characteristic %q not found", charUUID)
	}
	switch charUUID {
	case protocol.RequestCharUUID:
		return c.reqChar, nil
	case protocol.NotifyCharUUID:
		return c.notifyChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) remove(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[uuid] = true
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter. Every scan reports devices right
// away and then blocks until its context ends.
type mockAdapter struct {
	mu          sync.Mutex
	enabled     bool
	enableErr   error
	devices     []Device
	scans       int
	activeScans int
	scanErr     error
	connects    int
	connectErr  error
	lastAddress string
	lastParams  ConnParams
	connection  *mockConnection // most recent connection for test assertions
	prepared    *mockConnection // returned by the next Connect when set
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enableErr != nil {
		return a.enableErr
	}
	a.enabled = true
	return nil
}

func (a *mockAdapter) Scan(ctx context.Context, _ string, found func(Device)) error {
	a.mu.Lock()
	a.scans++
	a.activeScans++
	devices := append([]Device(nil), a.devices...)
	scanErr := a.scanErr
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.activeScans--
		a.mu.Unlock()
	}()

	if scanErr != nil {
		return scanErr
	}
	for _, d := range devices {
		found(d)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Connect(_ context.Context, address string, params ConnParams) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	a.lastAddress = address
	a.lastParams = params
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := a.prepared
	if conn == nil {
		conn = newMockConnection()
	}
	a.prepared = nil
	a.connection = conn
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

func (a *mockAdapter) activeScanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeScans
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
