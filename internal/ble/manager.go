package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/oximeter-bridge/internal/ble/protocol"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// State is the lifecycle state of the peripheral session.
type State int32

const (
	StateScanning State = iota
	StateReadyToConnect
	StateConnecting
	StateSubscribing
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateReadyToConnect:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StatePolling:
		return "polling"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ManagerOptions configures the connection manager.
type ManagerOptions struct {
	PollInterval   time.Duration // request cadence while polling (default 1s)
	TickInterval   time.Duration // scheduler granularity (default 50ms)
	ScanDuration   time.Duration // length of one scan, 0 scans until a match
	ScanRetryDelay time.Duration // pause before rescanning after a failed scan
	QueueSize      int           // capacity of the event queue
	Conn           ConnParams
	// OverwriteIdentity records every advertisement match as the current
	// device, even while a session with another one is running.
	OverwriteIdentity bool
}

// DefaultManagerOptions returns the cadences the oximeter was tuned for.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		PollInterval:      time.Second,
		TickInterval:      50 * time.Millisecond,
		ScanDuration:      5 * time.Second,
		ScanRetryDelay:    time.Second,
		QueueSize:         64,
		Conn:              DefaultConnParams(),
		OverwriteIdentity: true,
	}
}

type eventKind int

const (
	eventAdvertisement eventKind = iota
	eventScanEnded
	eventNotification
	eventDisconnected
)

func (k eventKind) String() string {
	switch k {
	case eventAdvertisement:
		return "advertisement"
	case eventScanEnded:
		return "scan-ended"
	case eventNotification:
		return "notification"
	case eventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// event is a transport callback turned into a message. id is the scan id for
// scan events and the session id for notifications and disconnects.
type event struct {
	kind    eventKind
	id      uint64
	device  Device
	payload []byte
	err     error
}

// Manager owns the scan, connect, subscribe, poll lifecycle of a single
// oximeter and writes what it learns into a telemetry.Record.
//
// Every failure path ends in a fresh scan: the oximeter accepts one
// connection attempt per advertisement and cannot be reconnected to once it
// went out of range.
type Manager struct {
	adapter Adapter
	record  *telemetry.Record
	opts    ManagerOptions

	events   chan event
	stop     chan struct{}
	stopOnce sync.Once
	state    atomic.Int32

	// Owned by the Run goroutine.
	device     Device
	conn       Connection
	session    uint64
	lastPoll   time.Time
	scanID     uint64
	scanCancel context.CancelFunc
	rescanAt   time.Time

	dropLog   rate.Sometimes
	decodeLog rate.Sometimes
}

// NewManager creates a connection manager writing into record.
func NewManager(adapter Adapter, record *telemetry.Record, opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.ScanRetryDelay <= 0 {
		opts.ScanRetryDelay = def.ScanRetryDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Conn.ConnectTimeout <= 0 {
		opts.Conn.ConnectTimeout = def.Conn.ConnectTimeout
	}
	return &Manager{
		adapter:   adapter,
		record:    record,
		opts:      opts,
		events:    make(chan event, opts.QueueSize),
		stop:      make(chan struct{}),
		dropLog:   rate.Sometimes{Interval: 10 * time.Second},
		decodeLog: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// State returns the current lifecycle state. Safe for concurrent use.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	if old := State(m.state.Swap(int32(s))); old != s {
		slog.Debug("[BLE] state change", "from", old, "to", s)
	}
}

// Run enables the adapter and drives the state machine until ctx is
// cancelled. Connection failures never make Run return.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	defer m.shutdown()

	slog.Info("[BLE] starting scan", "service", protocol.AdvertisedServiceUUID)
	m.restartScan(ctx)

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		case now := <-ticker.C:
			// Pending disconnects must win over a due poll.
			m.drain(ctx)
			m.tick(ctx, now)
		}
	}
}

// drain handles all queued events without blocking.
func (m *Manager) drain(ctx context.Context) {
	for {
		select {
		case ev := <-m.events:
			m.handle(ctx, ev)
		default:
			return
		}
	}
}

func (m *Manager) shutdown() {
	m.stopScan()
	if m.conn != nil {
		if err := m.conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect on shutdown", "error", err)
		}
		m.conn = nil
	}
	m.record.SetConnected(false)
	m.stopOnce.Do(func() { close(m.stop) })
}

// post queues an event from a transport callback, dropping it when the
// queue is full.
func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropLog.Do(func() {
			slog.Warn("[BLE] event queue full, dropping event", "kind", ev.kind)
		})
	}
}

// postWait queues an event that must not be lost.
func (m *Manager) postWait(ev event) {
	select {
	case m.events <- ev:
	case <-m.stop:
	}
}

// handle applies one event to the state machine.
func (m *Manager) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventAdvertisement:
		m.onAdvertisement(ev)
	case eventScanEnded:
		m.onScanEnded(ctx, ev)
	case eventNotification:
		m.onNotification(ev)
	case eventDisconnected:
		m.onDisconnected(ctx, ev)
	}
}

// tick runs the time driven transitions.
func (m *Manager) tick(ctx context.Context, now time.Time) {
	switch m.State() {
	case StateScanning:
		if m.scanCancel == nil && !now.Before(m.rescanAt) {
			m.startScan(ctx)
		}
	case StateReadyToConnect:
		m.connect(ctx)
	case StatePolling:
		if now.Sub(m.lastPoll) >= m.opts.PollInterval {
			m.lastPoll = now
			m.poll(ctx)
		}
	}
}

func (m *Manager) onAdvertisement(ev event) {
	d := ev.device
	if m.State() != StateScanning {
		if m.opts.OverwriteIdentity && d.Address != m.record.Device().Address {
			slog.Info("[BLE] discovered device while busy, recording identity", "address", d.Address)
			m.record.SetDevice(telemetry.DeviceIdentity{Address: d.Address})
		}
		return
	}
	// Only the running scan may lead to a connect. Matches queued by a
	// stopped scan are stale.
	if ev.id != m.scanID || m.scanCancel == nil {
		slog.Debug("[BLE] ignoring advertisement from stopped scan", "address", d.Address, "scan", ev.id)
		return
	}

	slog.Info("[BLE] found oximeter", "address", d.Address, "name", d.Name, "rssi", d.RSSI)
	m.device = d
	m.record.SetDevice(telemetry.DeviceIdentity{Address: d.Address})
	m.stopScan()
	m.setState(StateReadyToConnect)
}

func (m *Manager) onScanEnded(ctx context.Context, ev event) {
	if ev.id != m.scanID || m.scanCancel == nil {
		return // stopped on purpose or superseded
	}
	m.scanCancel()
	m.scanCancel = nil
	if m.State() != StateScanning {
		return
	}
	if ev.err != nil {
		slog.Warn("[BLE] scan failed", "error", ev.err, "retry", m.opts.ScanRetryDelay)
		m.rescanAt = time.Now().Add(m.opts.ScanRetryDelay)
		return
	}
	slog.Debug("[BLE] scan ended without match, rescanning")
	m.startScan(ctx)
}

func (m *Manager) onNotification(ev event) {
	if m.conn == nil || ev.id != m.session {
		return
	}
	slog.Debug("[BLE] notification", "data", protocol.FormatHex(ev.payload))

	r, err := protocol.DecodeReading(ev.payload)
	if err != nil {
		m.decodeLog.Do(func() {
			slog.Warn("[BLE] dropping notification", "error", err)
		})
		return
	}
	m.record.SetReading(r)

	if r.Valid() {
		slog.Info("[BLE] reading",
			"address", m.device.Address,
			"spo2", r.SpO2,
			"pi", fmt.Sprintf("%d.%d", r.PerfusionTenths/10, r.PerfusionTenths%10),
			"pulse", r.PulseRate,
		)
	}
}

func (m *Manager) onDisconnected(ctx context.Context, ev event) {
	if m.conn == nil || ev.id != m.session {
		return // session already torn down by us
	}
	slog.Warn("[BLE] disconnected, starting new scan", "address", m.device.Address)
	m.record.SetConnected(false)
	m.conn = nil
	m.session++
	m.restartScan(ctx)
}

func (m *Manager) connect(ctx context.Context) {
	m.setState(StateConnecting)
	slog.Info("[BLE] connecting", "address", m.device.Address)

	cctx, cancel := context.WithTimeout(ctx, m.opts.Conn.ConnectTimeout)
	conn, err := m.adapter.Connect(cctx, m.device.Address, m.opts.Conn)
	cancel()
	if err != nil {
		slog.Warn("[BLE] connection failed, starting new scan", "address", m.device.Address, "error", err)
		m.restartScan(ctx)
		return
	}

	m.session++
	session := m.session
	m.conn = conn
	conn.OnDisconnect(func() {
		m.postWait(event{kind: eventDisconnected, id: session})
	})
	slog.Info("[BLE] connected", "address", m.device.Address)

	m.subscribe(ctx)
}

func (m *Manager) subscribe(ctx context.Context) {
	m.setState(StateSubscribing)
	session := m.session

	chr, err := m.conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.NotifyCharUUID)
	if err == nil {
		err = chr.Subscribe(func(data []byte) {
			m.post(event{kind: eventNotification, id: session, payload: data})
		})
	}
	if err != nil {
		slog.Warn("[BLE] subscribe failed, starting new scan", "error", err)
		m.dropSession()
		m.restartScan(ctx)
		return
	}

	slog.Info("[BLE] notifications subscribed")
	m.record.SetConnected(true)
	m.lastPoll = time.Time{}
	m.setState(StatePolling)
}

// poll asks the oximeter for the next notification. The characteristic is
// looked up on every poll so a stale session is noticed.
func (m *Manager) poll(ctx context.Context) {
	chr, err := m.conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.RequestCharUUID)
	if err == nil {
		err = chr.Write(protocol.RequestPayload())
	}
	if err != nil {
		slog.Warn("[BLE] request failed, disconnecting", "address", m.device.Address, "error", err)
		m.dropSession()
		m.restartScan(ctx)
		return
	}
	m.record.SetConnected(true)
	slog.Debug("[BLE] reading requested")
}

// dropSession tears the current connection down. Events still queued for it
// become stale.
func (m *Manager) dropSession() {
	m.record.SetConnected(false)
	if m.conn != nil {
		if err := m.conn.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect", "error", err)
		}
	}
	m.conn = nil
	m.session++
}

func (m *Manager) restartScan(ctx context.Context) {
	m.setState(StateScanning)
	m.rescanAt = time.Time{}
	m.startScan(ctx)
}

func (m *Manager) startScan(ctx context.Context) {
	if m.scanCancel != nil {
		return
	}
	m.scanID++
	id := m.scanID

	var scanCtx context.Context
	if m.opts.ScanDuration > 0 {
		scanCtx, m.scanCancel = context.WithTimeout(ctx, m.opts.ScanDuration)
	} else {
		scanCtx, m.scanCancel = context.WithCancel(ctx)
	}

	go func() {
		err := m.adapter.Scan(scanCtx, protocol.AdvertisedServiceUUID, func(d Device) {
			m.post(event{kind: eventAdvertisement, id: id, device: d})
		})
		m.postWait(event{kind: eventScanEnded, id: id, err: err})
	}()
}

func (m *Manager) stopScan() {
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
}
