// Package netcheck probes network reachability with a TCP dial and records
// the result in the health signals.
package netcheck

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/chaz8081/oximeter-bridge/internal/schedule"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// Options configures the prober.
type Options struct {
	Target   string // host:port, empty means always reachable
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultOptions probes a public DNS resolver every 10 seconds.
func DefaultOptions() Options {
	return Options{
		Target:   "1.1.1.1:53",
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// DialFunc opens a connection, as net.Dialer.DialContext does.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober checks reachability of one target.
type Prober struct {
	health *telemetry.Health
	opts   Options
	dial   DialFunc
}

// New creates a prober writing into health. Zero timings take their defaults.
func New(health *telemetry.Health, opts Options) *Prober {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	var d net.Dialer
	return &Prober{health: health, opts: opts, dial: d.DialContext}
}

// Probe checks the target once, records the result and returns it.
func (p *Prober) Probe(ctx context.Context) bool {
	ok := p.reachable(ctx)
	if ok != p.health.NetworkReachable() {
		if ok {
			slog.Info("[NET] network reachable", "target", p.opts.Target)
		} else {
			slog.Warn("[NET] network unreachable", "target", p.opts.Target)
		}
	}
	p.health.SetNetworkReachable(ok)
	return ok
}

func (p *Prober) reachable(ctx context.Context) bool {
	if p.opts.Target == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.opts.Target)
	if err != nil {
		slog.Debug("[NET] probe failed", "target", p.opts.Target, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// Run probes every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	return schedule.Run(ctx, "netcheck", p.opts.Interval, func(ctx context.Context) {
		p.Probe(ctx)
	})
}
