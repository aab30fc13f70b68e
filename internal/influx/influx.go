// Package influx posts readings to an InfluxDB compatible HTTP write endpoint
// and reports the outcome as the backend health signal.
package influx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/chaz8081/oximeter-bridge/internal/schedule"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

// StatusUnreachable is recorded when no HTTP status could be obtained, either
// because the request failed or the breaker is open.
const StatusUnreachable = 599

// Measurement is the line protocol measurement name.
const Measurement = "oximeter"

// Options configures the poster.
type Options struct {
	URL      string
	Database string
	Token    string        // sent as "Authorization: Token <token>" when set
	Interval time.Duration // posting cadence
	Timeout  time.Duration // per request
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// DefaultOptions returns the posting defaults without a target URL.
func DefaultOptions() Options {
	return Options{
		Database:    "oximeter",
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Poster sends the current reading of a record to the backend.
type Poster struct {
	record   *telemetry.Record
	health   *telemetry.Health
	opts     Options
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[int]
	errLog   rate.Sometimes
}

// NewPoster creates a poster. A nil client uses a client with opts.Timeout.
func NewPoster(record *telemetry.Record, health *telemetry.Health, opts Options, client *http.Client) (*Poster, error) {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = def.MaxFailures
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = def.OpenTimeout
	}

	endpoint, err := writeURL(opts.URL, opts.Database)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	maxFailures := opts.MaxFailures
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "influx",
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[INFLUX] circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Poster{
		record:   record,
		health:   health,
		opts:     opts,
		endpoint: endpoint,
		client:   client,
		breaker:  cb,
		errLog:   rate.Sometimes{Interval: time.Minute},
	}, nil
}

func writeURL(base, database string) (string, error) {
	if database == "" {
		return "", errors.New("influx: database must not be empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("influx: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("influx: unsupported url scheme %q", u.Scheme)
	}
	u = u.JoinPath("write")
	q := u.Query()
	q.Set("db", database)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Endpoint returns the write URL.
func (p *Poster) Endpoint() string { return p.endpoint }

// LineProtocol formats a reading as one line of InfluxDB line protocol
// without timestamp.
func LineProtocol(device string, r telemetry.Reading) string {
	return fmt.Sprintf("%s,device=%s ppm=%di,spo2=%di,pi=%s",
		Measurement,
		escapeTag(device),
		r.PulseRate,
		r.SpO2,
		strconv.FormatFloat(r.PerfusionIndex(), 'f', 1, 64),
	)
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

func escapeTag(s string) string {
	if s == "" {
		return "unknown"
	}
	return tagEscaper.Replace(s)
}

// Post sends the current reading when the device is connected and the
// reading is valid, and records the resulting status code in the health
// signals. sent is false when there was nothing to send.
func (p *Poster) Post(ctx context.Context) (sent bool, err error) {
	snap := p.record.Snapshot()
	if !snap.Connected || !snap.Reading.Valid() {
		return false, nil
	}

	line := LineProtocol(snap.Device.Address, snap.Reading)
	code, err := p.breaker.Execute(func() (int, error) {
		return p.send(ctx, line)
	})
	if code == 0 {
		code = StatusUnreachable
	}
	p.health.SetBackendStatus(code)
	if err != nil {
		return true, fmt.Errorf("influx: post: %w", err)
	}
	slog.Debug("[INFLUX] posted", "line", line, "status", code)
	return true, nil
}

func (p *Poster) send(ctx context.Context, line string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(line+"\n"))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if p.opts.Token != "" {
		req.Header.Set("Authorization", "Token "+p.opts.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Run posts every interval until ctx is cancelled.
func (p *Poster) Run(ctx context.Context) error {
	slog.Info("[INFLUX] posting readings", "endpoint", p.endpoint, "interval", p.opts.Interval)
	return schedule.Run(ctx, "influx", p.opts.Interval, func(ctx context.Context) {
		if _, err := p.Post(ctx); err != nil && ctx.Err() == nil {
			p.errLog.Do(func() {
				slog.Warn("[INFLUX] write failed", "error", err, "status", p.health.BackendStatus())
			})
		}
	})
}
