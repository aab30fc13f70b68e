// Package status serves the bridge state over HTTP: a small HTML page, a
// JSON snapshot and a websocket stream of snapshots. It can also advertise
// itself over mDNS.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server is the web status sink.
type Server struct {
	src       Sources
	addr      string
	push      time.Duration
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// NewServer creates a status server listening on addr that pushes a snapshot
// to websocket clients every push interval.
func NewServer(addr string, src Sources, push time.Duration) *Server {
	if push <= 0 {
		push = time.Second
	}
	return &Server{
		src:   src,
		addr:  addr,
		push:  push,
		ready: make(chan struct{}),
	}
}

// Handler returns the HTTP routes. Other methods than GET get 405.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /json", s.handleJSON)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status: listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	close(s.ready)

	slog.Info("[WEB] status server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[WEB] shutdown", "error", err)
		}
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status: serve: %w", err)
	}
	return nil
}

// BoundAddr waits for Start to bind and returns the listen address.
func (s *Server) BoundAddr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.boundAddr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Firmware}}</title>
<meta http-equiv="refresh" content="5"></head>
<body style="font-family:sans-serif">
<h1>{{.Firmware}}</h1>
<p><span style="display:inline-block;width:1em;height:1em;background:{{.Status.Color}}"></span> {{.Status.Reason}}</p>
<table>
<tr><td>Device</td><td>{{.Device}}{{if .Connected}} (connected){{end}}</td></tr>
<tr><td>State</td><td>{{.State}}</td></tr>
{{if .Valid}}<tr><td>SpO2</td><td>{{.Reading.SpO2}} %</td></tr>
<tr><td>Pulse</td><td>{{.Reading.PPM}} /min</td></tr>
<tr><td>PI</td><td>{{printf "%.1f" .Reading.PI}}</td></tr>{{end}}
<tr><td>Network</td><td>{{if .Network}}ok{{else}}unreachable{{end}}</td></tr>
<tr><td>Backend</td><td>{{.Backend}}</td></tr>
</table>
<p><a href="/json">json</a></p>
</body></html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.src.Take()); err != nil {
		slog.Warn("[WEB] render index", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.src.Take()); err != nil {
		slog.Warn("[WEB] encode snapshot", "error", err)
	}
}

// handleWS streams snapshots until the client goes away. Incoming messages
// are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("[WEB] websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	ctx := ws.CloseRead(r.Context())
	slog.Debug("[WEB] websocket client connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	for {
		if err := wsjson.Write(ctx, ws, s.src.Take()); err != nil {
			slog.Debug("[WEB] websocket client gone", "remote", r.RemoteAddr, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
		}
	}
}
