package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_http._tcp"
	mdnsDomain      = "local."
)

// Advertise announces the status server on the local network. An empty name
// uses the host name. It blocks until ctx is cancelled. Call it in a goroutine.
func Advertise(ctx context.Context, name string, port int, firmware string) error {
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("status: hostname: %w", err)
		}
		name = host
	}

	txt := []string{"path=/", "firmware=" + firmware}
	server, err := zeroconf.Register(name, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("status: mdns register: %w", err)
	}

	slog.Info("[WEB] mdns advertising", "name", name, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}
