// Package discovery advertises the Wyoming TCP surface on the LAN over
// mDNS so voice-assistant hubs can find it without configuration.
package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_wyoming._tcp"

// Advertiser owns one zeroconf registration.
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers the service as <program>-<shorthost> on the given
// port. An explicit instance name overrides the derived one.
func Advertise(program, instance string, port int, logger *slog.Logger) (*Advertiser, error) {
	if instance == "" {
		instance = fmt.Sprintf("%s-%s", program, shortHostname())
	}
	server, err := zeroconf.Register(instance, serviceType, "local.", port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	log := logger.With(slog.String("component", "discovery"))
	log.Info("mdns advertisement registered",
		slog.String("instance", instance),
		slog.String("service", serviceType),
		slog.Int("port", port))
	return &Advertiser{server: server, logger: log}, nil
}

// Close withdraws the advertisement.
func (a *Advertiser) Close() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("mdns advertisement withdrawn")
}

func shortHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "voxway"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}
