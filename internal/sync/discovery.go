package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
)

// Advertiser publishes a Master's presence via mDNS under a fleet-wide
// service type so satellites discover it without configuration.
type Advertiser struct {
	server *mdns.Server
}

// Advertise registers an mDNS service record {instance, serviceType, port}.
func Advertise(instance, serviceType string, port int) (*Advertiser, error) {
	service, err := mdns.NewMDNSService(instance, serviceType, "", "", port, nil, []string{"giro terminal"})
	if err != nil {
		return nil, fmt.Errorf("build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Shutdown stops advertising.
func (a *Advertiser) Shutdown() error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown()
}

// DiscoveredMaster is one mDNS lookup result.
type DiscoveredMaster struct {
	Host string
	Port int
}

// Discover looks up a Master on the LAN with a bounded timeout, per the
// Satellite's discovery contract.
func Discover(ctx context.Context, serviceType string, timeout time.Duration) (*DiscoveredMaster, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 4)

	go func() {
		_ = mdns.Lookup(serviceType, entriesCh)
		close(entriesCh)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no master found for %s within %s", serviceType, timeout)
			}
			if entry == nil {
				continue
			}
			host := entry.AddrV4.String()
			if host == "<nil>" || host == "" {
				host = entry.Host
			}
			return &DiscoveredMaster{Host: host, Port: entry.Port}, nil
		case <-timer.C:
			return nil, fmt.Errorf("mdns discovery timed out after %s", timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
