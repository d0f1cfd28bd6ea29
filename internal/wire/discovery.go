package wire

import (
	"sort"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the fixed mDNS service type the agent browses to
// enumerate hubs, analogous to findhub's broadcast discovery.
const ServiceType = "_cfengine-hub._tcp"

// Hub is one discovered peer.
type Hub struct {
	Hostname string
	IP       string
	Port     int
}

// Discover browses ServiceType for timeout and returns every hub found,
// sorted by (hostname, ip, port) for a deterministic order the original
// protocol leaves unspecified. Discovery failures are non-fatal: any error
// from the underlying browse is swallowed and an empty (not nil) slice is
// returned, so a caller can treat "no hubs found" and "discovery failed"
// identically without crashing the agent.
func Discover(timeout time.Duration) []Hub {
	entries := make(chan *mdns.ServiceEntry, 16)
	hubs := []Hub{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			ip := ""
			if e.AddrV4 != nil {
				ip = e.AddrV4.String()
			} else if e.AddrV6 != nil {
				ip = e.AddrV6.String()
			}
			hubs = append(hubs, Hub{Hostname: e.Host, IP: ip, Port: e.Port})
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	_ = mdns.Query(params) // discovery failure is non-fatal; hubs stays as collected so far

	close(entries)
	<-done

	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Hostname != hubs[j].Hostname {
			return hubs[i].Hostname < hubs[j].Hostname
		}
		if hubs[i].IP != hubs[j].IP {
			return hubs[i].IP < hubs[j].IP
		}
		return hubs[i].Port < hubs[j].Port
	})
	return hubs
}

// Advertise registers this agent as a hub of ServiceType on port, returning
// a shutdown func. Used by cf-serverd-equivalent listeners so peers running
// Discover can find them.
func Advertise(instance string, port int, extraTxt ...string) (shutdown func() error, err error) {
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, extraTxt)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, err
	}
	return server.Shutdown, nil
}
