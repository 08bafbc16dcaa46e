package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNS is an in-memory mDNS network for tests. It serves both as an
// MDNSServerFactory and an MDNSResolver, so a registered gateway can be
// browsed without network I/O.
type MockMDNS struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNS creates an empty mock network.
func NewMockMDNS() *MockMDNS {
	return &MockMDNS{services: make(map[string][]*zeroconf.ServiceEntry)}
}

// AddEntry makes entry visible to Browse and Lookup.
func (m *MockMDNS) AddEntry(entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[entry.Service] = append(m.services[entry.Service], entry)
}

func (m *MockMDNS) remove(service, instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.services[service]
	for i, e := range list {
		if e.Instance == instance {
			m.services[service] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (m *MockMDNS) entries(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(out, m.services[service])
	return out
}

// Register implements MDNSServerFactory. The entry resolves to 127.0.0.1.
func (m *MockMDNS) Register(instance, service, domain string, port int, txt []string, _ []net.Interface) (MDNSServer, error) {
	m.AddEntry(MockGatewayEntry(instance, port, net.IPv4(127, 0, 0, 1), txt))
	return &mockServer{mdns: m, service: service, instance: instance}, nil
}

// Browse implements MDNSResolver.
func (m *MockMDNS) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	list := m.entries(service)
	go func() {
		defer close(entries)
		for _, entry := range list {
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNS) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	list := m.entries(service)
	go func() {
		defer close(entries)
		for _, entry := range list {
			if entry.Instance != instance {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
			break
		}
	}()
	return nil
}

type mockServer struct {
	mdns     *MockMDNS
	service  string
	instance string
	once     sync.Once
}

func (s *mockServer) Shutdown() {
	s.once.Do(func() { s.mdns.remove(s.service, s.instance) })
}

// MockGatewayEntry creates a gateway service entry for tests.
func MockGatewayEntry(instance string, port int, ip net.IP, txt []string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  ServiceGateway,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     txt,
	}
	if ip.To4() != nil {
		entry.AddrIPv4 = []net.IP{ip}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}
	return entry
}
