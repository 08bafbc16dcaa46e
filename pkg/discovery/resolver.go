package discovery

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 5 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// Gateway is a discovered BLE gateway.
type Gateway struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved addresses, sorted by preference.
	IPs []net.IP

	// TXT is the decoded TXT record.
	TXT GatewayTXT
}

// URL returns the websocket URL of the gateway, using the preferred
// address or the host name when no address was resolved.
func (g Gateway) URL() string {
	host := strings.TrimSuffix(g.HostName, ".")
	if len(g.IPs) > 0 {
		host = g.IPs[0].String()
	}
	scheme := "ws"
	if g.TXT.TLS {
		scheme = "wss"
	}
	path := g.TXT.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(g.Port)),
		Path:   path,
	}
	return u.String()
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
//
// Implementations follow zeroconf's contract: they return once the query
// is started and close entries when ctx is done or the query fails.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
// A zeroconf.Resolver shuts its sockets down after one query, so each call
// opens a new one.
type zeroconfResolver struct{}

func (zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return err
	}
	return r.Browse(ctx, service, domain, entries)
}

func (zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		close(entries)
		return err
	}
	return r.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout applies when the browse context has no deadline.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout applies when the lookup context has no deadline.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver discovers gateways via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		resolver = zeroconfResolver{}
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers gateways. The returned channel yields each instance once
// and is closed when ctx is done or the browse timeout expires.
func (r *Resolver) Browse(ctx context.Context) (<-chan Gateway, error) {
	ctx, cancel := r.withTimeout(ctx, r.config.BrowseTimeout)

	results := make(chan Gateway)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		if err := r.resolver.Browse(ctx, ServiceGateway, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Warnf("browse %s: %v", ServiceGateway, err)
		}
	}()

	go func() {
		defer cancel()
		defer close(results)
		seen := make(map[string]bool)
		for entry := range entries {
			if entry == nil || seen[entry.Instance] {
				continue
			}
			seen[entry.Instance] = true
			gw := entryToGateway(entry)
			if r.log != nil {
				r.log.Debugf("found gateway %q at %s", gw.Instance, gw.URL())
			}
			select {
			case results <- gw:
			case <-ctx.Done():
				// Keep draining so the browser can finish.
			}
		}
	}()

	return results, nil
}

// BrowseAll collects every gateway found before ctx is done or the browse
// timeout expires.
func (r *Resolver) BrowseAll(ctx context.Context) ([]Gateway, error) {
	ch, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var out []Gateway
	for gw := range ch {
		out = append(out, gw)
	}
	return out, nil
}

// Lookup resolves one gateway instance by name.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*Gateway, error) {
	if instance == "" {
		return nil, ErrInvalidInstanceName
	}
	ctx, cancel := r.withTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		if err := r.resolver.Lookup(ctx, instance, ServiceGateway, DefaultDomain, entries); err != nil && r.log != nil {
			r.log.Warnf("lookup %q: %v", instance, err)
		}
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		gw := entryToGateway(entry)
		return &gw, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (r *Resolver) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// entryToGateway converts a zeroconf.ServiceEntry to a Gateway.
func entryToGateway(entry *zeroconf.ServiceEntry) Gateway {
	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	return Gateway{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      SortIPsByPreference(ips),
		TXT:      DecodeGatewayTXT(entry.Text),
	}
}
