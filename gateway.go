package nattraversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// ErrNoGateway is returned when discovery finds no usable (local, gateway) pair.
var ErrNoGateway = errors.New("no gateway found")

// GatewayPair associates a local IPv4 address with the gateway reachable from it.
type GatewayPair struct {
	Local   net.IP
	Gateway net.IP
}

func (p GatewayPair) String() string {
	return fmt.Sprintf("%s -> %s", p.Local, p.Gateway)
}

// RouteSource selects where route-table platforms read their routes from.
type RouteSource string

const (
	RouteSourceAuto    RouteSource = "auto"
	RouteSourceCommand RouteSource = "command" // `route -n4` output
	RouteSourceProcfs  RouteSource = "procfs"  // /proc/net/route
	RouteSourceNetlink RouteSource = "netlink" // rtnetlink route dump
	RouteSourceRIB     RouteSource = "rib"     // BSD routing socket
)

var routeSources = []RouteSource{
	RouteSourceAuto,
	RouteSourceCommand,
	RouteSourceProcfs,
	RouteSourceNetlink,
	RouteSourceRIB,
}

// ParseRouteSource validates a route source name. The empty string means auto.
func ParseRouteSource(s string) (RouteSource, error) {
	if s == "" {
		return RouteSourceAuto, nil
	}
	for _, src := range routeSources {
		if strings.EqualFold(s, string(src)) {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown route source: %s", s)
}

// Discoverer finds the (local, gateway) pairs of the host's active interfaces.
// It holds no state between calls.
type Discoverer struct {
	source       RouteSource
	routeCommand string
	routeArgs    []string
	procPath     string
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithRouteSource selects the route source on route-table platforms.
// It is ignored on Windows, which always walks the adapter list.
func WithRouteSource(src RouteSource) Option {
	return func(d *Discoverer) {
		d.source = src
	}
}

// WithRouteCommand overrides the command used by RouteSourceCommand.
func WithRouteCommand(name string, args ...string) Option {
	return func(d *Discoverer) {
		d.routeCommand = name
		d.routeArgs = args
	}
}

// WithProcRoutePath overrides the file read by RouteSourceProcfs.
func WithProcRoutePath(path string) Option {
	return func(d *Discoverer) {
		d.procPath = path
	}
}

// NewDiscoverer creates a Discoverer with the platform defaults.
func NewDiscoverer(opts ...Option) *Discoverer {
	d := &Discoverer{
		source:       RouteSourceAuto,
		routeCommand: routeCommand,
		routeArgs:    routeCommandArgs,
		procPath:     procRoutePath,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscoverGatewayPairs discovers gateway pairs with the default settings.
// This is a convenience wrapper around Discoverer.Discover using context.Background().
func DiscoverGatewayPairs() ([]GatewayPair, error) {
	return NewDiscoverer().Discover(context.Background())
}

// Discover returns the pairs in enumeration order. A host where the OS query is
// unavailable yields an empty result and a nil error; only malformed OS output is an error.
// The context only bounds external commands; kernel queries are not cancellable.
func (d *Discoverer) Discover(ctx context.Context) ([]GatewayPair, error) {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	pairs, err := d.discover(ctx)
	if err != nil {
		return nil, err
	}

	slog.Debug("gateway discovery finished",
		"source", d.source,
		"pairs", len(pairs))
	return pairs, nil
}

// InterfaceAddress is one IPv4 address configured on a named interface.
type InterfaceAddress struct {
	Name string
	Addr net.IP
}

// MatchRoutes pairs every interface address with the gateway of each usable
// route on the same interface. Order is address-major; duplicates are kept.
func MatchRoutes(routes []Route, addrs []InterfaceAddress) []GatewayPair {
	var pairs []GatewayPair
	for _, ifa := range addrs {
		for _, route := range routes {
			if route.Interface != ifa.Name || !route.Usable() {
				continue
			}
			pairs = append(pairs, GatewayPair{Local: ifa.Addr, Gateway: route.Gateway})
		}
	}
	return pairs
}

// enumerateInterfaces lists the IPv4 addresses of interfaces that are up.
// Non-IPv4 addresses are skipped.
func enumerateInterfaces() ([]InterfaceAddress, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return upInterfaceAddresses(ifaces, func(ifi net.Interface) ([]net.Addr, error) {
		return ifi.Addrs()
	}), nil
}

// upInterfaceAddresses collects the IPv4 addresses of the interfaces in ifaces
// that carry net.FlagUp. Down interfaces never contribute addresses, so their
// routes can never match.
func upInterfaceAddresses(ifaces []net.Interface, addrsOf func(net.Interface) ([]net.Addr, error)) []InterfaceAddress {
	var out []InterfaceAddress
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := addrsOf(ifi)
		if err != nil {
			slog.Debug("skipping interface without readable addresses",
				"interface", ifi.Name,
				"error", err)
			continue
		}
		out = append(out, ipv4Addresses(ifi.Name, addrs)...)
	}
	return out
}

// ipv4Addresses keeps the IPv4 entries of an interface's address list.
func ipv4Addresses(name string, addrs []net.Addr) []InterfaceAddress {
	var out []InterfaceAddress
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			out = append(out, InterfaceAddress{Name: name, Addr: ip4})
		}
	}
	return out
}

// discoverFromRoutes is the route-table pipeline shared by Linux and BSD.
func discoverFromRoutes(routes []Route) ([]GatewayPair, error) {
	if len(routes) == 0 {
		return nil, nil
	}
	addrs, err := enumerateInterfaces()
	if err != nil {
		return nil, err
	}
	return MatchRoutes(routes, addrs), nil
}
