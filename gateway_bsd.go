//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package nattraversal

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// discover reads the routing socket RIB on BSD-like systems.
// This includes macOS (darwin), FreeBSD, OpenBSD, NetBSD, and DragonFly BSD.
func (d *Discoverer) discover(ctx context.Context) ([]GatewayPair, error) {
	if d.source != RouteSourceAuto && d.source != RouteSourceRIB {
		return nil, fmt.Errorf("route source %q is not supported on BSD", d.source)
	}

	routes, err := ribRoutes()
	if err != nil {
		return nil, err
	}
	return discoverFromRoutes(routes)
}

// ribRoutes fetches and decodes the IPv4 routing table.
// Returns nil, nil if the routing socket cannot be read.
func ribRoutes() ([]Route, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		slog.Debug("routing socket unavailable", "error", err)
		return nil, nil
	}

	messages, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	names := make(map[int]string)
	var routes []Route
	for _, message := range messages {
		rm, ok := message.(*route.RouteMessage)
		if !ok {
			continue
		}

		name, ok := names[rm.Index]
		if !ok {
			ifi, err := net.InterfaceByIndex(rm.Index)
			if err != nil {
				continue
			}
			name = ifi.Name
			names[rm.Index] = name
		}

		if r, ok := routeFromRIB(rm, name); ok {
			routes = append(routes, r)
		}
	}
	return routes, nil
}

var ribFlagBits = []struct {
	bit  int
	flag RouteFlags
}{
	{unix.RTF_UP, FlagUp},
	{unix.RTF_GATEWAY, FlagGateway},
	{unix.RTF_HOST, FlagHost},
	{unix.RTF_DYNAMIC, FlagDynamic},
	{unix.RTF_MODIFIED, FlagModified},
	{unix.RTF_REJECT, FlagReject},
}

// routeFromRIB converts a route message into a Route. Messages whose
// destination is not IPv4 are skipped.
func routeFromRIB(rm *route.RouteMessage, ifName string) (Route, bool) {
	if len(rm.Addrs) <= unix.RTAX_GATEWAY {
		return Route{}, false
	}
	dst, ok := rm.Addrs[unix.RTAX_DST].(*route.Inet4Addr)
	if !ok {
		return Route{}, false
	}

	r := newRoute()
	r.Destination = net.IPv4(dst.IP[0], dst.IP[1], dst.IP[2], dst.IP[3]).To4()
	r.Interface = ifName
	// A link-layer gateway (link#N) leaves the gateway at 0.0.0.0.
	if gw, ok := rm.Addrs[unix.RTAX_GATEWAY].(*route.Inet4Addr); ok {
		r.Gateway = net.IPv4(gw.IP[0], gw.IP[1], gw.IP[2], gw.IP[3]).To4()
	}
	for _, fb := range ribFlagBits {
		if rm.Flags&fb.bit != 0 {
			r.Flags |= fb.flag
		}
	}
	return r, true
}
