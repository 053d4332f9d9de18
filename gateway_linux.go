//go:build linux

package nattraversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// discover reads routes from the configured source and matches them against
// the interface list.
func (d *Discoverer) discover(ctx context.Context) ([]GatewayPair, error) {
	routes, err := d.readRoutes(ctx)
	if err != nil {
		return nil, err
	}
	return discoverFromRoutes(routes)
}

func (d *Discoverer) readRoutes(ctx context.Context) ([]Route, error) {
	switch d.source {
	case RouteSourceAuto:
		routes, err := d.commandRoutes(ctx)
		if err != nil || routes != nil {
			return routes, err
		}
		slog.Debug("route command unavailable, reading kernel table", "path", d.procPath)
		return d.procRoutes()
	case RouteSourceCommand:
		return d.commandRoutes(ctx)
	case RouteSourceProcfs:
		return d.procRoutes()
	case RouteSourceNetlink:
		return netlinkRoutes()
	default:
		return nil, fmt.Errorf("route source %q is not supported on linux", d.source)
	}
}

// commandRoutes runs the route command and parses its table.
// Returns nil, nil if the command cannot be run.
func (d *Discoverer) commandRoutes(ctx context.Context) ([]Route, error) {
	output, err := exec.CommandContext(ctx, d.routeCommand, d.routeArgs...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("route command interrupted: %w", ctxErr)
		}
		slog.Debug("route command failed",
			"command", d.routeCommand,
			"error", err)
		return nil, nil
	}

	routes, err := ParseRouteTable(string(output))
	if err != nil {
		return nil, err
	}
	if routes == nil {
		routes = []Route{}
	}
	return routes, nil
}

// procRoutes reads the kernel routing table file.
// Returns nil, nil if the file doesn't exist.
func (d *Discoverer) procRoutes() ([]Route, error) {
	contents, err := os.ReadFile(d.procPath)
	if err != nil {
		// File doesn't exist - not an error, nothing to discover
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open routing table: %w", err)
	}
	return ParseProcRoute(string(contents))
}

// netlinkRoutes dumps the main IPv4 routing table over rtnetlink.
func netlinkRoutes() ([]Route, error) {
	nlRoutes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		slog.Debug("netlink route dump failed", "error", err)
		return nil, nil
	}

	links := make(map[int]netlink.Link)
	routes := make([]Route, 0, len(nlRoutes))
	for _, r := range nlRoutes {
		link, ok := links[r.LinkIndex]
		if !ok {
			link, err = netlink.LinkByIndex(r.LinkIndex)
			if err != nil {
				slog.Debug("skipping route on unknown link",
					"index", r.LinkIndex,
					"error", err)
				continue
			}
			links[r.LinkIndex] = link
		}
		attrs := link.Attrs()
		routes = append(routes, routeFromNetlink(r, attrs.Name, attrs.Flags&net.FlagUp != 0))
	}
	return routes, nil
}

// routeFromNetlink converts a netlink route on a named link into a Route.
func routeFromNetlink(r netlink.Route, linkName string, linkUp bool) Route {
	route := newRoute()
	route.Interface = linkName

	if r.Dst != nil {
		if ip4 := r.Dst.IP.To4(); ip4 != nil {
			route.Destination = ip4
		}
		if ones, bits := r.Dst.Mask.Size(); ones == bits && bits == 32 {
			route.Flags |= FlagHost
		}
	}
	if gw := r.Gw.To4(); gw != nil {
		route.Gateway = gw
		route.Flags |= FlagGateway
	}
	if linkUp {
		route.Flags |= FlagUp
	}
	switch r.Type {
	case unix.RTN_UNREACHABLE, unix.RTN_PROHIBIT, unix.RTN_BLACKHOLE:
		route.Flags |= FlagReject
	}
	if r.Protocol == unix.RTPROT_REDIRECT {
		route.Flags |= FlagDynamic
	}
	return route
}
