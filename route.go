package nattraversal

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrParse is wrapped by every routing-table parse failure.
var ErrParse = errors.New("route table parsing failed")

// RouteFlags is the set of routing-table flags attached to a Route.
type RouteFlags uint16

const (
	FlagUp        RouteFlags = 1 << iota // U: route is up
	FlagHost                             // H: target is a host
	FlagGateway                          // G: use gateway
	FlagReinstate                        // R: reinstate route for dynamic routing
	FlagDynamic                          // D: dynamically installed by daemon or redirect
	FlagModified                         // M: modified from routing daemon or redirect
	FlagAddrconf                         // A: installed by addrconf
	FlagCache                            // C: cache entry
	FlagReject                           // !: reject route
)

// flagChars maps the flag letters printed by `route -n` to their bits,
// in the order route(8) prints them.
var flagChars = []struct {
	char rune
	flag RouteFlags
}{
	{'U', FlagUp},
	{'H', FlagHost},
	{'G', FlagGateway},
	{'R', FlagReinstate},
	{'D', FlagDynamic},
	{'M', FlagModified},
	{'A', FlagAddrconf},
	{'C', FlagCache},
	{'!', FlagReject},
}

// ParseRouteFlags decodes a flags column such as "UG" or "UH!".
func ParseRouteFlags(s string) (RouteFlags, error) {
	var flags RouteFlags
	for _, c := range s {
		flag, ok := flagForChar(c)
		if !ok {
			return 0, fmt.Errorf("%w: flag parsing failed on %q", ErrParse, s)
		}
		flags |= flag
	}
	return flags, nil
}

func flagForChar(c rune) (RouteFlags, bool) {
	for _, fc := range flagChars {
		if fc.char == c {
			return fc.flag, true
		}
	}
	return 0, false
}

// Has reports whether all bits of want are set.
func (f RouteFlags) Has(want RouteFlags) bool {
	return f&want == want
}

// String renders the flags the way route(8) prints them.
func (f RouteFlags) String() string {
	var b strings.Builder
	for _, fc := range flagChars {
		if f.Has(fc.flag) {
			b.WriteRune(fc.char)
		}
	}
	return b.String()
}

// Route is one IPv4 routing-table entry.
type Route struct {
	Destination net.IP
	Gateway     net.IP
	Interface   string
	Flags       RouteFlags
}

func newRoute() Route {
	return Route{
		Destination: net.IPv4zero.To4(),
		Gateway:     net.IPv4zero.To4(),
	}
}

// IsDefault reports whether the route's destination is 0.0.0.0.
func (r Route) IsDefault() bool {
	return r.Destination.Equal(net.IPv4zero)
}

// Usable reports whether the route is up and goes through a gateway.
// This is the only selection policy applied to discovered routes.
func (r Route) Usable() bool {
	return r.Flags.Has(FlagUp | FlagGateway)
}

// parseIPv4 parses a dotted-quad address, rejecting anything that is not IPv4.
func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return nil, fmt.Errorf("%w: invalid IPv4 address %q", ErrParse, s)
	}
	return ip.To4(), nil
}
