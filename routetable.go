package nattraversal

import (
	"fmt"
	"strings"
)

// Column positions in `route -n` output. Genmask, Metric, Ref and Use are ignored.
const (
	colDestination = 0
	colGateway     = 1
	colGenmask     = 2
	colFlags       = 3
	colIface       = 7
)

// ParseRouteTable parses the output of `route -n4` into routes, in input order.
// The output format looks like:
//
//	Kernel IP routing table
//	Destination     Gateway         Genmask         Flags Metric Ref    Use Iface
//	0.0.0.0         192.168.1.1     0.0.0.0         UG    100    0        0 eth0
//	192.168.1.0     0.0.0.0         255.255.255.0   U     100    0        0 eth0
//
// Any malformed row fails the whole table; no partial result is returned.
func ParseRouteTable(output string) ([]Route, error) {
	body, err := skipHeaderLines(output, 2)
	if err != nil {
		return nil, err
	}

	var routes []Route
	route := newRoute()
	fieldStart := -1
	fieldIdx := 0

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case fieldStart < 0 && !isSpace(c):
			fieldStart = i
		case fieldStart >= 0 && isSpace(c):
			if err := setRouteField(&route, fieldIdx, body[fieldStart:i]); err != nil {
				return nil, err
			}
			fieldStart = -1
			fieldIdx++
		}

		if c == '\n' {
			// Blank lines carry no route.
			if fieldIdx > 0 {
				routes = append(routes, route)
			}
			route = newRoute()
			fieldIdx = 0
			fieldStart = -1
		}
	}

	// Last row without a trailing newline.
	if fieldStart >= 0 {
		if err := setRouteField(&route, fieldIdx, body[fieldStart:]); err != nil {
			return nil, err
		}
		fieldIdx++
	}
	if fieldIdx > 0 {
		routes = append(routes, route)
	}

	return routes, nil
}

// setRouteField stores one closed field into route according to its column.
func setRouteField(route *Route, idx int, field string) error {
	var err error
	switch idx {
	case colDestination:
		route.Destination, err = parseIPv4(field)
	case colGateway:
		route.Gateway, err = parseIPv4(field)
	case colFlags:
		route.Flags, err = ParseRouteFlags(field)
	case colIface:
		route.Interface = field
	case colGenmask, 4, 5, 6:
	default:
		return fmt.Errorf("%w: unexpected column %d (%q)", ErrParse, idx, field)
	}
	return err
}

// skipHeaderLines drops the first n newline-terminated lines.
func skipHeaderLines(s string, n int) (string, error) {
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			return "", fmt.Errorf("%w: missing header line %d", ErrParse, i+1)
		}
		s = s[idx+1:]
	}
	return s, nil
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
