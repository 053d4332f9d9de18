package nattraversal

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kernel route flag bits as exposed in /proc/net/route (see linux/route.h, linux/ipv6_route.h).
const (
	rtfUp        = 0x0001
	rtfGateway   = 0x0002
	rtfHost      = 0x0004
	rtfReinstate = 0x0008
	rtfDynamic   = 0x0010
	rtfModified  = 0x0020
	rtfReject    = 0x0200
	rtfAddrconf  = 0x40000
	rtfCache     = 0x1000000
)

var kernelFlagBits = []struct {
	bit  uint64
	flag RouteFlags
}{
	{rtfUp, FlagUp},
	{rtfGateway, FlagGateway},
	{rtfHost, FlagHost},
	{rtfReinstate, FlagReinstate},
	{rtfDynamic, FlagDynamic},
	{rtfModified, FlagModified},
	{rtfReject, FlagReject},
	{rtfAddrconf, FlagAddrconf},
	{rtfCache, FlagCache},
}

// ParseProcRoute parses the contents of /proc/net/route.
// The format looks like:
//
//	Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
//	eth0	00000000	0101A8C0	0003	0	0	100	00000000	0	0	0
//
// Addresses are little-endian hex; Flags is a hex word of RTF_* bits.
func ParseProcRoute(contents string) ([]Route, error) {
	scanner := bufio.NewScanner(strings.NewReader(contents))

	// Skip header line
	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: empty routing table", ErrParse)
	}

	var routes []Route
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		destination, err := parseHexIP(fields[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse destination: %w", err)
		}
		gateway, err := parseHexIP(fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse gateway: %w", err)
		}
		flags, err := parseKernelFlags(fields[3])
		if err != nil {
			return nil, err
		}

		routes = append(routes, Route{
			Destination: destination,
			Gateway:     gateway,
			Interface:   fields[0],
			Flags:       flags,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading routing table: %w", err)
	}

	return routes, nil
}

// parseKernelFlags converts the hex RTF_* word into RouteFlags. Unknown bits are ignored.
func parseKernelFlags(hexFlags string) (RouteFlags, error) {
	word, err := strconv.ParseUint(hexFlags, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid flags %q", ErrParse, hexFlags)
	}

	var flags RouteFlags
	for _, kb := range kernelFlagBits {
		if word&kb.bit != 0 {
			flags |= kb.flag
		}
	}
	return flags, nil
}

// parseHexIP converts a hex-encoded IP address from /proc/net/route to net.IP.
// The format is little-endian hex (e.g., "0101A8C0" = 192.168.1.1).
func parseHexIP(hexIP string) (net.IP, error) {
	if len(hexIP) != 8 {
		return nil, fmt.Errorf("%w: invalid hex IP length: %d", ErrParse, len(hexIP))
	}

	bytes, err := hex.DecodeString(hexIP)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex IP: %v", ErrParse, err)
	}

	// Reverse bytes (little-endian to big-endian)
	return net.IPv4(bytes[3], bytes[2], bytes[1], bytes[0]).To4(), nil
}
