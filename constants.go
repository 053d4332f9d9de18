package nattraversal

import "time"

// Constants for port mapping renewal management
const (
	renewalInterval = 45 * time.Minute
	mappingDuration = 90 * time.Minute // double the interval for safety
)

// Constants for gateway discovery
const (
	// routeCommand is the net-tools binary whose numeric IPv4 table feeds ParseRouteTable.
	routeCommand = "route"

	// procRoutePath is the kernel's IPv4 routing table.
	procRoutePath = "/proc/net/route"

	// adapterBufferChunk is both the initial adapter buffer size and the growth step.
	// 15KB is the starting size recommended for GetAdaptersAddresses.
	adapterBufferChunk = 15000

	// maxBufferAttempts bounds the buffer growth loop.
	maxBufferAttempts = 16
)

// routeCommandArgs selects numeric output (-n) restricted to IPv4 (-4).
var routeCommandArgs = []string{"-n4"}
