// Package nattraversal discovers the host's (local address, gateway) pairs from
// the routing table or the adapter list, and maps ports on those gateways
// using UPnP and NAT-PMP with automatic renewal.
package nattraversal

import (
	"context"
	"fmt"
	"strings"
)

// Method selects the port mapping protocol.
type Method string

const (
	MethodAuto   Method = "auto" // UPnP, then NAT-PMP
	MethodUPnP   Method = "upnp"
	MethodNATPMP Method = "natpmp"
)

// ParseMethod validates a mapping method name. The empty string means auto.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case "":
		return MethodAuto, nil
	case MethodAuto, MethodUPnP, MethodNATPMP:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mapping method: %s", s)
	}
}

// NewPortMapper creates a port mapper, trying UPnP first, then NAT-PMP.
// This is a convenience wrapper around NewPortMapperContext using context.Background().
func NewPortMapper() (PortMapper, error) {
	return NewPortMapperContext(context.Background())
}

// NewPortMapperContext creates a port mapper with context support, trying UPnP first, then NAT-PMP.
// The context is passed through to the discovery process, allowing cancellation during slow network operations.
func NewPortMapperContext(ctx context.Context) (PortMapper, error) {
	return NewPortMapperWithMethod(ctx, MethodAuto)
}

// NewPortMapperWithMethod creates a port mapper for the given method.
// The options configure the gateway discovery the mappers run.
func NewPortMapperWithMethod(ctx context.Context, method Method, opts ...Option) (PortMapper, error) {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	switch method {
	case MethodUPnP:
		upnp, err := NewUPnPMapperContext(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return upnp, nil
	case MethodNATPMP:
		natpmp, err := NewNATPMPMapperContext(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return natpmp, nil
	case MethodAuto:
	default:
		return nil, fmt.Errorf("unknown mapping method: %s", method)
	}

	// Try UPnP first with context support
	upnp, upnpErr := NewUPnPMapperContext(ctx, opts...)
	if upnpErr == nil {
		return upnp, nil
	}

	// Check context before fallback
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled after UPnP attempt: %w", err)
	}

	// Fall back to NAT-PMP
	natpmp, err := NewNATPMPMapperContext(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("no NAT traversal available: UPnP failed (%v), NAT-PMP failed: %w", upnpErr, err)
	}

	return natpmp, nil
}
