package nattraversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
)

// natpmpClient is the subset of *natpmp.Client the mapper uses.
type natpmpClient interface {
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
}

// newNATPMPClient builds the client for one gateway. Replaced in tests.
var newNATPMPClient = func(gateway net.IP) natpmpClient {
	return natpmp.NewClient(gateway)
}

// NATPMPMapper implements PortMapper using NAT-PMP protocol.
type NATPMPMapper struct {
	client natpmpClient
	pair   GatewayPair

	mu sync.Mutex
	// internalPorts maps "proto/external" to the internal port it was created for.
	// NAT-PMP deletes by internal port.
	internalPorts map[string]int
}

func mappingKey(protocol string, externalPort int) string {
	return fmt.Sprintf("%s/%d", protocol, externalPort)
}

// NewNATPMPMapper discovers and creates a NAT-PMP mapper.
// This is a convenience wrapper around NewNATPMPMapperContext using context.Background().
func NewNATPMPMapper() (*NATPMPMapper, error) {
	return NewNATPMPMapperContext(context.Background())
}

// NewNATPMPMapperContext discovers the host's gateway pairs and creates a mapper
// for the first gateway that answers NAT-PMP.
func NewNATPMPMapperContext(ctx context.Context, opts ...Option) (*NATPMPMapper, error) {
	pairs, err := NewDiscoverer(opts...).Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("NAT-PMP gateway discovery failed: %w", err)
	}
	return newNATPMPMapperForPairs(ctx, pairs)
}

// newNATPMPMapperForPairs tries each pair in order, moving on when its gateway
// does not answer.
func newNATPMPMapperForPairs(ctx context.Context, pairs []GatewayPair) (*NATPMPMapper, error) {
	if len(pairs) == 0 {
		return nil, ErrNoGateway
	}

	var errs []error
	for _, pair := range pairs {
		// Check context between attempts
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled: %w", err)
		}

		client := newNATPMPClient(pair.Gateway)

		// Test connectivity
		if _, err := client.GetExternalAddress(); err != nil {
			slog.Debug("NAT-PMP gateway did not answer",
				"local", pair.Local,
				"gateway", pair.Gateway,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", pair.Gateway, err))
			continue
		}

		return &NATPMPMapper{client: client, pair: pair}, nil
	}

	return nil, fmt.Errorf("NAT-PMP connectivity test failed: %w", errors.Join(errs...))
}

// Pair returns the (local, gateway) pair the mapper talks through.
func (n *NATPMPMapper) Pair() GatewayPair {
	return n.pair
}

// MapPort creates a port mapping via NAT-PMP.
func (n *NATPMPMapper) MapPort(protocol string, internalPort int, duration time.Duration) (int, error) {
	// Validate port range to prevent invalid mappings
	if internalPort < 1 || internalPort > 65535 {
		return 0, fmt.Errorf("invalid port number: %d (must be 1-65535)", internalPort)
	}

	protocolStr, err := natpmpProtocol(protocol)
	if err != nil {
		return 0, err
	}

	result, err := n.client.AddPortMapping(
		protocolStr,
		internalPort,
		internalPort,
		int(duration.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}

	externalPort := int(result.MappedExternalPort)
	n.mu.Lock()
	if n.internalPorts == nil {
		n.internalPorts = make(map[string]int)
	}
	n.internalPorts[mappingKey(protocolStr, externalPort)] = internalPort
	n.mu.Unlock()

	return externalPort, nil
}

// UnmapPort removes a port mapping via NAT-PMP.
// Deletion is a request for the mapping's internal port with a zero external
// port and zero lifetime. Ports this mapper did not create are assumed to be
// mapped 1:1.
func (n *NATPMPMapper) UnmapPort(protocol string, externalPort int) error {
	// Validate port range to prevent invalid unmappings
	if externalPort < 1 || externalPort > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", externalPort)
	}

	protocolStr, err := natpmpProtocol(protocol)
	if err != nil {
		return err
	}

	key := mappingKey(protocolStr, externalPort)
	n.mu.Lock()
	internalPort, ok := n.internalPorts[key]
	n.mu.Unlock()
	if !ok {
		internalPort = externalPort
	}

	if _, err := n.client.AddPortMapping(protocolStr, internalPort, 0, 0); err != nil {
		return fmt.Errorf("NAT-PMP port unmapping failed: %w", err)
	}

	n.mu.Lock()
	delete(n.internalPorts, key)
	n.mu.Unlock()
	return nil
}

// GetExternalIP returns the external IP address via NAT-PMP.
func (n *NATPMPMapper) GetExternalIP() (string, error) {
	result, err := n.client.GetExternalAddress()
	if err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	ip := net.IPv4(result.ExternalIPAddress[0], result.ExternalIPAddress[1],
		result.ExternalIPAddress[2], result.ExternalIPAddress[3])
	return ip.String(), nil
}

// natpmpProtocol normalizes a protocol name to the lowercase form NAT-PMP expects.
func natpmpProtocol(protocol string) (string, error) {
	switch strings.ToUpper(protocol) {
	case "TCP":
		return "tcp", nil
	case "UDP":
		return "udp", nil
	default:
		return "", fmt.Errorf("unsupported protocol: %s", protocol)
	}
}
