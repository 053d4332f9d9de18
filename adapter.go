package nattraversal

import (
	"errors"
	"fmt"
	"net"
)

// AdapterRecord is an owned copy of one OS network adapter.
type AdapterRecord struct {
	Name     string
	Up       bool
	Unicast  []net.IP
	Gateways []net.IP
}

// PairAdapters pairs each unicast address of an up adapter with each of its
// gateways, unicast-major. Adapters that are not up contribute nothing.
func PairAdapters(adapters []AdapterRecord) []GatewayPair {
	var pairs []GatewayPair
	for _, a := range adapters {
		if !a.Up {
			continue
		}
		for _, local := range a.Unicast {
			for _, gw := range a.Gateways {
				pairs = append(pairs, GatewayPair{Local: local, Gateway: gw})
			}
		}
	}
	return pairs
}

// errBufferTooSmall is returned by a fetch call to ask for a larger buffer.
var errBufferTooSmall = errors.New("buffer too small")

// fetchGrowingBuffer calls fetch with a buffer of the given size, growing it by
// step while fetch reports errBufferTooSmall. fetch may raise *size to the size
// the OS asked for; the next attempt is always strictly larger than the last.
// The buffer of the successful call is returned.
func fetchGrowingBuffer(initial, step uint32, fetch func(buf []byte, size *uint32) error) ([]byte, error) {
	size := initial
	for attempt := 1; attempt <= maxBufferAttempts; attempt++ {
		buf := make([]byte, size)
		requested := size

		err := fetch(buf, &size)
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, errBufferTooSmall) {
			return nil, err
		}

		if size < requested {
			size = requested
		}
		size += step
	}
	return nil, fmt.Errorf("buffer still too small after %d attempts (%d bytes)", maxBufferAttempts, size)
}
