//go:build windows

package nattraversal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

// adapterFlags asks for gateways and skips everything discovery does not read.
const adapterFlags = windows.GAA_FLAG_INCLUDE_GATEWAYS |
	windows.GAA_FLAG_SKIP_DNS_SERVER |
	windows.GAA_FLAG_SKIP_MULTICAST |
	windows.GAA_FLAG_SKIP_ANYCAST |
	windows.GAA_FLAG_SKIP_FRIENDLY_NAME

// discover walks the adapter list and pairs each adapter's addresses with its gateways.
func (d *Discoverer) discover(ctx context.Context) ([]GatewayPair, error) {
	adapters, err := walkAdapters()
	if err != nil {
		return nil, err
	}
	return PairAdapters(adapters), nil
}

// walkAdapters copies the operationally up IPv4 adapters out of GetAdaptersAddresses.
// Returns nil, nil if the API reports no data or fails.
func walkAdapters() ([]AdapterRecord, error) {
	buf, err := fetchGrowingBuffer(adapterBufferChunk, adapterBufferChunk, getAdaptersAddresses)
	if err != nil {
		slog.Debug("adapter enumeration unavailable", "error", err)
		return nil, nil
	}

	var adapters []AdapterRecord
	for aa := (*windows.IpAdapterAddresses)(unsafe.Pointer(&buf[0])); aa != nil; aa = aa.Next {
		if aa.OperStatus != windows.IfOperStatusUp {
			continue
		}
		adapters = append(adapters, copyAdapter(aa))
	}
	return adapters, nil
}

func getAdaptersAddresses(buf []byte, size *uint32) error {
	err := windows.GetAdaptersAddresses(windows.AF_INET, adapterFlags, 0,
		(*windows.IpAdapterAddresses)(unsafe.Pointer(&buf[0])), size)
	if errors.Is(err, windows.ERROR_BUFFER_OVERFLOW) {
		return errBufferTooSmall
	}
	return err
}

// copyAdapter reads everything discovery needs while the buffer is alive.
func copyAdapter(aa *windows.IpAdapterAddresses) AdapterRecord {
	rec := AdapterRecord{
		Name: windows.BytePtrToString(aa.AdapterName),
		Up:   aa.OperStatus == windows.IfOperStatusUp,
	}
	for ua := aa.FirstUnicastAddress; ua != nil; ua = ua.Next {
		if ip, ok := sockaddrIPv4(ua.Address); ok {
			rec.Unicast = append(rec.Unicast, ip)
		}
	}
	for ga := aa.FirstGatewayAddress; ga != nil; ga = ga.Next {
		if ip, ok := sockaddrIPv4(ga.Address); ok {
			rec.Gateways = append(rec.Gateways, ip)
		}
	}
	return rec
}

// sockaddrIPv4 extracts the address of an AF_INET socket address, rejecting
// entries whose length does not match a sockaddr_in.
func sockaddrIPv4(sa windows.SocketAddress) (net.IP, bool) {
	if sa.Sockaddr == nil ||
		sa.Sockaddr.Addr.Family != windows.AF_INET ||
		sa.SockaddrLength != int32(unsafe.Sizeof(windows.RawSockaddrInet4{})) {
		return nil, false
	}
	raw := (*windows.RawSockaddrInet4)(unsafe.Pointer(sa.Sockaddr))
	// Addr holds the address in network byte order.
	return net.IPv4(raw.Addr[0], raw.Addr[1], raw.Addr[2], raw.Addr[3]).To4(), true
}
