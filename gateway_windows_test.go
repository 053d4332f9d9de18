//go:build windows

package nattraversal

import (
	"net"
	"syscall"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/windows"
)

func socketAddress(raw *windows.RawSockaddrInet4, length uintptr) windows.SocketAddress {
	return windows.SocketAddress{
		Sockaddr:       (*syscall.RawSockaddrAny)(unsafe.Pointer(raw)),
		SockaddrLength: int32(length),
	}
}

func TestSockaddrIPv4(t *testing.T) {
	inet4 := &windows.RawSockaddrInet4{Family: windows.AF_INET, Addr: [4]byte{192, 168, 1, 1}}
	size := unsafe.Sizeof(windows.RawSockaddrInet4{})

	ip, ok := sockaddrIPv4(socketAddress(inet4, size))
	assert.True(t, ok)
	assert.True(t, ip.Equal(net.IPv4(192, 168, 1, 1)))

	_, ok = sockaddrIPv4(socketAddress(inet4, size-1))
	assert.False(t, ok, "truncated sockaddr_in")

	inet6 := &windows.RawSockaddrInet4{Family: windows.AF_INET6}
	_, ok = sockaddrIPv4(socketAddress(inet6, size))
	assert.False(t, ok, "wrong family")

	_, ok = sockaddrIPv4(windows.SocketAddress{})
	assert.False(t, ok, "nil sockaddr")
}

func TestWalkAdapters(t *testing.T) {
	adapters, err := walkAdapters()
	assert.NoError(t, err)
	for _, a := range adapters {
		assert.True(t, a.Up, "adapter %s", a.Name)
	}
	t.Logf("discovered %d pairs", len(PairAdapters(adapters)))
}
