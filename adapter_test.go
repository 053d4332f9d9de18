package nattraversal

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ips(addrs ...string) []net.IP {
	out := make([]net.IP, len(addrs))
	for i, a := range addrs {
		out[i] = net.ParseIP(a).To4()
	}
	return out
}

func pairStrings(pairs []GatewayPair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.String()
	}
	return out
}

func TestPairAdapters(t *testing.T) {
	t.Run("Every address gets the gateway", func(t *testing.T) {
		adapters := []AdapterRecord{{
			Name:     "{eth}",
			Up:       true,
			Unicast:  ips("10.0.0.5", "10.0.0.6"),
			Gateways: ips("10.0.0.1"),
		}}

		assert.Equal(t, []string{
			"10.0.0.5 -> 10.0.0.1",
			"10.0.0.6 -> 10.0.0.1",
		}, pairStrings(PairAdapters(adapters)))
	})

	t.Run("Cross product is unicast-major", func(t *testing.T) {
		adapters := []AdapterRecord{{
			Up:       true,
			Unicast:  ips("10.0.0.5", "10.0.0.6", "10.0.0.7"),
			Gateways: ips("10.0.0.1", "10.0.0.2"),
		}}

		pairs := PairAdapters(adapters)
		require.Len(t, pairs, 6)
		assert.Equal(t, []string{
			"10.0.0.5 -> 10.0.0.1",
			"10.0.0.5 -> 10.0.0.2",
			"10.0.0.6 -> 10.0.0.1",
			"10.0.0.6 -> 10.0.0.2",
			"10.0.0.7 -> 10.0.0.1",
			"10.0.0.7 -> 10.0.0.2",
		}, pairStrings(pairs))
	})

	t.Run("Down adapters contribute nothing", func(t *testing.T) {
		adapters := []AdapterRecord{
			{Up: false, Unicast: ips("192.168.1.5"), Gateways: ips("192.168.1.1")},
			{Up: true, Unicast: ips("10.0.0.5"), Gateways: ips("10.0.0.1")},
		}

		assert.Equal(t, []string{"10.0.0.5 -> 10.0.0.1"}, pairStrings(PairAdapters(adapters)))
	})

	t.Run("Adapters without gateways or addresses", func(t *testing.T) {
		adapters := []AdapterRecord{
			{Up: true, Unicast: ips("10.0.0.5")},
			{Up: true, Gateways: ips("10.0.0.1")},
		}
		assert.Empty(t, PairAdapters(adapters))
	})

	t.Run("Adapter order is preserved", func(t *testing.T) {
		adapters := []AdapterRecord{
			{Up: true, Unicast: ips("10.1.0.5"), Gateways: ips("10.1.0.1")},
			{Up: true, Unicast: ips("10.2.0.5"), Gateways: ips("10.2.0.1")},
		}
		assert.Equal(t, []string{
			"10.1.0.5 -> 10.1.0.1",
			"10.2.0.5 -> 10.2.0.1",
		}, pairStrings(PairAdapters(adapters)))
	})
}

func TestFetchGrowingBuffer(t *testing.T) {
	t.Run("First call succeeds", func(t *testing.T) {
		calls := 0
		buf, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			calls++
			buf[0] = 0xAA
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Len(t, buf, 100)
		assert.Equal(t, byte(0xAA), buf[0])
	})

	t.Run("Grows strictly until large enough", func(t *testing.T) {
		const required = 320
		var sizes []int
		buf, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			sizes = append(sizes, len(buf))
			if len(buf) < required {
				return errBufferTooSmall
			}
			buf[len(buf)-1] = 0x01
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{100, 150, 200, 250, 300, 350}, sizes)
		assert.Len(t, buf, 350)
		assert.Equal(t, byte(0x01), buf[349], "the buffer of the successful call is returned")
	})

	t.Run("Reported size is honoured", func(t *testing.T) {
		var sizes []int
		_, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			sizes = append(sizes, len(buf))
			if len(buf) < 1000 {
				*size = 1000
				return errBufferTooSmall
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{100, 1050}, sizes)
	})

	t.Run("Shrinking report still grows", func(t *testing.T) {
		var sizes []int
		_, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			sizes = append(sizes, len(buf))
			if len(sizes) < 3 {
				*size = 10
				return errBufferTooSmall
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{100, 150, 200}, sizes)
	})

	t.Run("Hard error stops immediately", func(t *testing.T) {
		hard := errors.New("no data")
		calls := 0
		buf, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			calls++
			return hard
		})
		assert.ErrorIs(t, err, hard)
		assert.Nil(t, buf)
		assert.Equal(t, 1, calls)
	})

	t.Run("Attempts are capped", func(t *testing.T) {
		calls := 0
		_, err := fetchGrowingBuffer(100, 50, func(buf []byte, size *uint32) error {
			calls++
			return errBufferTooSmall
		})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, errBufferTooSmall)
		assert.Equal(t, maxBufferAttempts, calls)
	})
}
