package nattraversal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	for input, expected := range map[string]Method{
		"":       MethodAuto,
		"auto":   MethodAuto,
		"UPnP":   MethodUPnP,
		"natpmp": MethodNATPMP,
	} {
		m, err := ParseMethod(input)
		require.NoError(t, err, "ParseMethod(%q)", input)
		assert.Equal(t, expected, m)
	}

	_, err := ParseMethod("pcp")
	assert.Error(t, err)
}

func TestNewPortMapperWithMethod(t *testing.T) {
	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		mapper, err := NewPortMapperWithMethod(ctx, MethodAuto)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, mapper)
	})

	t.Run("Unknown method", func(t *testing.T) {
		mapper, err := NewPortMapperWithMethod(context.Background(), Method("pcp"))
		assert.Error(t, err)
		assert.Nil(t, mapper)
	})
}

func TestPortMapperImplementations(t *testing.T) {
	var _ PortMapper = (*NATPMPMapper)(nil)
	var _ PortMapper = (*UPnPMapper)(nil)
	var _ PortMapper = (*fakeMapper)(nil)
}
