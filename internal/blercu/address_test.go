package blercu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr Address
	}{
		{"typical", Address{Bytes: [6]byte{0x1C, 0xA2, 0xB1, 0x00, 0x11, 0x22}}},
		{"all zero bytes except one", Address{Bytes: [6]byte{0, 0, 0, 0, 0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseAddress(tt.addr.String())
			require.True(t, ok)
			assert.Equal(t, tt.addr, parsed)
		})
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, s := range []string{"", "not-an-address", "1C:A2:B1:00:11", "GG:A2:B1:00:11:22"} {
		_, ok := ParseAddress(s)
		assert.False(t, ok, "expected %q to be rejected", s)
	}
}

func TestAddressIsNull(t *testing.T) {
	assert.True(t, Address{}.IsNull())
	assert.True(t, Address{Bytes: [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}.IsNull())
	assert.False(t, Address{Bytes: [6]byte{0, 0, 0, 0, 0, 1}}.IsNull())
}

func TestOUIExtraction(t *testing.T) {
	addr, ok := ParseAddress("1C:A2:B1:00:11:22")
	require.True(t, ok)

	oui := addr.OUI()
	assert.Equal(t, "1C:A2:B1", oui.String())

	// Round-trip property from spec §8: oui(x) = (toU64(x) >> 24) & 0xFFFFFF.
	assert.Equal(t, OUI((addr.ToU64()>>24)&0xFFFFFF), oui)
}

func TestParseOUI(t *testing.T) {
	oui, ok := ParseOUI("1C:A2:B1")
	require.True(t, ok)
	assert.Equal(t, "1C:A2:B1", oui.String())

	_, ok = ParseOUI("bad")
	assert.False(t, ok)
}

func TestChecksumByte(t *testing.T) {
	addr := Address{Bytes: [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}}
	assert.Equal(t, byte(0x01+0x02+0x03+0x04+0x05+0x06), addr.ChecksumByte())
}
