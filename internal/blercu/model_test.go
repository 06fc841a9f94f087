package blercu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingNameRegexpTranslatesCPrintfVerbs(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		code       byte
		wantString string
	}{
		// spec §6.4 / configmodelsettings.cpp's documented schema example.
		{"width + hh length modifier", "U%03hhu*", 42, "U042ABC"},
		{"bare hhu", "Pair%hhu", 7, "Pair7"},
		{"hhx hex verb", "U%02hhx*", 0xAB, "Uab123"},
		{"already Go-style, unaffected", "U%03d*", 42, "U042ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ModelProfile{PairingNameFormat: tt.format}
			re, err := m.PairingNameRegexp(tt.code)
			require.NoError(t, err)
			assert.True(t, re.MatchString(tt.wantString), "pattern %q (code %d) should match %q", tt.format, tt.code, tt.wantString)
		})
	}
}

func TestPairingNameRegexpRejectsMismatch(t *testing.T) {
	m := ModelProfile{PairingNameFormat: "U%03hhu*"}
	re, err := m.PairingNameRegexp(42)
	require.NoError(t, err)
	assert.False(t, re.MatchString("U043ABC"))
}

func TestCPrintfToGoVerb(t *testing.T) {
	tests := []struct{ in, want string }{
		{"U%03hhu*", "U%03d*"},
		{"Pair%hhu", "Pair%d"},
		{"U%02hhx*", "U%02x*"},
		{"%llu", "%d"},
		{"no verbs here", "no verbs here"},
		{"literal %% percent", "literal %% percent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cPrintfToGoVerb(tt.in), "input %q", tt.in)
	}
}
