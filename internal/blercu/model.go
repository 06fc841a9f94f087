package blercu

import (
	"fmt"
	"regexp"
)

// cPrintfVerb matches a single C printf conversion: flags, width,
// precision, an optional length modifier (hh/h/ll/l/j/z/t/L), then the
// conversion character itself.
var cPrintfVerb = regexp.MustCompile(`%([-+ #0]*)(\d*)(\.\d+)?(?:hh|h|ll|l|j|z|t|L)?([duxXosc%])`)

// cPrintfToGoVerb translates a C-style printf pattern (as config files
// carry per spec §6.4, e.g. "U%03hhu*" from
// configmodelsettings.cpp's documented schema) into one fmt.Sprintf can
// render: length modifiers (hh/h/ll/l/j/z/t/L) have no Go equivalent and
// are simply dropped, and 'u' (unsigned decimal, not a Go verb) becomes
// 'd' — fmt.Sprintf("%d", someByte) already renders an unsigned byte
// correctly. Sprintf'ing the format as-is would instead render
// "%!h(uint8=...)hu" for every %hhu in the config.
func cPrintfToGoVerb(pattern string) string {
	return cPrintfVerb.ReplaceAllStringFunc(pattern, func(verb string) string {
		m := cPrintfVerb.FindStringSubmatch(verb)
		flags, width, prec, conv := m[1], m[2], m[3], m[4]
		if conv == "u" {
			conv = "d"
		}
		return "%" + flags + width + prec + conv
	})
}

// ServiceTransport is the transport a model's RCU services are exposed over.
// Out of scope here beyond bookkeeping (spec §1): actual GATT/D-Bus service
// wrappers are external collaborators.
type ServiceTransport string

const (
	ServiceTransportDBus ServiceTransport = "dbus"
	ServiceTransportGATT ServiceTransport = "gatt"
)

// ServiceMask is a bitmask of the RCU services a model supports.
type ServiceMask uint32

const (
	ServiceAudio ServiceMask = 1 << iota
	ServiceInfrared
	ServiceUpgrade
	ServiceBattery
	ServiceFindMe
)

// ModelProfile is per-RCU-model configuration, derived once from config at
// startup (spec §3).
type ModelProfile struct {
	Name         string
	Manufacturer string
	OUI          OUI
	Disabled     bool

	// PairingNameFormat is a printf pattern taking one byte (the pairing
	// code), e.g. "U%03d*" — it is rendered then compiled to an exact-match
	// regex per pairing attempt (spec §4.2).
	PairingNameFormat string

	// ScanNameFormat is a shell-wildcard pattern matching any device of
	// this model while it is advertising in pairing mode (spec §4.3), e.g.
	// "BLERemote-Pair*".
	ScanNameFormat string

	FilterBytes []byte
	Transport   ServiceTransport
	Services    ServiceMask

	// ConnectionParams is the desired link profile for this OUI (spec §4.4).
	// Nil means the enforcer does not manage connections from this OUI.
	ConnectionParams *ConnectionParameters
}

// SupportsFilterByte reports whether b is accepted by this model: 0 is
// always accepted (spec §4.1 "filter byte is 0 or in the configured
// supported set").
func (m ModelProfile) SupportsFilterByte(b byte) bool {
	if b == 0 {
		return true
	}
	for _, fb := range m.FilterBytes {
		if fb == b {
			return true
		}
	}
	return false
}

// PairingNameRegexp renders PairingNameFormat with the given pairing code
// and compiles it into an exact-match regex.
func (m ModelProfile) PairingNameRegexp(pairingCode byte) (*regexp.Regexp, error) {
	rendered := fmt.Sprintf(cPrintfToGoVerb(m.PairingNameFormat), pairingCode)
	return compileExactMatch(wildcardToRegexp(rendered))
}

// ScanNameRegexp compiles ScanNameFormat, the broad "any device of this
// model in pairing mode" matcher used by ScannerStateMachine (spec §4.3).
func (m ModelProfile) ScanNameRegexp() (*regexp.Regexp, error) {
	return compileExactMatch(wildcardToRegexp(m.ScanNameFormat))
}

// wildcardToRegexp converts a shell-style wildcard ('*' any run, '?' any
// one character) into a regexp source, escaping everything else.
func wildcardToRegexp(pattern string) string {
	out := make([]byte, 0, len(pattern)*2)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			out = append(out, '.', '*')
		case '?':
			out = append(out, '.')
		default:
			if isRegexpMeta(c) {
				out = append(out, '\\')
			}
			out = append(out, c)
		}
	}
	return string(out)
}

func isRegexpMeta(c byte) bool {
	switch c {
	case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
		return true
	default:
		return false
	}
}

func compileExactMatch(source string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + source + "$")
}
