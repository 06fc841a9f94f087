package blercu

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 48-bit Bluetooth device address (BDADDR).
//
// Bytes are stored MSB-first (Bytes[0] is the top octet of the textual form
// "AA:BB:CC:DD:EE:FF"), which keeps String and the OUI extraction trivial.
type Address struct {
	Bytes [6]byte
}

// nullAddress values are never a valid remote device per spec.
var (
	zeroAddress = Address{}
	allFAddress = Address{Bytes: [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}
)

// ParseAddress parses a colon-separated hex address such as "1C:A2:B1:00:11:22".
// It returns false if addrStr is not a well-formed address.
func ParseAddress(addrStr string) (Address, bool) {
	parts := strings.Split(addrStr, ":")
	if len(parts) != 6 {
		return Address{}, false
	}

	var a Address
	for i, part := range parts {
		if len(part) != 2 {
			return Address{}, false
		}
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return Address{}, false
		}
		a.Bytes[i] = byte(b)
	}
	return a, true
}

// AddressFromBytes builds an Address from a raw MSB-first 6-byte value, as
// used when decoding wire formats that already hand back bytes in that
// order (internal/hci's connection-complete parser).
func AddressFromBytes(b [6]byte) Address {
	return Address{Bytes: b}
}

// String renders the address as "AA:BB:CC:DD:EE:FF".
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.Bytes[0], a.Bytes[1], a.Bytes[2], a.Bytes[3], a.Bytes[4], a.Bytes[5])
}

// IsNull reports whether a is one of the two sentinel null addresses.
func (a Address) IsNull() bool {
	return a == zeroAddress || a == allFAddress
}

// OUI returns the 24-bit Organizationally Unique Identifier: the top three
// octets of the address, packed into the low 24 bits of a uint32.
func (a Address) OUI() OUI {
	return OUI(uint32(a.Bytes[0])<<16 | uint32(a.Bytes[1])<<8 | uint32(a.Bytes[2]))
}

// ChecksumByte sums the six address bytes modulo 256, used by the MAC-hash
// pairing-match mode (spec §4.2 processDevice rule 3).
func (a Address) ChecksumByte() byte {
	var sum byte
	for _, b := range a.Bytes {
		sum += b
	}
	return sum
}

// ToU64 packs the address into the low 48 bits of a uint64, MSB-first, so
// that OUI extraction can be expressed as the round-trip property from
// spec §8: oui(x) = (toU64(x) >> 24) & 0xFFFFFF.
func (a Address) ToU64() uint64 {
	var v uint64
	for _, b := range a.Bytes {
		v = v<<8 | uint64(b)
	}
	return v
}

// OUI is the 24-bit vendor prefix of a Bluetooth address, used as the key
// into per-model configuration (pairing name formats, connection parameter
// profiles).
type OUI uint32

// ParseOUI parses a colon-separated 3-byte prefix such as "1C:A2:B1".
func ParseOUI(s string) (OUI, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	var v uint32
	for _, part := range parts {
		if len(part) != 2 {
			return 0, false
		}
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, false
		}
		v = v<<8 | uint32(b)
	}
	return OUI(v), true
}

func (o OUI) String() string {
	return fmt.Sprintf("%02X:%02X:%02X", byte(o>>16), byte(o>>8), byte(o))
}
