// Package hci implements the framed HCI command/event transport consumed by
// the connection-parameter enforcer through Monitor's read loop (spec
// §4.5/§6.2); no LE-scan telemetry consumer is implemented here. Grounded on the deleted teacher bluetooth package's
// wire-handling idiom and on original_source/daemon/source/utils/hcisocket.cpp
// for the exact struct layouts and ioctl numbers.
package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

// Packet types (spec §6.2).
const (
	PacketTypeCommand = 0x01
	PacketTypeACLData  = 0x02
	PacketTypeSCOData  = 0x03
	PacketTypeEvent    = 0x04
)

// Event codes this socket cares about.
const (
	EventDisconnectionComplete = 0x05
	EventLEMeta                = 0x3E
)

// LE_META_EVENT subevents.
const (
	SubeventLEConnectionComplete       = 0x01
	SubeventLEConnectionUpdateComplete = 0x03
)

// Command group/field codes for LE_CONN_UPDATE.
const (
	ogfLEControl       = 0x08
	ocfLEConnUpdate    = 0x0013
)

// leConnUpdateOpcode is (ogf<<10)|ocf per spec §6.2.
const leConnUpdateOpcode = uint16(ogfLEControl<<10) | ocfLEConnUpdate

// Scale factors from spec §4.5/§6.2.
const (
	intervalUnitMs = 1.25
	supvUnitMs     = 10.0
)

// DisconnectionComplete is the parsed DISCONN_COMPLETE payload.
type DisconnectionComplete struct {
	Status uint8
	Handle uint16
	Reason uint8
}

// ConnectionComplete is the parsed LE_CONN_COMPLETE subevent payload,
// with interval/supervisionTimeout already converted to milliseconds.
type ConnectionComplete struct {
	Status  uint8
	Handle  uint16
	Address blercu.Address
	Params  blercu.ConnectionParameters
}

// ConnectionUpdateComplete is the parsed LE_CONN_UPDATE_COMPLETE payload.
type ConnectionUpdateComplete struct {
	Status uint8
	Handle uint16
	Params blercu.ConnectionParameters
}

// ParseError is returned for any malformed frame; the caller counts and
// drops these per spec §7 ("HCI parsing failures are counted and dropped").
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "hci: " + e.Reason }

// ParsedEvent is the sum type emitted by ParseEventFrame: exactly one of
// Disconnection, ConnComplete, ConnUpdateComplete is non-nil, or Ignored is
// true for an event this socket didn't subscribe to (should not occur once
// the kernel-side filter is installed, but parsing defends against it).
type ParsedEvent struct {
	Disconnection    *DisconnectionComplete
	ConnComplete     *ConnectionComplete
	ConnUpdateComplete *ConnectionUpdateComplete
	Ignored          bool
}

// ParseEventFrame parses one `[type:u8][event:u8][plen:u8][payload]` frame
// read from the socket (spec §6.2). It validates lengths at every layer and
// returns a *ParseError rather than panicking on a short/malformed buffer.
func ParseEventFrame(frame []byte) (ParsedEvent, error) {
	if len(frame) < 3 {
		return ParsedEvent{}, &ParseError{Reason: fmt.Sprintf("frame too short: %d bytes", len(frame))}
	}
	if frame[0] != PacketTypeEvent {
		return ParsedEvent{}, &ParseError{Reason: fmt.Sprintf("unexpected packet type 0x%02x", frame[0])}
	}
	event := frame[1]
	plen := int(frame[2])
	payload := frame[3:]
	if len(payload) < plen {
		return ParsedEvent{}, &ParseError{Reason: fmt.Sprintf("truncated payload: want %d got %d", plen, len(payload))}
	}
	payload = payload[:plen]

	switch event {
	case EventDisconnectionComplete:
		return parseDisconnectionComplete(payload)
	case EventLEMeta:
		return parseLEMeta(payload)
	default:
		return ParsedEvent{Ignored: true}, nil
	}
}

func parseDisconnectionComplete(payload []byte) (ParsedEvent, error) {
	if len(payload) < 4 {
		return ParsedEvent{}, &ParseError{Reason: "DISCONN_COMPLETE payload too short"}
	}
	return ParsedEvent{Disconnection: &DisconnectionComplete{
		Status: payload[0],
		Handle: binary.LittleEndian.Uint16(payload[1:3]),
		Reason: payload[3],
	}}, nil
}

func parseLEMeta(payload []byte) (ParsedEvent, error) {
	if len(payload) < 1 {
		return ParsedEvent{}, &ParseError{Reason: "LE_META_EVENT payload too short"}
	}
	sub := payload[0]
	body := payload[1:]
	switch sub {
	case SubeventLEConnectionComplete:
		return parseLEConnectionComplete(body)
	case SubeventLEConnectionUpdateComplete:
		return parseLEConnectionUpdateComplete(body)
	default:
		return ParsedEvent{Ignored: true}, nil
	}
}

// parseLEConnectionComplete parses the 18-byte LE_CONN_COMPLETE body:
// status:u8, handle:u16, role:u8, peerAddrType:u8, peerAddr:[6]u8 LSB-first,
// interval:u16, latency:u16, supvTimeout:u16, mca:u8.
func parseLEConnectionComplete(b []byte) (ParsedEvent, error) {
	const wantLen = 1 + 2 + 1 + 1 + 6 + 2 + 2 + 2 + 1
	if len(b) < wantLen {
		return ParsedEvent{}, &ParseError{Reason: fmt.Sprintf("LE_CONN_COMPLETE too short: %d bytes", len(b))}
	}
	handle := binary.LittleEndian.Uint16(b[1:3])
	addr := addressFromLSBBytes(b[5:11])
	rawInterval := binary.LittleEndian.Uint16(b[11:13])
	latency := binary.LittleEndian.Uint16(b[13:15])
	rawSupv := binary.LittleEndian.Uint16(b[15:17])

	return ParsedEvent{ConnComplete: &ConnectionComplete{
		Status:  b[0],
		Handle:  handle,
		Address: addr,
		Params: blercu.ConnectionParameters{
			MinIntervalMs:        float64(rawInterval) * intervalUnitMs,
			MaxIntervalMs:        float64(rawInterval) * intervalUnitMs,
			Latency:              latency,
			SupervisionTimeoutMs: rawSupv * uint16(supvUnitMs),
		},
	}}, nil
}

// parseLEConnectionUpdateComplete parses the 9-byte LE_CONN_UPDATE_COMPLETE
// body: status:u8, handle:u16, interval:u16, latency:u16, supvTimeout:u16.
func parseLEConnectionUpdateComplete(b []byte) (ParsedEvent, error) {
	const wantLen = 1 + 2 + 2 + 2 + 2
	if len(b) < wantLen {
		return ParsedEvent{}, &ParseError{Reason: fmt.Sprintf("LE_CONN_UPDATE_COMPLETE too short: %d bytes", len(b))}
	}
	handle := binary.LittleEndian.Uint16(b[1:3])
	rawInterval := binary.LittleEndian.Uint16(b[3:5])
	latency := binary.LittleEndian.Uint16(b[5:7])
	rawSupv := binary.LittleEndian.Uint16(b[7:9])

	return ParsedEvent{ConnUpdateComplete: &ConnectionUpdateComplete{
		Status: b[0],
		Handle: handle,
		Params: blercu.ConnectionParameters{
			MinIntervalMs:        float64(rawInterval) * intervalUnitMs,
			MaxIntervalMs:        float64(rawInterval) * intervalUnitMs,
			Latency:              latency,
			SupervisionTimeoutMs: rawSupv * uint16(supvUnitMs),
		},
	}}, nil
}

// addressFromLSBBytes converts the wire's LSB-first 6-byte address into the
// MSB-first Address form used throughout internal/blercu.
func addressFromLSBBytes(b []byte) blercu.Address {
	var rev [6]byte
	for i := 0; i < 6; i++ {
		rev[i] = b[5-i]
	}
	return blercu.AddressFromBytes(rev)
}

// addressToLSBBytes is the inverse of addressFromLSBBytes, used when this
// package itself needs to emit an address on the wire (it currently does
// not, since only the command path writes to the socket and LE_CONN_UPDATE
// carries no address — kept for symmetry/documentation of the convention).
func addressToLSBBytes(a blercu.Address) [6]byte {
	var rev [6]byte
	for i := 0; i < 6; i++ {
		rev[i] = a.Bytes[5-i]
	}
	return rev
}

// ConnUpdateRequest is the validated argument set for requestConnectionUpdate.
type ConnUpdateRequest struct {
	Handle             uint16
	MinIntervalMs      float64
	MaxIntervalMs      float64
	Latency            uint16
	SupervisionTimeoutMs uint16
}

// Validate applies the exact bound set from spec §4.5 to the raw HCI units
// (not the millisecond-scaled ones), so the arithmetic here matches the spec
// text literally rather than reusing blercu.ConnectionParameters.Validate's
// millisecond form.
func (r ConnUpdateRequest) Validate() error {
	minInt := r.rawMinInterval()
	maxInt := r.rawMaxInterval()
	supv := r.rawSupervisionTimeout()

	if minInt > maxInt {
		return fmt.Errorf("minInterval %d > maxInterval %d", minInt, maxInt)
	}
	if minInt < 6 {
		return fmt.Errorf("minInterval %d below minimum 6", minInt)
	}
	if maxInt > 3200 {
		return fmt.Errorf("maxInterval %d exceeds maximum 3200", maxInt)
	}
	if supv < 10 || supv > 3200 {
		return fmt.Errorf("supervisionTimeout %d out of range [10, 3200]", supv)
	}
	if uint32(maxInt) >= uint32(supv)*8 {
		return fmt.Errorf("maxInterval %d not less than supervisionTimeout*8 (%d)", maxInt, uint32(supv)*8)
	}
	if r.Latency > 499 {
		return fmt.Errorf("latency %d exceeds maximum 499", r.Latency)
	}
	maxLatency := uint32(supv)*8/uint32(maxInt) - 1
	if uint32(r.Latency) > maxLatency {
		return fmt.Errorf("latency %d exceeds supervisionTimeout-derived maximum %d", r.Latency, maxLatency)
	}
	return nil
}

func (r ConnUpdateRequest) rawMinInterval() uint16      { return uint16(r.MinIntervalMs / intervalUnitMs) }
func (r ConnUpdateRequest) rawMaxInterval() uint16      { return uint16(r.MaxIntervalMs / intervalUnitMs) }
func (r ConnUpdateRequest) rawSupervisionTimeout() uint16 { return uint16(r.SupervisionTimeoutMs / supvUnitMs) }

// marshalCommand encodes the full command packet (spec §6.2):
// [type=0x01][opcode:u16][plen:u8][payload], payload being handle, minInt,
// maxInt, latency, supvTimeout, minCE, maxCE (minCE/maxCE fixed at 0, no
// connection-event-length preference).
func (r ConnUpdateRequest) marshalCommand() []byte {
	payload := make([]byte, 14)
	binary.LittleEndian.PutUint16(payload[0:2], r.Handle)
	binary.LittleEndian.PutUint16(payload[2:4], r.rawMinInterval())
	binary.LittleEndian.PutUint16(payload[4:6], r.rawMaxInterval())
	binary.LittleEndian.PutUint16(payload[6:8], r.Latency)
	binary.LittleEndian.PutUint16(payload[8:10], r.rawSupervisionTimeout())
	binary.LittleEndian.PutUint16(payload[10:12], 0) // minCE
	binary.LittleEndian.PutUint16(payload[12:14], 0) // maxCE

	pkt := make([]byte, 0, 4+len(payload))
	pkt = append(pkt, PacketTypeCommand)
	pkt = binary.LittleEndian.AppendUint16(pkt, leConnUpdateOpcode)
	pkt = append(pkt, byte(len(payload)))
	pkt = append(pkt, payload...)
	return pkt
}
