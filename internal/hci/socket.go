//go:build linux

package hci

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercuerr"
)

// The Bluetooth socket family and the HCI-specific sockopt/ioctl numbers are
// not exposed by golang.org/x/sys/unix (it covers the generic socket API,
// not the Bluetooth subsystem's private address family), so they are
// defined locally, taken verbatim from the kernel's bluetooth.h/hci.h —
// matching original_source/daemon/source/utils/hcisocket.cpp's own
// #define block.
const (
	afBluetooth = 31
	btprotoHCI  = 1

	solHCI    = 0
	hciFilter = 2

	hciChannelRaw = 0

	hciMaxEventSize = 260

	hciGetConnList = 0x800448D4 // _IOR('H', 212, int), pre-computed per Linux's ioctl encoding
)

// hciFilterBytes builds the fourteen-byte hci_ufilter value (type mask,
// two-word event mask, opcode) installed once at open time: it admits only
// event packets whose event code is set in eventMask. ParseEventFrame still
// checks the event and LE subevent codes in software and marks anything else
// as Ignored.
func hciFilterBytes(eventMask uint64) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf[0:4], 1<<PacketTypeEvent)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(eventMask))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(eventMask>>32))
	binary.LittleEndian.PutUint16(buf[12:14], 0) // opcode: no command-complete filtering
	return buf
}

// Socket is a bound, filtered raw HCI socket for one controller (spec
// §4.5). Reads are performed by the owner's I/O goroutine; Socket itself
// holds no internal goroutine, matching the "HciSocket owns one file
// descriptor" resource model in spec §5 (the I/O thread is owned by the
// capture-path caller, e.g. internal/hci's Monitor, not by Socket).
type Socket struct {
	fd    int
	devID int
}

// Open opens and binds a raw HCI socket for the given controller id
// (typically 0 for hci0), installing the event filter described in spec
// §4.5: DISCONN_COMPLETE and LE_META_EVENT only.
func Open(devID int) (*Socket, error) {
	fd, err := unix.Socket(afBluetooth, unix.SOCK_RAW|unix.SOCK_CLOEXEC, btprotoHCI)
	if err != nil {
		return nil, fmt.Errorf("hci: socket: %w", err)
	}

	eventMask := uint64(1)<<EventDisconnectionComplete | uint64(1)<<EventLEMeta
	filter := hciFilterBytes(eventMask)
	if err := setsockoptBytes(fd, solHCI, hciFilter, filter); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hci: setsockopt HCI_FILTER: %w", err)
	}

	if err := bindHCI(fd, devID, hciChannelRaw); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hci: bind: %w", err)
	}

	return &Socket{fd: fd, devID: devID}, nil
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Fd returns the raw descriptor, for an owner that wants to multiplex reads
// on it (e.g. via an event-fd-triggered poll loop, per spec §5's shutdown
// model).
func (s *Socket) Fd() int { return s.fd }

// ReadEvent blocks for the next filtered event frame and parses it.
// Malformed frames are returned as a *ParseError, which the caller is
// expected to log and count, per spec §7.
func (s *Socket) ReadEvent() (ParsedEvent, error) {
	buf := make([]byte, hciMaxEventSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return ParsedEvent{}, fmt.Errorf("hci: read: %w", err)
	}
	return ParseEventFrame(buf[:n])
}

// RequestConnectionUpdate validates req per spec §4.5's constraint set and,
// if valid, submits the LE_CONN_UPDATE command. A rejected request is never
// written to the socket.
func (s *Socket) RequestConnectionUpdate(req ConnUpdateRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("hci: invalid connection update request: %w", err)
	}
	pkt := req.marshalCommand()

	err := blercuerr.RetryWithBackoff(func() error {
		_, writeErr := unix.Write(s.fd, pkt)
		return writeErr
	}, blercuerr.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("hci: write LE_CONN_UPDATE: %w", err)
	}
	return nil
}

// ConnectionInfo is one entry from GetConnectedDevices.
type ConnectionInfo struct {
	Handle   uint16
	Address  [6]byte // LSB-first, as returned by the kernel
	LinkType uint8
	State    uint16
	LinkMode uint32
}

const leLinkType = 0x80

// GetConnectedDevices enumerates current connections via HCIGETCONNLIST
// (spec §4.5's "kernel ioctl-equivalent"), returning only LE links.
func (s *Socket) GetConnectedDevices(maxConns int) ([]ConnectionInfo, error) {
	// hci_conn_list_req { dev_id:u16, conn_num:u16, hci_conn_info[conn_num] }
	// hci_conn_info { handle:u16, bdaddr:[6]u8, type:u8, out:u8, state:u16, link_mode:u32 }
	const connInfoSize = 2 + 6 + 1 + 1 + 2 + 4
	reqSize := 4 + maxConns*connInfoSize
	buf := make([]byte, reqSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.devID))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(maxConns))

	if err := ioctlPointer(s.fd, hciGetConnList, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fmt.Errorf("hci: HCIGETCONNLIST: %w", err)
	}

	count := int(binary.LittleEndian.Uint16(buf[2:4]))
	if count > maxConns {
		count = maxConns
	}

	infos := make([]ConnectionInfo, 0, count)
	for i := 0; i < count; i++ {
		off := 4 + i*connInfoSize
		entry := buf[off : off+connInfoSize]

		var info ConnectionInfo
		info.Handle = binary.LittleEndian.Uint16(entry[0:2])
		copy(info.Address[:], entry[2:8])
		info.LinkType = entry[8]
		info.State = binary.LittleEndian.Uint16(entry[10:12])
		info.LinkMode = binary.LittleEndian.Uint32(entry[12:16])

		if info.LinkType == leLinkType {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// bindHCI constructs the sockaddr_hci {family:u16, dev:u16, channel:u16}
// struct by hand (x/sys/unix has no Sockaddr implementation for
// AF_BLUETOOTH) and issues the bind syscall directly.
func bindHCI(fd, devID, channel int) error {
	var addr struct {
		Family  uint16
		Dev     uint16
		Channel uint16
	}
	addr.Family = afBluetooth
	addr.Dev = uint16(devID)
	addr.Channel = uint16(channel)

	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&addr)), unsafe.Sizeof(addr))
	if errno != 0 {
		return errno
	}
	return nil
}

func setsockoptBytes(fd, level, opt int, value []byte) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(unsafe.Pointer(&value[0])), uintptr(len(value)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlPointer(fd int, req uint, ptr unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(ptr))
	if errno != 0 {
		return errno
	}
	return nil
}
