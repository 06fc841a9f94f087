// Package irpairing reads framed pairing-trigger codes from an external
// IR-receiver MCU over a UART and feeds them to the Controller's pairing
// start operations, supplementing the distilled spec with the feature
// present in original_source's daemon/source/irpairing/irpairing.cpp: an
// IR remote key press can itself kick off pairing, without any IPC client
// calling startPairing.
//
// The original decodes a Sky RC-6 scan code (scc/filterByte/commandCode
// packed into one 32-bit value) delivered via a Linux evdev input node.
// This daemon has no evdev input path, so the MCU is expected to frame the
// same three fields directly over a UART instead, read with
// go.bug.st/serial (the teacher's serial dependency, generalized from
// Sphero's serial-port robot control to this simpler fixed-frame protocol).
package irpairing

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Frame layout: [sync=0xAA][mode][filterByte][code]. mode selects which of
// the two pairing trigger variants spec §4.1's startPairing/
// startPairingMacHash corresponds to, mirroring the original's scc field
// (scc==5 meant "pairing code" in the original; this MCU protocol makes
// the variant explicit instead of re-deriving it from an RC-6 subcode).
const (
	syncByte        = 0xAA
	frameSize       = 4
	modePairingCode = 0x00
	modeMacHash     = 0x01
)

// Controller is the subset of blercu.Controller this package drives.
type Controller interface {
	StartPairing(filterByte int, pairingCode byte) error
	StartPairingMacHash(filterByte int, macHash byte) error
}

// Reader owns the serial port and the read loop that decodes IR pairing
// frames from it, analogous to the original's IrPairing object owning the
// evdev input device wrapper.
type Reader struct {
	port       io.ReadCloser
	controller Controller
	log        *logrus.Entry
	done       chan struct{}
}

// Open opens the serial port at the given name/baud and returns a Reader
// ready to Run. A typical portName is "/dev/ttyUSB0" or a platform-specific
// equivalent for the IR-receiver MCU's UART.
func Open(portName string, baud int, controller Controller, log *logrus.Entry) (*Reader, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("irpairing: open %s: %w", portName, err)
	}
	return &Reader{
		port:       port,
		controller: controller,
		log:        log,
		done:       make(chan struct{}),
	}, nil
}

// newReader builds a Reader over an arbitrary io.ReadCloser, for tests that
// want to feed scripted bytes without opening a real serial port.
func newReader(port io.ReadCloser, controller Controller, log *logrus.Entry) *Reader {
	return &Reader{port: port, controller: controller, log: log, done: make(chan struct{})}
}

// Run reads and dispatches frames until the port is closed or Stop is
// called. It is meant to run in its own goroutine, matching the kernel-I/O
// thread model internal/hci.Monitor already establishes for the HCI
// socket: blocking hardware reads live on a dedicated goroutine. Each
// decoded frame is dispatched by calling the Controller's pairing start
// method directly from this goroutine.
func (r *Reader) Run() {
	reader := bufio.NewReader(r.port)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		frame, err := readFrame(reader)
		if err != nil {
			if err == io.EOF {
				return
			}
			r.log.WithError(err).Warn("discarding malformed IR pairing frame")
			continue
		}

		r.dispatch(frame)
	}
}

// Stop closes the underlying port, unblocking any in-flight Read and
// ending Run.
func (r *Reader) Stop() {
	close(r.done)
	r.port.Close()
}

type frame struct {
	mode        byte
	filterByte  byte
	code        byte
}

// readFrame scans for the sync byte and reads the three payload bytes that
// follow it, resynchronizing automatically if the stream starts mid-frame.
func readFrame(r *bufio.Reader) (frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return frame{}, err
		}
		if b != syncByte {
			continue
		}

		payload := make([]byte, frameSize-1)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, err
		}
		return frame{mode: payload[0], filterByte: payload[1], code: payload[2]}, nil
	}
}

func (r *Reader) dispatch(f frame) {
	filterByte := int(f.filterByte)
	var err error
	switch f.mode {
	case modePairingCode:
		err = r.controller.StartPairing(filterByte, f.code)
	case modeMacHash:
		err = r.controller.StartPairingMacHash(filterByte, f.code)
	default:
		r.log.WithField("mode", f.mode).Warn("ignoring IR pairing frame with unknown mode")
		return
	}
	if err != nil {
		r.log.WithError(err).Warn("IR-triggered pairing start rejected")
	}
}
