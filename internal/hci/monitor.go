package hci

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// EventReader is the read side of a Socket, narrowed for Monitor so tests
// can drive it with a channel-backed fake instead of a kernel socket.
type EventReader interface {
	ReadEvent() (ParsedEvent, error)
}

// Monitor runs the "separate kernel-I/O thread" from spec §5: it owns a
// dedicated goroutine that reads the socket in a loop, does the minimal
// parsing (already done by ReadEvent), and posts each parsed event onto the
// control-plane thread via handle. Cross-thread handoff is exactly the
// channel/closure handoff post provides — there is no shared mutable state
// beyond it, matching the spec's "thread-safe queue, no shared mutable
// state beyond that queue."
//
// Parsing failures are counted; per spec §7, after 10 consecutive failures
// the thread exits rather than spinning on a socket the kernel has
// effectively closed out from under it.
type Monitor struct {
	reader EventReader
	log    *logrus.Entry
	post   func(func())
	handle func(ParsedEvent)

	done chan struct{}
}

// NewMonitor builds a Monitor. handle is invoked (via post, so on the
// control-plane thread) for every successfully parsed event.
func NewMonitor(reader EventReader, log *logrus.Entry, post func(func()), handle func(ParsedEvent)) *Monitor {
	return &Monitor{
		reader: reader,
		log:    log,
		post:   post,
		handle: handle,
		done:   make(chan struct{}),
	}
}

const maxConsecutiveParseErrors = 10

// Run reads events in a loop until Stop is called or the read side fails
// permanently (10 consecutive parse errors, or a hard read error signalling
// the kernel closed the socket). Run is meant to be launched with `go`.
func (m *Monitor) Run() {
	consecutiveErrors := 0
	for {
		select {
		case <-m.done:
			return
		default:
		}

		ev, err := m.reader.ReadEvent()
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				consecutiveErrors++
				m.log.WithError(err).Warn("dropped malformed HCI event")
				if consecutiveErrors >= maxConsecutiveParseErrors {
					m.log.Error("too many consecutive HCI parse errors, monitor thread exiting")
					return
				}
				continue
			}
			// Any other error (short read, closed fd) is treated as the
			// kernel having closed the socket out from under us: fatal,
			// no retry, per spec §7.
			m.log.WithError(err).Error("HCI socket read failed, monitor thread exiting")
			return
		}
		consecutiveErrors = 0

		if ev.Ignored {
			continue
		}
		m.post(func() { m.handle(ev) })
	}
}

// Stop signals Run to exit after its current read unblocks. Because reads
// on a raw socket don't observe the done channel directly, the caller is
// expected to close the underlying Socket first (spec §5: "signals the
// thread via an event-fd"; here, closing the fd unblocks the pending read
// with an error, which Run treats as fatal and exits).
func (m *Monitor) Stop() {
	close(m.done)
}
