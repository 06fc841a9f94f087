package hci

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventReader struct {
	mu     sync.Mutex
	events []ParsedEvent
	errs   []error
	idx    int
}

func (f *fakeEventReader) ReadEvent() (ParsedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) && f.idx >= len(f.errs) {
		// Block forever rather than spin once the script is exhausted;
		// the test stops the monitor before this matters. The lock is
		// held for the rest of the process's life, which is fine: no
		// other goroutine calls ReadEvent concurrently in this test.
		select {}
	}
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return ParsedEvent{}, f.errs[i]
	}
	if i < len(f.events) {
		return f.events[i], nil
	}
	return ParsedEvent{}, errors.New("exhausted")
}

func TestMonitorPostsParsedEvents(t *testing.T) {
	reader := &fakeEventReader{
		events: []ParsedEvent{
			{ConnComplete: &ConnectionComplete{Handle: 1}},
			{Ignored: true},
			{Disconnection: &DisconnectionComplete{Handle: 1}},
		},
		errs: []error{nil, nil, nil},
	}

	var mu sync.Mutex
	var handled []ParsedEvent
	m := NewMonitor(reader, logrus.NewEntry(logrus.New()), func(fn func()) { fn() }, func(ev ParsedEvent) {
		mu.Lock()
		handled = append(handled, ev)
		mu.Unlock()
	})

	go m.Run()
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotNil(t, handled[0].ConnComplete)
	assert.NotNil(t, handled[1].Disconnection)
}

func TestMonitorExitsAfterConsecutiveParseErrors(t *testing.T) {
	errs := make([]error, maxConsecutiveParseErrors)
	for i := range errs {
		errs[i] = &ParseError{Reason: "bad frame"}
	}
	reader := &fakeEventReader{errs: errs}

	done := make(chan struct{})
	m := NewMonitor(reader, logrus.NewEntry(logrus.New()), func(fn func()) { fn() }, func(ParsedEvent) {})
	go func() {
		m.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit after consecutive parse errors")
	}
}
