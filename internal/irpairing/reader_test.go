package irpairing

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	pairingCalls []pairingCall
	macHashCalls []pairingCall
	rejectAll    bool
}

type pairingCall struct {
	filterByte int
	code       byte
}

func (f *fakeController) StartPairing(filterByte int, pairingCode byte) error {
	f.pairingCalls = append(f.pairingCalls, pairingCall{filterByte, pairingCode})
	if f.rejectAll {
		return assert.AnError
	}
	return nil
}

func (f *fakeController) StartPairingMacHash(filterByte int, macHash byte) error {
	f.macHashCalls = append(f.macHashCalls, pairingCall{filterByte, macHash})
	return nil
}

// blockingReadCloser wraps a bytes.Reader and blocks forever once exhausted,
// so Run doesn't spin on repeated io.EOF before Stop is called.
type blockingReadCloser struct {
	r      *bytes.Reader
	closed chan struct{}
}

func newBlockingReadCloser(data []byte) *blockingReadCloser {
	return &blockingReadCloser{r: bytes.NewReader(data), closed: make(chan struct{})}
}

func (b *blockingReadCloser) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		<-b.closed
		return 0, io.EOF
	}
	return n, err
}

func (b *blockingReadCloser) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestReaderDispatchesPairingCodeFrame(t *testing.T) {
	data := []byte{syncByte, modePairingCode, 0x03, 0x2A}
	port := newBlockingReadCloser(data)
	ctrl := &fakeController{}
	r := newReader(port, ctrl, testLog())

	go r.Run()
	require.Eventually(t, func() bool { return len(ctrl.pairingCalls) == 1 }, time.Second, time.Millisecond)

	r.Stop()
	assert.Equal(t, 3, ctrl.pairingCalls[0].filterByte)
	assert.Equal(t, byte(0x2A), ctrl.pairingCalls[0].code)
	assert.Empty(t, ctrl.macHashCalls)
}

func TestReaderDispatchesMacHashFrame(t *testing.T) {
	data := []byte{syncByte, modeMacHash, 0x00, 0xFF}
	port := newBlockingReadCloser(data)
	ctrl := &fakeController{}
	r := newReader(port, ctrl, testLog())

	go r.Run()
	require.Eventually(t, func() bool { return len(ctrl.macHashCalls) == 1 }, time.Second, time.Millisecond)

	r.Stop()
	assert.Equal(t, byte(0xFF), ctrl.macHashCalls[0].code)
}

func TestReaderResynchronizesAfterGarbageBytes(t *testing.T) {
	data := []byte{0x00, 0x11, syncByte, modePairingCode, 0x00, 0x07}
	port := newBlockingReadCloser(data)
	ctrl := &fakeController{}
	r := newReader(port, ctrl, testLog())

	go r.Run()
	require.Eventually(t, func() bool { return len(ctrl.pairingCalls) == 1 }, time.Second, time.Millisecond)

	r.Stop()
	assert.Equal(t, byte(0x07), ctrl.pairingCalls[0].code)
}

func TestReaderIgnoresUnknownMode(t *testing.T) {
	data := []byte{syncByte, 0x99, 0x00, 0x01, syncByte, modePairingCode, 0x00, 0x55}
	port := newBlockingReadCloser(data)
	ctrl := &fakeController{}
	r := newReader(port, ctrl, testLog())

	go r.Run()
	require.Eventually(t, func() bool { return len(ctrl.pairingCalls) == 1 }, time.Second, time.Millisecond)

	r.Stop()
	assert.Equal(t, byte(0x55), ctrl.pairingCalls[0].code)
}

func TestReaderStopEndsRun(t *testing.T) {
	port := newBlockingReadCloser(nil)
	ctrl := &fakeController{}
	r := newReader(port, ctrl, testLog())

	runFinished := make(chan struct{})
	go func() {
		r.Run()
		close(runFinished)
	}()

	r.Stop()
	select {
	case <-runFinished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
