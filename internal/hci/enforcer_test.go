package hci

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

type fakeSubmitter struct {
	requests []ConnUpdateRequest
	fail     bool
}

func (f *fakeSubmitter) RequestConnectionUpdate(req ConnUpdateRequest) error {
	f.requests = append(f.requests, req)
	if f.fail {
		return assert.AnError
	}
	return nil
}

type fakeEnumerator struct {
	conns []ConnectionInfo
}

func (f *fakeEnumerator) GetConnectedDevices(maxConns int) ([]ConnectionInfo, error) {
	return f.conns, nil
}

func syncPost(fn func()) { fn() }

func desiredProfile(t *testing.T) (blercu.OUI, blercu.ConnectionParameters) {
	t.Helper()
	oui, ok := blercu.ParseOUI("1C:A2:B1")
	require.True(t, ok)
	return oui, blercu.ConnectionParameters{
		MinIntervalMs:        30,
		MaxIntervalMs:        50,
		Latency:              0,
		SupervisionTimeoutMs: 5000,
	}
}

func newTestEnforcer(t *testing.T, sub *fakeSubmitter) (*ConnParamEnforcer, blercu.OUI, blercu.ConnectionParameters) {
	t.Helper()
	oui, desired := desiredProfile(t)
	e := NewConnParamEnforcer(sub, blercu.Timeouts{
		PostConnection: 10 * time.Millisecond,
		PostUpdate:     10 * time.Millisecond,
		ParamRetry:     10 * time.Millisecond,
		StartupTrigger: 10 * time.Millisecond,
	}, map[blercu.OUI]blercu.ConnectionParameters{oui: desired}, logrus.NewEntry(logrus.New()), syncPost)
	return e, oui, desired
}

func TestConnParamEnforcerIgnoresUnmanagedOUI(t *testing.T) {
	sub := &fakeSubmitter{}
	e, _, _ := newTestEnforcer(t, sub)

	addr, _ := blercu.ParseAddress("AA:BB:CC:00:11:22")
	e.HandleConnectionComplete(ConnectionComplete{Handle: 1, Address: addr, Params: blercu.ConnectionParameters{}})

	e.mu.Lock()
	n := len(e.records)
	e.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestConnParamEnforcerCloseEnoughCancelsTimer(t *testing.T) {
	sub := &fakeSubmitter{}
	e, oui, desired := newTestEnforcer(t, sub)
	addr, _ := blercu.ParseAddress(oui.String() + ":00:11:22")

	e.HandleConnectionComplete(ConnectionComplete{Handle: 1, Address: addr, Params: desired})

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sub.requests, "close-enough connection must never trigger a retry")
}

func TestConnParamEnforcerRetriesUntilConverged(t *testing.T) {
	sub := &fakeSubmitter{}
	e, oui, desired := newTestEnforcer(t, sub)
	addr, _ := blercu.ParseAddress(oui.String() + ":00:11:22")

	farOff := blercu.ConnectionParameters{MinIntervalMs: 200, MaxIntervalMs: 200, Latency: 0, SupervisionTimeoutMs: 5000}
	e.HandleConnectionComplete(ConnectionComplete{Handle: 7, Address: addr, Params: farOff})

	require.Eventually(t, func() bool {
		return len(sub.requests) >= 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint16(7), sub.requests[0].Handle)

	e.HandleConnectionUpdateComplete(ConnectionUpdateComplete{Handle: 7, Params: desired})
	time.Sleep(30 * time.Millisecond)
	countAfterConverge := len(sub.requests)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, countAfterConverge, len(sub.requests), "no further retries once converged")
}

func TestConnParamEnforcerDisconnectionDestroysRecord(t *testing.T) {
	sub := &fakeSubmitter{}
	e, oui, desired := newTestEnforcer(t, sub)
	addr, _ := blercu.ParseAddress(oui.String() + ":00:11:22")

	farOff := blercu.ConnectionParameters{MinIntervalMs: 200, MaxIntervalMs: 200, Latency: 0, SupervisionTimeoutMs: 5000}
	_ = desired
	e.HandleConnectionComplete(ConnectionComplete{Handle: 9, Address: addr, Params: farOff})
	e.HandleDisconnectionComplete(DisconnectionComplete{Handle: 9})

	e.mu.Lock()
	_, ok := e.records[9]
	e.mu.Unlock()
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sub.requests, "destroyed record must not fire a retry")
}

func TestConnParamEnforcerStartupEnumeratesManagedLinks(t *testing.T) {
	sub := &fakeSubmitter{}
	e, oui, _ := newTestEnforcer(t, sub)
	addr, _ := blercu.ParseAddress(oui.String() + ":00:11:22")

	var lsb [6]byte
	for i := 0; i < 6; i++ {
		lsb[i] = addr.Bytes[5-i]
	}
	enumerator := &fakeEnumerator{conns: []ConnectionInfo{{Handle: 3, Address: lsb, LinkType: leLinkType}}}
	e.Start(enumerator)

	require.Eventually(t, func() bool {
		return len(sub.requests) >= 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint16(3), sub.requests[0].Handle)
}
