package events

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

type fakeConn struct {
	published []publishedMessage
	failNext  bool
}

type publishedMessage struct {
	subject string
	data    []byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.published = append(f.published, publishedMessage{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Close() {}

func newTestPublisher(conn *fakeConn) *Publisher {
	return &Publisher{conn: conn, log: logrus.NewEntry(logrus.New())}
}

func decodeEnvelope(t *testing.T, data []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.NotEmpty(t, env.ID)
	return env
}

func TestManagedDeviceAddedPublishesAddressPayload(t *testing.T) {
	conn := &fakeConn{}
	p := newTestPublisher(conn)
	addr, ok := blercu.ParseAddress("1C:A2:B1:00:11:22")
	require.True(t, ok)

	p.ManagedDeviceAdded(addr)

	require.Len(t, conn.published, 1)
	assert.Equal(t, SubjectManagedDeviceAdded, conn.published[0].subject)

	env := decodeEnvelope(t, conn.published[0].data)
	payload, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1C:A2:B1:00:11:22", payload["address"])
}

func TestScanningStateChangedPublishesBoolPayload(t *testing.T) {
	conn := &fakeConn{}
	p := newTestPublisher(conn)

	p.ScanningStateChanged(true)

	require.Len(t, conn.published, 1)
	assert.Equal(t, SubjectScanningStateChanged, conn.published[0].subject)
	env := decodeEnvelope(t, conn.published[0].data)
	payload := env.Data.(map[string]interface{})
	assert.Equal(t, true, payload["active"])
}

func TestStateChangedPublishesStateName(t *testing.T) {
	conn := &fakeConn{}
	p := newTestPublisher(conn)

	p.StateChanged(blercu.StatePairing)

	require.Len(t, conn.published, 1)
	assert.Equal(t, SubjectStateChanged, conn.published[0].subject)
	env := decodeEnvelope(t, conn.published[0].data)
	payload := env.Data.(map[string]interface{})
	assert.Equal(t, "Pairing", payload["state"])
}

func TestPublishFailureDoesNotPanic(t *testing.T) {
	conn := &fakeConn{failNext: true}
	p := newTestPublisher(conn)

	assert.NotPanics(t, func() {
		p.PairingStateChanged(false)
	})
	assert.Empty(t, conn.published)
}
