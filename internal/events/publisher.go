// Package events publishes Controller events (spec §6.3) onto NATS subjects
// for external IPC clients, grounded on the teacher's
// pkg/platforms/nats/nats_adaptor.go connect/publish pattern and backed by
// its github.com/nats-io/nats.go dependency.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

// Subject prefixes, one per spec §6.3 event; a subscriber wanting every
// event can use "blercu.>" since all five share this root.
const (
	SubjectManagedDeviceAdded   = "blercu.managedDeviceAdded"
	SubjectManagedDeviceRemoved = "blercu.managedDeviceRemoved"
	SubjectScanningStateChanged = "blercu.scanningStateChanged"
	SubjectPairingStateChanged  = "blercu.pairingStateChanged"
	SubjectStateChanged         = "blercu.stateChanged"
)

// envelope wraps every published payload with a correlation ID and
// wall-clock timestamp, so downstream consumers can dedupe redelivery
// across a reconnect.
type envelope struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type managedDevicePayload struct {
	Address string `json:"address"`
}

type boolPayload struct {
	Active bool `json:"active"`
}

type statePayload struct {
	State string `json:"state"`
}

// natsConn is the slice of *nats.Conn this package depends on, narrowed so
// tests can substitute a fake instead of dialing a real server.
type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher implements blercu.Publisher over a NATS connection. Publish
// failures are logged, never returned: per spec §7's propagation policy,
// IPC delivery failures are not a state-machine-affecting condition — a
// client that missed an event because of a transient NATS outage has no
// effect on pairing/scanning semantics.
type Publisher struct {
	conn natsConn
	log  *logrus.Entry
}

// Connect dials the NATS server at url and returns a ready Publisher.
// Options are passed straight through to nats.Connect (credentials, TLS,
// reconnect policy), matching the teacher's NewAdaptor/NewAdaptorWithAuth
// pass-through of nats.Option.
func Connect(url string, log *logrus.Entry, options ...nats.Option) (*Publisher, error) {
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to %s: %w", url, err)
	}
	return &Publisher{conn: conn, log: log}, nil
}

// Close closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) publish(subject string, data interface{}) {
	env := envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Data:      data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Error("failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("failed to publish event")
	}
}

func (p *Publisher) ManagedDeviceAdded(addr blercu.Address) {
	p.publish(SubjectManagedDeviceAdded, managedDevicePayload{Address: addr.String()})
}

func (p *Publisher) ManagedDeviceRemoved(addr blercu.Address) {
	p.publish(SubjectManagedDeviceRemoved, managedDevicePayload{Address: addr.String()})
}

func (p *Publisher) ScanningStateChanged(active bool) {
	p.publish(SubjectScanningStateChanged, boolPayload{Active: active})
}

func (p *Publisher) PairingStateChanged(active bool) {
	p.publish(SubjectPairingStateChanged, boolPayload{Active: active})
}

func (p *Publisher) StateChanged(state blercu.ControllerState) {
	p.publish(SubjectStateChanged, statePayload{State: state.String()})
}

var _ blercu.Publisher = (*Publisher)(nil)
