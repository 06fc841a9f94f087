package hci

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

// ConnUpdateSubmitter is the write side of a Socket that the enforcer
// depends on — narrowed to one method so tests can substitute a fake
// without a real kernel socket.
type ConnUpdateSubmitter interface {
	RequestConnectionUpdate(req ConnUpdateRequest) error
}

// ConnectionEnumerator is the startup-enumeration side of a Socket.
type ConnectionEnumerator interface {
	GetConnectedDevices(maxConns int) ([]ConnectionInfo, error)
}

// connectionRecord is the enforcer-internal per-handle bookkeeping from
// spec §4.4.
type connectionRecord struct {
	handle      uint16
	address     blercu.Address
	desired     blercu.ConnectionParameters
	observedSet bool
	observed    blercu.ConnectionParameters
	closeEnough bool
	timer       *time.Timer
}

// ConnParamEnforcer implements spec §4.4: a per-connection worker that
// observes HCI connection events (delivered via Handle*) and re-issues
// LE_CONN_UPDATE until each link's parameters converge to the per-OUI
// desired profile. It runs on the single control-plane thread (spec §5);
// all of its methods are meant to be called from that thread only — the
// HCI capture goroutine hands off events via the post callback (in
// cmd/blercud, a dedicated HCI job loop separate from the Controller's),
// not by calling directly into the enforcer from another goroutine.
type ConnParamEnforcer struct {
	socket   ConnUpdateSubmitter
	timeouts blercu.Timeouts
	desired  map[blercu.OUI]blercu.ConnectionParameters
	log      *logrus.Entry
	post     func(func())

	mu      sync.Mutex
	records map[uint16]*connectionRecord
}

// NewConnParamEnforcer builds an enforcer. post is used to defer each
// timer's fire back onto the owning event loop, the same pattern used by
// the pairing/scanner state machines' armTimer.
func NewConnParamEnforcer(socket ConnUpdateSubmitter, timeouts blercu.Timeouts, desired map[blercu.OUI]blercu.ConnectionParameters, log *logrus.Entry, post func(func())) *ConnParamEnforcer {
	return &ConnParamEnforcer{
		socket:   socket,
		timeouts: timeouts,
		desired:  desired,
		log:      log,
		post:     post,
		records:  make(map[uint16]*connectionRecord),
	}
}

// Start seeds the record set from the controller's already-connected LE
// links (spec §4.4's "Startup" behavior): each managed-OUI link gets a
// record with observed params unknown and a short trigger timer armed,
// since the kernel exposes no "read current parameters" path.
func (e *ConnParamEnforcer) Start(enumerator ConnectionEnumerator) {
	conns, err := enumerator.GetConnectedDevices(32)
	if err != nil {
		e.log.WithError(err).Warn("getConnectedDevices failed at startup")
		return
	}
	for _, c := range conns {
		addr := addressFromLSBBytes(c.Address[:])
		desired, managed := e.desired[addr.OUI()]
		if !managed {
			continue
		}
		rec := &connectionRecord{handle: c.Handle, address: addr, desired: desired}
		e.mu.Lock()
		e.records[c.Handle] = rec
		e.mu.Unlock()
		e.armTimer(rec, e.timeouts.StartupTrigger)
	}
}

// HandleConnectionComplete implements the LE_CONN_COMPLETE half of spec
// §4.4: a new record is created if the OUI is managed, observed params are
// recorded, and either the timers are cancelled (close enough) or
// postConnectionTimer is armed.
func (e *ConnParamEnforcer) HandleConnectionComplete(ev ConnectionComplete) {
	desired, managed := e.desired[ev.Address.OUI()]
	if !managed {
		return
	}

	e.mu.Lock()
	rec, ok := e.records[ev.Handle]
	if !ok {
		rec = &connectionRecord{handle: ev.Handle, address: ev.Address, desired: desired}
		e.records[ev.Handle] = rec
	}
	e.mu.Unlock()

	rec.observedSet = true
	rec.observed = ev.Params
	rec.closeEnough = ev.Params.CloseEnough(desired)

	if rec.closeEnough {
		e.cancelTimer(rec)
		return
	}
	e.armTimer(rec, e.timeouts.PostConnection)
}

// HandleConnectionUpdateComplete implements the LE_CONN_UPDATE_COMPLETE
// half of spec §4.4.
func (e *ConnParamEnforcer) HandleConnectionUpdateComplete(ev ConnectionUpdateComplete) {
	e.mu.Lock()
	rec, ok := e.records[ev.Handle]
	e.mu.Unlock()
	if !ok {
		return
	}

	rec.observedSet = true
	rec.observed = ev.Params
	rec.closeEnough = ev.Params.CloseEnough(rec.desired)

	if rec.closeEnough {
		e.cancelTimer(rec)
		return
	}
	e.armTimer(rec, e.timeouts.PostUpdate)
}

// HandleDisconnectionComplete destroys the record and cancels its timer.
func (e *ConnParamEnforcer) HandleDisconnectionComplete(ev DisconnectionComplete) {
	e.mu.Lock()
	rec, ok := e.records[ev.Handle]
	delete(e.records, ev.Handle)
	e.mu.Unlock()
	if ok {
		e.cancelTimer(rec)
	}
}

// Shutdown cancels every outstanding timer (spec §5's resource lifecycle:
// "all timers are scoped to records and released on record destruction").
func (e *ConnParamEnforcer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.records {
		e.cancelTimer(rec)
	}
	e.records = make(map[uint16]*connectionRecord)
}

// onTimerFire is spec §4.4's "Timer fire semantics": submit
// requestConnectionUpdate, then re-arm with retryTimer regardless of
// whether the write succeeded (write failures are logged and non-fatal).
func (e *ConnParamEnforcer) onTimerFire(rec *connectionRecord) {
	e.mu.Lock()
	current, ok := e.records[rec.handle]
	e.mu.Unlock()
	if !ok || current != rec {
		return // record was destroyed (disconnected) before the timer fired
	}
	if rec.closeEnough {
		return
	}

	req := ConnUpdateRequest{
		Handle:               rec.handle,
		MinIntervalMs:        rec.desired.MinIntervalMs,
		MaxIntervalMs:        rec.desired.MaxIntervalMs,
		Latency:              rec.desired.Latency,
		SupervisionTimeoutMs: rec.desired.SupervisionTimeoutMs,
	}
	if err := e.socket.RequestConnectionUpdate(req); err != nil {
		e.log.WithError(err).WithField("handle", rec.handle).Warn("requestConnectionUpdate failed")
	}
	e.armTimer(rec, e.timeouts.ParamRetry)
}

func (e *ConnParamEnforcer) armTimer(rec *connectionRecord, d time.Duration) {
	e.cancelTimer(rec)
	rec.timer = time.AfterFunc(d, func() {
		e.post(func() { e.onTimerFire(rec) })
	})
}

func (e *ConnParamEnforcer) cancelTimer(rec *connectionRecord) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
}
