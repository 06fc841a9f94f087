package blercu

import (
	"sort"
	"time"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercuerr"
	"github.com/sirupsen/logrus"
)

// ControllerState is the Controller's externally-visible state (spec §4.1).
type ControllerState int

const (
	StateInitialising ControllerState = iota
	StateIdle
	StateSearching
	StatePairing
	StateComplete
	StateFailed
)

func (s ControllerState) String() string {
	switch s {
	case StateInitialising:
		return "Initialising"
	case StateIdle:
		return "Idle"
	case StateSearching:
		return "Searching"
	case StatePairing:
		return "Pairing"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Publisher is the Controller's outbound IPC surface (spec §6.3): the five
// client-visible events, delivered single-threaded and FIFO because every
// call originates from the Controller's own serialized loop. The production
// binding (internal/events) publishes these over NATS.
type Publisher interface {
	ManagedDeviceAdded(addr Address)
	ManagedDeviceRemoved(addr Address)
	ScanningStateChanged(active bool)
	PairingStateChanged(active bool)
	StateChanged(state ControllerState)
}

// NoopPublisher discards every event; used where no IPC surface is wired,
// e.g. unit tests exercising Controller logic alone.
type NoopPublisher struct{}

func (NoopPublisher) ManagedDeviceAdded(Address)          {}
func (NoopPublisher) ManagedDeviceRemoved(Address)        {}
func (NoopPublisher) ScanningStateChanged(bool)           {}
func (NoopPublisher) PairingStateChanged(bool)            {}
func (NoopPublisher) StateChanged(ControllerState)        {}

// Controller is the orchestrator above both state machines (spec §4.1): it
// owns the managed-device set, enforces the device-count cap with
// LRU-by-ready eviction, and is the sole caller of both machines' Start
// methods, matching spec §9's "tree ownership" re-architecture of the
// original's cyclic Controller/state-machine references.
type Controller struct {
	adapter    Adapter
	timeouts   Timeouts
	models     []ModelProfile
	maxManaged int
	log        *logrus.Entry
	publisher  Publisher

	pairing *PairingStateMachine
	scanner *ScannerStateMachine

	managed map[Address]*ManagedDevice
	state   ControllerState

	// jobs serializes every mutation (public API calls, adapter events,
	// timer fires) onto one logical thread, per spec §5's single-threaded
	// control-plane model — without actually requiring a dedicated
	// goroutine-per-machine the way the original's Qt signal/slot graph did.
	jobs chan func()
	done chan struct{}
}

// NewController wires the Controller and both state machines together. Call
// Run in its own goroutine to start the event loop; it returns when the stop
// channel passed to Run is closed (see cmd/blercud for the production wiring).
func NewController(adapter Adapter, timeouts Timeouts, models []ModelProfile, maxManaged int, publisher Publisher, log *logrus.Entry) *Controller {
	if maxManaged <= 0 {
		maxManaged = 1
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	c := &Controller{
		adapter:    adapter,
		timeouts:   timeouts,
		models:     models,
		maxManaged: maxManaged,
		log:        log,
		publisher:  publisher,
		managed:    make(map[Address]*ManagedDevice),
		state:      StateInitialising,
		jobs:       make(chan func(), 32),
		done:       make(chan struct{}),
	}

	c.pairing = NewPairingStateMachine(adapter, timeouts, log.WithField("machine", "pairing"),
		func(ev Event) { c.postJob(func() { c.pairing.fsm.Dispatch(ev) }) },
		func(r PairingResult) { c.onPairingFinished(r) })

	c.scanner = NewScannerStateMachine(adapter, timeouts, log.WithField("machine", "scanner"),
		func(ev Event) { c.postJob(func() { c.scanner.fsm.Dispatch(ev) }) },
		func(r ScannerResult) { c.onScannerFinished(r) })

	return c
}

func (c *Controller) postJob(fn func()) {
	select {
	case c.jobs <- fn:
	case <-c.done:
	}
}

// Run drives the Controller's event loop until stop is closed. It must run
// in exactly one goroutine for the lifetime of the Controller.
func (c *Controller) Run(stop <-chan struct{}) {
	if c.adapter.IsPowered() {
		c.setState(StateIdle)
	}
	c.syncManagedDevices()

	for {
		select {
		case <-stop:
			close(c.done)
			return
		case fn := <-c.jobs:
			fn()
		case ev := <-c.adapter.Events():
			c.handleAdapterEvent(ev)
		}
	}
}

// do runs fn on the Controller's loop and blocks until it completes,
// giving public API callers a synchronous call even though the mutation
// itself happens on the serialized loop goroutine.
func (c *Controller) do(fn func()) {
	doneCh := make(chan struct{})
	c.postJob(func() {
		fn()
		close(doneCh)
	})
	<-doneCh
}

func (c *Controller) handleAdapterEvent(ev AdapterEvent) {
	c.pairing.HandleAdapterEvent(ev)
	c.scanner.HandleAdapterEvent(ev)

	switch ev.Kind {
	case EventPoweredChanged:
		if ev.Bool && c.state == StateInitialising {
			c.setState(StateIdle)
		}
	case EventDevicePairingChanged:
		if !c.pairing.IsRunning() {
			c.syncManagedDevices()
		}
	case EventDeviceReadyChanged:
		if dev, ok := c.managed[ev.Address]; ok {
			dev.setReady(c.adapter.IsDevicePaired(ev.Address), true, ev.Bool, time.Now())
		}
		if ev.Bool && !c.pairing.IsRunning() {
			c.syncManagedDevices()
		}
	}
}

func (c *Controller) setState(s ControllerState) {
	if s == c.state {
		return
	}
	c.state = s
	c.publisher.StateChanged(s)
}

// StartPairing begins pairing by IR pairing code (spec §4.1).
func (c *Controller) StartPairing(filterByte int, pairingCode byte) error {
	var err error
	c.do(func() {
		if e := c.checkStartPairingPreconditions(filterByte); e != nil {
			err = e
			return
		}
		if e := c.pairing.Start(c.models, filterByte, pairingCode); e != nil {
			err = blercuerr.New(blercuerr.General, "pairing start failed").WithCause(e)
			return
		}
		c.publisher.PairingStateChanged(true)
		c.setState(StatePairing)
	})
	return err
}

// StartPairingMacHash begins pairing by address checksum (spec §4.1).
func (c *Controller) StartPairingMacHash(filterByte int, macHash byte) error {
	var err error
	c.do(func() {
		if e := c.checkStartPairingPreconditions(filterByte); e != nil {
			err = e
			return
		}
		if e := c.pairing.StartMacHash(filterByte, macHash); e != nil {
			err = blercuerr.New(blercuerr.General, "pairing start failed").WithCause(e)
			return
		}
		c.publisher.PairingStateChanged(true)
		c.setState(StatePairing)
	})
	return err
}

// checkStartPairingPreconditions must run inside c.do.
func (c *Controller) checkStartPairingPreconditions(filterByte int) error {
	if !c.adapter.IsAvailable() || !c.adapter.IsPowered() {
		return blercuerr.New(blercuerr.General, "adapter not available")
	}
	if c.pairing.IsRunning() {
		return blercuerr.New(blercuerr.Busy, "pairing already running")
	}
	if c.scanner.IsRunning() {
		// spec §4.1 pre-pair reconciliation: cancel the scan, fail this
		// call, client is expected to retry.
		c.scanner.Cancel()
		return blercuerr.New(blercuerr.Busy, "scan in progress, cancelled; retry")
	}
	if filterByte != 0 && !c.filterByteSupported(byte(filterByte)) {
		return blercuerr.New(blercuerr.Rejected, "unsupported filter byte")
	}
	return nil
}

func (c *Controller) filterByteSupported(b byte) bool {
	if b == 0 {
		return true
	}
	for _, m := range c.models {
		if m.SupportsFilterByte(b) {
			return true
		}
	}
	return false
}

// CancelPairing is a best-effort stop of the running pairing attempt.
func (c *Controller) CancelPairing() {
	c.do(func() {
		if c.pairing.IsRunning() {
			c.pairing.Cancel()
		}
	})
}

// StartScanning begins a timed scan (spec §4.1).
func (c *Controller) StartScanning(timeoutMs int) error {
	var err error
	c.do(func() {
		if !c.adapter.IsAvailable() || !c.adapter.IsPowered() {
			err = blercuerr.New(blercuerr.General, "adapter not available")
			return
		}
		if c.pairing.IsRunning() {
			err = blercuerr.New(blercuerr.Busy, "pairing already running")
			return
		}
		if c.scanner.IsRunning() {
			err = blercuerr.New(blercuerr.Busy, "scanning already running")
			return
		}
		if e := c.scanner.Start(c.models, time.Duration(timeoutMs)*time.Millisecond); e != nil {
			err = blercuerr.New(blercuerr.General, "scan start failed").WithCause(e)
			return
		}
		c.publisher.ScanningStateChanged(true)
		c.setState(StateSearching)
	})
	return err
}

// CancelScanning is a best-effort stop of the running scan.
func (c *Controller) CancelScanning() {
	c.do(func() {
		if c.scanner.IsRunning() {
			c.scanner.Cancel()
		}
	})
}

// ManagedDevices returns a snapshot of the managed-device address set.
func (c *Controller) ManagedDevices() []Address {
	var out []Address
	c.do(func() {
		out = make([]Address, 0, len(c.managed))
		for a := range c.managed {
			out = append(out, a)
		}
	})
	return out
}

// ManagedDevice returns the service handle for addr, if managed.
func (c *Controller) ManagedDevice(addr Address) (ServiceHandle, bool) {
	var handle ServiceHandle
	var ok bool
	c.do(func() {
		if dev, found := c.managed[addr]; found {
			handle, ok = dev.Service, true
		}
	})
	return handle, ok
}

// State returns the Controller's current externally-visible state.
func (c *Controller) State() ControllerState {
	var s ControllerState
	c.do(func() { s = c.state })
	return s
}

// UnpairDevice asks the Adapter to unpair addr; the Controller reacts to
// the resulting devicePairingChanged event like any other removal.
func (c *Controller) UnpairDevice(addr Address) error {
	var err error
	c.do(func() {
		if _, ok := c.managed[addr]; !ok {
			err = blercuerr.New(blercuerr.Rejected, "not a managed device")
			return
		}
		if e := c.adapter.RemoveDevice(addr); e != nil {
			err = blercuerr.New(blercuerr.General, "removeDevice failed").WithCause(e)
		}
	})
	return err
}

func (c *Controller) onPairingFinished(r PairingResult) {
	c.postJob(func() {
		c.publisher.PairingStateChanged(false)
		if r.Success {
			c.setState(StateComplete)
		} else {
			c.setState(StateFailed)
		}
		c.syncManagedDevices()
	})
}

func (c *Controller) onScannerFinished(r ScannerResult) {
	c.postJob(func() {
		c.publisher.ScanningStateChanged(false)
		if !r.Found {
			c.setState(StateFailed)
			return
		}
		if err := c.pairing.StartTarget(r.Address, r.Name); err != nil {
			c.log.WithError(err).Warn("could not start pairing against scanner result")
			c.setState(StateFailed)
			return
		}
		c.publisher.PairingStateChanged(true)
		c.setState(StatePairing)
	})
}

// syncManagedDevices implements spec §4.1's managed-device synchronization
// algorithm. Must run inside the loop (c.do/postJob/handleAdapterEvent).
func (c *Controller) syncManagedDevices() {
	paired := c.adapter.PairedDevices()

	for addr := range c.managed {
		if _, ok := paired[addr]; !ok {
			delete(c.managed, addr)
			c.publisher.ManagedDeviceRemoved(addr)
		}
	}

	for addr := range paired {
		if _, ok := c.managed[addr]; ok {
			continue
		}
		handle, err := c.adapter.GetDevice(addr)
		if err != nil {
			c.log.WithError(err).WithField("address", addr).Warn("getDevice failed during sync")
			continue
		}
		dev := &ManagedDevice{Address: addr, Service: handle}
		dev.setReady(true, true, false, time.Now())
		c.managed[addr] = dev
		c.publisher.ManagedDeviceAdded(addr)
	}

	if len(c.managed) > c.maxManaged {
		c.scheduleEviction()
	}
}

// scheduleEviction defers the actual adapter.removeDevice call to the next
// event-loop turn via a zero-delay timer, per spec §5's re-entrancy rule:
// never call an adapter mutator synchronously from within an adapter-event
// handler.
func (c *Controller) scheduleEviction() {
	time.AfterFunc(0, func() {
		c.postJob(c.runEviction)
	})
}

func (c *Controller) runEviction() {
	if len(c.managed) <= c.maxManaged {
		return
	}
	paired := c.adapter.PairedDevices()
	candidates := make([]*ManagedDevice, 0, len(c.managed))
	for addr, dev := range c.managed {
		if _, ok := paired[addr]; ok && dev.Ready() {
			candidates = append(candidates, dev)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].BecameReadyAt().Before(candidates[j].BecameReadyAt())
	})

	for _, dev := range candidates {
		if len(c.managed) <= c.maxManaged {
			return
		}
		if err := c.adapter.RemoveDevice(dev.Address); err != nil {
			c.log.WithError(err).WithField("address", dev.Address).Warn("eviction removeDevice failed")
		}
	}
}
