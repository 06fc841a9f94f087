package blercu

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

// Scanner state-chart states (spec §4.3).
const (
	ssRunningSuper State = iota + 100
	ssStartingDiscovery
	ssDiscovering
	ssStoppingDiscovery
	ssFinished
)

// Scanner state-chart events (spec §4.3).
const (
	evScanDiscoveryStarted EventKind = iota + 100
	evScanDiscoveryStopped
	evScanDiscoveryTimeout
	evScanDiscoveryStartTimeout
	evScanDiscoveryStopTimeout
	evScanDeviceFound
	evScanCancelRequest
	evScanAdapterPoweredOff
)

// ScannerResult is delivered to onFinished when the machine reaches
// Finished: either a pairable device was latched, or the scan ended without
// one (deadline, cancellation, or adapter power loss).
type ScannerResult struct {
	Found   bool
	Address Address
	Name    string
}

// ScannerStateMachine implements spec §4.3: a single timed scan that halts
// on the first pairable match or a caller-supplied deadline, reusing the
// hierarchical dispatcher in fsm.go.
type ScannerStateMachine struct {
	adapter  Adapter
	timeouts Timeouts
	log      *logrus.Entry
	post     func(Event)

	fsm *Machine

	running  bool
	deadline time.Duration

	haveTarget    bool
	targetAddress Address
	targetName    string

	scanNameRegexes []*regexp.Regexp

	timers map[string]*time.Timer

	onFinished func(ScannerResult)
}

// NewScannerStateMachine builds the machine and wires its transition table.
func NewScannerStateMachine(adapter Adapter, timeouts Timeouts, log *logrus.Entry, post func(Event), onFinished func(ScannerResult)) *ScannerStateMachine {
	s := &ScannerStateMachine{
		adapter:    adapter,
		timeouts:   timeouts,
		log:        log,
		post:       post,
		onFinished: onFinished,
		timers:     make(map[string]*time.Timer),
	}

	parent := map[State]State{
		ssStartingDiscovery: ssRunningSuper,
		ssDiscovering:       ssRunningSuper,
		ssStoppingDiscovery: ssRunningSuper,
	}
	s.fsm = NewMachine(parent)

	s.fsm.On(ssRunningSuper, evScanAdapterPoweredOff, ssFinished)
	s.fsm.On(ssStartingDiscovery, evScanDiscoveryStarted, ssDiscovering)
	s.fsm.On(ssStartingDiscovery, evScanCancelRequest, ssStoppingDiscovery)
	s.fsm.On(ssStartingDiscovery, evScanDiscoveryStartTimeout, ssFinished)
	s.fsm.On(ssDiscovering, evScanDeviceFound, ssStoppingDiscovery)
	s.fsm.On(ssDiscovering, evScanCancelRequest, ssStoppingDiscovery)
	s.fsm.On(ssDiscovering, evScanDiscoveryTimeout, ssStoppingDiscovery)
	s.fsm.On(ssStoppingDiscovery, evScanDiscoveryStopped, ssFinished)
	s.fsm.On(ssStoppingDiscovery, evScanDiscoveryStopTimeout, ssFinished)

	s.fsm.OnEnter(ssStartingDiscovery, func() {
		s.armTimer("start", s.timeouts.ScannerStart, evScanDiscoveryStartTimeout)
		if err := s.adapter.StartDiscovery(0); err != nil {
			s.log.WithError(err).Warn("startDiscovery failed")
		}
	})
	s.fsm.OnEnter(ssDiscovering, func() {
		s.cancelTimer("start")
		if s.deadline > 0 {
			s.armTimer("deadline", s.deadline, evScanDiscoveryTimeout)
		}
		for addr, name := range s.adapter.DeviceNames() {
			s.processDevice(addr, name)
		}
	})
	s.fsm.OnEnter(ssStoppingDiscovery, func() {
		s.cancelTimer("deadline")
		s.armTimer("stop", s.timeouts.ScannerStop, evScanDiscoveryStopTimeout)
		if err := s.adapter.StopDiscovery(); err != nil {
			s.log.WithError(err).Warn("stopDiscovery failed")
		}
		if !s.adapter.IsDiscovering() {
			s.fsm.Dispatch(Event{Kind: evScanDiscoveryStopped})
		}
	})
	s.fsm.OnExit(ssRunningSuper, func() {
		for name := range s.timers {
			s.cancelTimer(name)
		}
		if err := s.adapter.StopDiscovery(); err != nil {
			s.log.WithError(err).Warn("stopDiscovery failed")
		}
	})
	s.fsm.OnEnter(ssFinished, func() {
		s.finish()
	})

	return s
}

func (s *ScannerStateMachine) finish() {
	result := ScannerResult{Found: s.haveTarget, Address: s.targetAddress, Name: s.targetName}
	s.running = false
	s.haveTarget = false
	if s.onFinished != nil {
		s.onFinished(result)
	}
}

// IsRunning reports whether a scan is in progress.
func (s *ScannerStateMachine) IsRunning() bool { return s.running }

// Start begins a timed scan. timeout of 0 means no caller-supplied
// deadline (the scan only ends on a match, cancellation, or power loss).
func (s *ScannerStateMachine) Start(models []ModelProfile, timeout time.Duration) error {
	if s.running {
		return fmt.Errorf("scanning already running")
	}
	var regexes []*regexp.Regexp
	for _, m := range models {
		if m.Disabled || m.ScanNameFormat == "" {
			continue
		}
		re, err := m.ScanNameRegexp()
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		regexes = append(regexes, re)
	}
	s.scanNameRegexes = regexes
	s.deadline = timeout
	s.running = true
	s.haveTarget = false
	s.fsm.SetInitial(ssStartingDiscovery)
	return nil
}

// Cancel requests early termination; the machine transitions to
// StoppingDiscovery and finishes without a match unless a device was
// already latched in the same turn.
func (s *ScannerStateMachine) Cancel() {
	if !s.running {
		return
	}
	s.fsm.Dispatch(Event{Kind: evScanCancelRequest})
}

// HandleAdapterEvent translates an AdapterEvent into the machine's own
// event vocabulary and dispatches it, when running.
func (s *ScannerStateMachine) HandleAdapterEvent(ev AdapterEvent) {
	if !s.running {
		return
	}
	switch ev.Kind {
	case EventPoweredChanged:
		if !ev.Bool {
			s.fsm.Dispatch(Event{Kind: evScanAdapterPoweredOff})
		}
	case EventDiscoveryChanged:
		if ev.Bool {
			s.fsm.Dispatch(Event{Kind: evScanDiscoveryStarted})
		} else {
			s.fsm.Dispatch(Event{Kind: evScanDiscoveryStopped})
		}
	case EventDeviceFound, EventDeviceNameChanged:
		s.processDevice(ev.Address, ev.Name)
	}
}

// processDevice implements spec §4.3's matching rule: any configured
// model's scan-name regex may accept the device; already-paired devices
// are skipped regardless.
func (s *ScannerStateMachine) processDevice(addr Address, name string) {
	if s.haveTarget {
		return
	}
	if s.adapter.IsDevicePaired(addr) {
		return
	}
	if !s.matches(name) {
		return
	}
	s.haveTarget = true
	s.targetAddress = addr
	s.targetName = name
	s.fsm.Dispatch(Event{Kind: evScanDeviceFound, Address: addr, Name: name})
}

func (s *ScannerStateMachine) matches(name string) bool {
	for _, re := range s.scanNameRegexes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (s *ScannerStateMachine) armTimer(name string, d time.Duration, kind EventKind) {
	s.cancelTimer(name)
	s.timers[name] = time.AfterFunc(d, func() {
		s.post(Event{Kind: kind})
	})
}

func (s *ScannerStateMachine) cancelTimer(name string) {
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}
