package blercu

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

// Pairing state-chart states (spec §4.2). Names mirror the nesting spelled
// out there: RunningSuper is the whole running region, DiscoverySuper and
// PairingSuper are its two sub-regions, Finished sits outside RunningSuper
// entirely.
const (
	psRunningSuper State = iota + 1
	psDiscoverySuper
	psStartingDiscovery
	psDiscovering
	psStoppingDiscovery
	psPairingSuper
	psEnablePairable
	psPairing
	psSetup
	psUnpairing
	psStoppingDiscoveryStartedExternally
	psFinished
)

// Pairing state-chart events (spec §4.2).
const (
	evDiscoveryStarted EventKind = iota + 1
	evDiscoveryStopped
	evDiscoveryStartTimeout
	evDiscoveryStopTimeout
	evPairableEnabled
	evPairableDisabled
	evPairingTimeout
	evSetupTimeout
	evUnpairingTimeout
	evDeviceFound
	evDeviceUnpaired
	evDeviceRemoved
	evDevicePaired
	evDeviceReady
	evAdapterPoweredOff
	evPairingCancelBonded
	evPairingCancelUnbonded
)

// PairingResult is delivered once, to onFinished, when the machine reaches
// Finished.
type PairingResult struct {
	Success bool
	Address Address
	Name    string
}

// PairingStateMachine implements spec §4.2: drive BlueZ through discovery,
// pairing and GATT setup for exactly one target device, using the
// hierarchical dispatcher in fsm.go in place of the original's Qt
// QStateMachine graph.
type PairingStateMachine struct {
	adapter Adapter
	timeouts Timeouts
	log     *logrus.Entry
	post    func(Event) // timer callbacks only; see fsm.go's single-thread note

	fsm *Machine

	running   bool
	bonded    bool
	succeeded bool

	haveTarget    bool
	targetAddress Address
	targetName    string

	filterByte int
	pairingCode int

	macHashMode bool
	pairingMacHash byte

	pairingPrefixRegexes map[OUI]*regexp.Regexp
	supportedPairingNames []*regexp.Regexp

	discoveryActive            bool // last known adapter discovery state, tracked even while idle
	discoveryStartedExternally bool

	timers map[string]*time.Timer

	attempts   int
	successes  int
	onFinished func(PairingResult)
}

// NewPairingStateMachine builds the machine and wires its transition table.
// post is used only to get timer-fired events back onto the owner's
// single-threaded loop (timers fire on their own goroutine); onFinished is
// invoked synchronously, from within Dispatch, when Finished is entered.
func NewPairingStateMachine(adapter Adapter, timeouts Timeouts, log *logrus.Entry, post func(Event), onFinished func(PairingResult)) *PairingStateMachine {
	p := &PairingStateMachine{
		adapter:    adapter,
		timeouts:   timeouts,
		log:        log,
		post:       post,
		onFinished: onFinished,
		timers:     make(map[string]*time.Timer),
	}

	parent := map[State]State{
		psDiscoverySuper:                     psRunningSuper,
		psStartingDiscovery:                  psDiscoverySuper,
		psDiscovering:                        psDiscoverySuper,
		psStoppingDiscovery:                  psRunningSuper,
		psPairingSuper:                       psRunningSuper,
		psEnablePairable:                     psPairingSuper,
		psPairing:                            psPairingSuper,
		psSetup:                              psPairingSuper,
		psUnpairing:                          psRunningSuper,
		psStoppingDiscoveryStartedExternally: psRunningSuper,
	}
	p.fsm = NewMachine(parent)

	p.fsm.On(psRunningSuper, evAdapterPoweredOff, psFinished)
	p.fsm.On(psRunningSuper, evPairingCancelUnbonded, psFinished)
	p.fsm.On(psStartingDiscovery, evDiscoveryStarted, psDiscovering)
	p.fsm.On(psDiscoverySuper, evDeviceFound, psStoppingDiscovery)
	p.fsm.On(psDiscoverySuper, evDiscoveryStartTimeout, psFinished)
	p.fsm.On(psDiscoverySuper, evDiscoveryStopped, psFinished)
	p.fsm.On(psStoppingDiscovery, evDiscoveryStopped, psEnablePairable)
	p.fsm.On(psStoppingDiscovery, evDiscoveryStopTimeout, psFinished)
	p.fsm.On(psEnablePairable, evPairableEnabled, psPairing)
	p.fsm.On(psPairing, evPairableDisabled, psUnpairing)
	p.fsm.On(psPairing, evDevicePaired, psSetup)
	p.fsm.On(psPairingSuper, evDeviceReady, psFinished)
	p.fsm.On(psPairingSuper, evDeviceUnpaired, psFinished)
	p.fsm.On(psPairingSuper, evDeviceRemoved, psFinished)
	p.fsm.On(psPairingSuper, evPairingTimeout, psUnpairing)
	p.fsm.On(psPairingSuper, evSetupTimeout, psUnpairing)
	p.fsm.On(psPairingSuper, evPairingCancelBonded, psUnpairing)
	p.fsm.On(psUnpairing, evDeviceUnpaired, psFinished)
	p.fsm.On(psUnpairing, evDeviceRemoved, psFinished)
	p.fsm.On(psUnpairing, evUnpairingTimeout, psFinished)
	p.fsm.On(psStoppingDiscoveryStartedExternally, evDiscoveryStopped, psStartingDiscovery)

	p.fsm.OnEnter(psStartingDiscovery, func() {
		p.armTimer("discoveryStart", p.timeouts.Discovery, evDiscoveryStartTimeout)
		if err := p.adapter.StartDiscovery(p.pairingCode); err != nil {
			p.log.WithError(err).Warn("startDiscovery failed")
		}
	})
	p.fsm.OnEnter(psDiscovering, func() {
		for addr, name := range p.adapter.DeviceNames() {
			p.processDevice(addr, name)
		}
	})
	p.fsm.OnExit(psDiscoverySuper, func() {
		p.cancelTimer("discoveryStart")
		if err := p.adapter.StopDiscovery(); err != nil {
			p.log.WithError(err).Warn("stopDiscovery failed")
		}
	})

	p.fsm.OnEnter(psStoppingDiscovery, func() {
		p.armTimer("discoveryStop", p.timeouts.Pairing, evDiscoveryStopTimeout)
		if !p.adapter.IsDiscovering() {
			p.fsm.Dispatch(Event{Kind: evDiscoveryStopped})
		}
	})
	p.fsm.OnExit(psStoppingDiscovery, func() {
		p.cancelTimer("discoveryStop")
	})

	p.fsm.OnEnter(psPairingSuper, func() {
		p.armTimer("pairing", p.timeouts.Pairing, evPairingTimeout)
	})
	p.fsm.OnExit(psPairingSuper, func() {
		p.cancelTimer("pairing")
		p.cancelTimer("setup")
		if err := p.adapter.DisablePairable(); err != nil {
			p.log.WithError(err).Warn("disablePairable failed")
		}
	})

	p.fsm.OnEnter(psEnablePairable, func() {
		if p.adapter.IsPairable() {
			p.fsm.Dispatch(Event{Kind: evPairableEnabled})
			return
		}
		if err := p.adapter.EnablePairable(p.timeouts.Pairing + 5*time.Second); err != nil {
			p.log.WithError(err).Warn("enablePairable failed")
		}
	})

	p.fsm.OnEnter(psPairing, func() {
		if err := p.adapter.AddDevice(p.targetAddress); err != nil {
			p.log.WithError(err).Warn("addDevice failed")
		}
	})

	p.fsm.OnEnter(psSetup, func() {
		p.bonded = true
		p.cancelTimer("pairing")
		p.armTimer("setup", p.timeouts.Setup, evSetupTimeout)
	})

	p.fsm.OnEnter(psUnpairing, func() {
		p.armTimer("unpairing", p.timeouts.Unpairing, evUnpairingTimeout)
		if err := p.adapter.RemoveDevice(p.targetAddress); err != nil {
			p.log.WithError(err).Warn("removeDevice failed")
			p.fsm.Dispatch(Event{Kind: evDeviceUnpaired})
		}
	})
	p.fsm.OnExit(psUnpairing, func() {
		p.cancelTimer("unpairing")
	})

	p.fsm.OnEnter(psFinished, func() {
		p.finish()
	})

	return p
}

func (p *PairingStateMachine) finish() {
	result := PairingResult{Success: p.succeeded, Address: p.targetAddress, Name: p.targetName}
	if result.Success {
		p.successes++
	}
	resumeDiscovery := p.discoveryStartedExternally

	p.running = false
	p.bonded = false
	p.succeeded = false
	p.haveTarget = false
	p.discoveryStartedExternally = false
	for name := range p.timers {
		p.cancelTimer(name)
	}

	if resumeDiscovery {
		if err := p.adapter.StartDiscovery(0); err != nil {
			p.log.WithError(err).Warn("could not resume externally-started discovery")
		}
	}

	if p.onFinished != nil {
		p.onFinished(result)
	}
}

// IsRunning reports whether a pairing attempt is in progress.
func (p *PairingStateMachine) IsRunning() bool {
	return p.running
}

// Attempts returns the number of pairing attempts started (spec's
// supplemented pairing stats, SPEC_FULL.md).
func (p *PairingStateMachine) Attempts() int { return p.attempts }

// Successes returns the number of pairing attempts that reached Finished
// after the target reported ready.
func (p *PairingStateMachine) Successes() int { return p.successes }

// ObserveDiscoveryChanged keeps the externally-started-discovery flag
// current even while idle, per spec §4.2's reconciliation rule, and
// forwards the change as an event while running.
func (p *PairingStateMachine) ObserveDiscoveryChanged(active bool) {
	p.discoveryActive = active
	if !p.running {
		return
	}
	if active {
		p.fsm.Dispatch(Event{Kind: evDiscoveryStarted})
	} else {
		p.fsm.Dispatch(Event{Kind: evDiscoveryStopped})
	}
}

// Start begins pairing using a filter byte / pairing code (spec §4.2's
// code-based start variant).
func (p *PairingStateMachine) Start(models []ModelProfile, filterByte int, pairingCode byte) error {
	if p.running {
		return fmt.Errorf("pairing already running")
	}
	prefixes := make(map[OUI]*regexp.Regexp)
	var all []*regexp.Regexp
	for _, m := range models {
		if m.Disabled || !m.SupportsFilterByte(byte(filterByte)) {
			continue
		}
		re, err := m.PairingNameRegexp(pairingCode)
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		prefixes[m.OUI] = re
		all = append(all, re)
	}
	p.pairingPrefixRegexes = prefixes
	p.supportedPairingNames = all
	p.macHashMode = false
	p.filterByte = filterByte
	p.pairingCode = int(pairingCode)
	p.startCommon()
	return nil
}

// StartMacHash begins pairing matching by address checksum instead of
// advertised name (spec §4.2's MAC-hash start variant).
func (p *PairingStateMachine) StartMacHash(filterByte int, macHash byte) error {
	if p.running {
		return fmt.Errorf("pairing already running")
	}
	p.pairingPrefixRegexes = nil
	p.supportedPairingNames = nil
	p.macHashMode = true
	p.pairingMacHash = macHash
	p.filterByte = filterByte
	p.pairingCode = 0
	p.startCommon()
	return nil
}

// StartTarget begins pairing against an already-identified device address
// and name (spec §4.2's target-address start variant, fed by
// ScannerStateMachine's result).
func (p *PairingStateMachine) StartTarget(addr Address, name string) error {
	if p.running {
		return fmt.Errorf("pairing already running")
	}
	re, err := compileExactMatch(regexp.QuoteMeta(name))
	if err != nil {
		return err
	}
	p.pairingPrefixRegexes = nil
	p.supportedPairingNames = []*regexp.Regexp{re}
	p.macHashMode = false
	p.pairingCode = 0
	p.haveTarget = true
	p.targetAddress = addr
	p.targetName = name
	p.startCommon()
	return nil
}

func (p *PairingStateMachine) startCommon() {
	p.running = true
	p.bonded = false
	p.succeeded = false
	p.attempts++
	if p.discoveryActive {
		p.discoveryStartedExternally = true
		p.fsm.SetInitial(psStoppingDiscoveryStartedExternally)
	} else {
		p.discoveryStartedExternally = false
		p.fsm.SetInitial(psStartingDiscovery)
	}
}

// Cancel requests early termination (spec §9 open question #2's
// resolution, recorded in SPEC_FULL.md): if a device has already been
// bonded, it is unpaired before finishing; otherwise the machine finishes
// immediately.
func (p *PairingStateMachine) Cancel() {
	if !p.running {
		return
	}
	if p.bonded {
		p.fsm.Dispatch(Event{Kind: evPairingCancelBonded})
		return
	}
	p.fsm.Dispatch(Event{Kind: evPairingCancelUnbonded})
}

// HandleAdapterEvent translates an AdapterEvent into the machine's own
// event vocabulary and dispatches it, when running.
func (p *PairingStateMachine) HandleAdapterEvent(ev AdapterEvent) {
	switch ev.Kind {
	case EventPoweredChanged:
		if !ev.Bool && p.running {
			p.fsm.Dispatch(Event{Kind: evAdapterPoweredOff})
		}
	case EventDiscoveryChanged:
		p.ObserveDiscoveryChanged(ev.Bool)
	case EventPairableChanged:
		if !p.running {
			return
		}
		if ev.Bool {
			p.fsm.Dispatch(Event{Kind: evPairableEnabled})
		} else {
			p.fsm.Dispatch(Event{Kind: evPairableDisabled})
		}
	case EventDeviceFound, EventDeviceNameChanged:
		if p.running {
			p.processDevice(ev.Address, ev.Name)
		}
	case EventDeviceRemoved:
		if p.running && p.haveTarget && ev.Address == p.targetAddress {
			p.fsm.Dispatch(Event{Kind: evDeviceRemoved})
		}
	case EventDevicePairingChanged:
		if !p.running || !p.haveTarget || ev.Address != p.targetAddress {
			return
		}
		if ev.Bool {
			p.fsm.Dispatch(Event{Kind: evDevicePaired})
		} else {
			p.fsm.Dispatch(Event{Kind: evDeviceUnpaired})
		}
	case EventDeviceReadyChanged:
		if p.running && p.haveTarget && ev.Address == p.targetAddress && ev.Bool {
			p.succeeded = true
			p.fsm.Dispatch(Event{Kind: evDeviceReady})
		}
	}
}

// processDevice implements spec §4.2's matching algorithm: an OUI with a
// registered pairing-name regex must match it exactly; otherwise any known
// pairing-name regex, or (in MAC-hash mode) the address checksum, accepts
// the device.
func (p *PairingStateMachine) processDevice(addr Address, name string) {
	if !p.matches(addr, name) {
		return
	}

	switch {
	case !p.haveTarget:
		if p.adapter.IsDevicePaired(addr) {
			if err := p.adapter.RemoveDevice(addr); err != nil {
				p.log.WithError(err).Warn("removeDevice (stale pairing) failed")
			}
			return
		}
		p.haveTarget = true
		p.targetAddress = addr
		p.targetName = name
		p.fsm.Dispatch(Event{Kind: evDeviceFound, Address: addr, Name: name})
	case p.targetAddress == addr:
		p.fsm.Dispatch(Event{Kind: evDeviceFound, Address: addr, Name: name})
	default:
		p.log.WithFields(logrus.Fields{"candidate": addr, "target": p.targetAddress}).
			Warn("ignoring second pairing candidate while one is already latched")
	}
}

func (p *PairingStateMachine) matches(addr Address, name string) bool {
	if re, ok := p.pairingPrefixRegexes[addr.OUI()]; ok {
		return re.MatchString(name)
	}
	for _, re := range p.supportedPairingNames {
		if re.MatchString(name) {
			return true
		}
	}
	if p.macHashMode {
		return addr.ChecksumByte() == p.pairingMacHash
	}
	return false
}

func (p *PairingStateMachine) armTimer(name string, d time.Duration, kind EventKind) {
	p.cancelTimer(name)
	p.timers[name] = time.AfterFunc(d, func() {
		p.post(Event{Kind: kind})
	})
}

func (p *PairingStateMachine) cancelTimer(name string) {
	if t, ok := p.timers[name]; ok {
		t.Stop()
		delete(p.timers, name)
	}
}
