package blercu

import "time"

// Adapter is the consumed collaborator abstracting a running bluetooth
// daemon (spec §6.1). The production implementation (internal/bluez) backs
// it with a BlueZ-style D-Bus object manager; tests back it with a
// hand-written fake (fakeAdapter).
//
// All mutators are fire-and-forget commands: they post to the adapter and
// return, per spec §5's non-blocking suspension-point rule. Results surface
// asynchronously as AdapterEvents delivered through the Events channel.
type Adapter interface {
	IsAvailable() bool
	IsPowered() bool
	IsDiscovering() bool
	StartDiscovery(pairingCode int) error
	StopDiscovery() error

	IsPairable() bool
	EnablePairable(timeout time.Duration) error
	DisablePairable() error

	PairedDevices() map[Address]struct{}
	DeviceNames() map[Address]string
	IsDevicePaired(addr Address) bool
	AddDevice(addr Address) error
	RemoveDevice(addr Address) error
	GetDevice(addr Address) (ServiceHandle, error)

	// Events is a single, long-lived, FIFO channel of AdapterEvent shared by
	// every subscriber (Controller and both state machines), matching spec
	// §5's single-threaded, FIFO delivery guarantee.
	Events() <-chan AdapterEvent
}

// AdapterEventKind tags the union of events an Adapter emits (spec §6.1).
type AdapterEventKind int

const (
	EventPoweredChanged AdapterEventKind = iota
	EventDiscoveryChanged
	EventPairableChanged
	EventDeviceFound
	EventDeviceRemoved
	EventDeviceNameChanged
	EventDevicePairingChanged
	EventDeviceReadyChanged
)

// AdapterEvent is the tagged event envelope delivered on Adapter.Events().
// Only the fields relevant to Kind are populated.
type AdapterEvent struct {
	Kind AdapterEventKind

	Address Address
	Name    string
	Bool    bool // powered/discovery/pairable/paired/ready, per Kind
}
