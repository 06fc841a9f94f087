package blercu

import "time"

// fakeAdapter is a minimal, single-threaded Adapter test double. It records
// every call the state machines make so tests can assert on the sequence,
// and lets the test script adapter-side state changes (discovery, pairing,
// ready) at will by calling HandleAdapterEvent directly — mirroring how the
// real internal/bluez adapter would emit them from BlueZ's D-Bus signals.
type fakeAdapter struct {
	powered     bool
	discovering bool
	pairable    bool
	paired      map[Address]bool
	names       map[Address]string

	startDiscoveryCalls []int
	stopDiscoveryCalls  int
	enablePairableCalls []time.Duration
	disablePairableCalls int
	addDeviceCalls      []Address
	removeDeviceCalls   []Address

	events chan AdapterEvent
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		powered: true,
		paired:  make(map[Address]bool),
		names:   make(map[Address]string),
		events:  make(chan AdapterEvent, 16),
	}
}

func (f *fakeAdapter) IsAvailable() bool { return true }
func (f *fakeAdapter) IsPowered() bool   { return f.powered }
func (f *fakeAdapter) IsDiscovering() bool { return f.discovering }

func (f *fakeAdapter) StartDiscovery(pairingCode int) error {
	f.discovering = true
	f.startDiscoveryCalls = append(f.startDiscoveryCalls, pairingCode)
	return nil
}

func (f *fakeAdapter) StopDiscovery() error {
	f.stopDiscoveryCalls++
	return nil
}

func (f *fakeAdapter) IsPairable() bool { return f.pairable }

func (f *fakeAdapter) EnablePairable(timeout time.Duration) error {
	f.enablePairableCalls = append(f.enablePairableCalls, timeout)
	return nil
}

func (f *fakeAdapter) DisablePairable() error {
	f.disablePairableCalls++
	f.pairable = false
	return nil
}

func (f *fakeAdapter) PairedDevices() map[Address]struct{} {
	out := make(map[Address]struct{})
	for a, p := range f.paired {
		if p {
			out[a] = struct{}{}
		}
	}
	return out
}

func (f *fakeAdapter) DeviceNames() map[Address]string {
	out := make(map[Address]string, len(f.names))
	for a, n := range f.names {
		out[a] = n
	}
	return out
}

func (f *fakeAdapter) IsDevicePaired(addr Address) bool { return f.paired[addr] }

func (f *fakeAdapter) AddDevice(addr Address) error {
	f.addDeviceCalls = append(f.addDeviceCalls, addr)
	return nil
}

func (f *fakeAdapter) RemoveDevice(addr Address) error {
	f.removeDeviceCalls = append(f.removeDeviceCalls, addr)
	delete(f.paired, addr)
	return nil
}

func (f *fakeAdapter) GetDevice(addr Address) (ServiceHandle, error) {
	return nil, nil
}

func (f *fakeAdapter) Events() <-chan AdapterEvent { return f.events }
