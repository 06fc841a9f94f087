package blercu

import "time"

// ServiceHandle is the out-of-scope per-device service bundle (audio, IR,
// upgrade, battery, find-me) that external code drives once a device is
// managed. Modeled here only as an opaque handle (spec §1, §3).
type ServiceHandle interface {
	Address() Address
	Close() error
}

// ManagedDevice is the Controller's managed-device-set element (spec §3).
type ManagedDevice struct {
	Address Address
	Service ServiceHandle

	bonded    bool
	connected bool
	servicesUp bool

	becameReadyAt time.Time
}

// Ready reports the observable "bonded ∧ connected ∧ services initialized"
// state from spec §3.
func (d *ManagedDevice) Ready() bool {
	return d.bonded && d.connected && d.servicesUp
}

// BecameReadyAt is the monotonic timestamp used for LRU-by-ready eviction
// ordering (spec §4.1).
func (d *ManagedDevice) BecameReadyAt() time.Time {
	return d.becameReadyAt
}

// setReady transitions the three underlying flags and, only on the
// false->true edge of Ready(), latches becameReadyAt. now is injected so
// eviction ordering is deterministic in tests.
func (d *ManagedDevice) setReady(bonded, connected, servicesUp bool, now time.Time) {
	wasReady := d.Ready()
	d.bonded, d.connected, d.servicesUp = bonded, connected, servicesUp
	if !wasReady && d.Ready() {
		d.becameReadyAt = now
	}
}
