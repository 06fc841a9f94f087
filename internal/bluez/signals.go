//go:build linux

package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

// dispatchLoop translates BlueZ D-Bus signals into blercu.AdapterEvent
// values and posts them on the shared Events() channel, until Close is
// called. It is the one goroutine that mutates a's cached property maps —
// every other method only reads them under a.mu, so there is exactly one
// writer.
func (a *Adapter) dispatchLoop() {
	for {
		select {
		case <-a.done:
			return
		case sig, ok := <-a.signals:
			if !ok {
				return
			}
			a.handleSignal(sig)
		}
	}
}

func (a *Adapter) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case ifaceObjectManager + ".InterfacesAdded":
		a.handleInterfacesAdded(sig)
	case ifaceObjectManager + ".InterfacesRemoved":
		a.handleInterfacesRemoved(sig)
	case ifaceProperties + ".PropertiesChanged":
		a.handlePropertiesChanged(sig)
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces[ifaceDevice]
	if !ok {
		return
	}
	if a.path == "" || !strings.HasPrefix(string(path), string(a.path)+"/") {
		return
	}

	addrStr := variantString(props["Address"])
	addr, ok := blercu.ParseAddress(addrStr)
	if !ok {
		return
	}

	a.mu.Lock()
	a.devices[addr] = path
	a.paths[path] = addr
	a.deviceProps[addr] = deviceSnapshot{
		name:             variantString(props["Name"]),
		paired:           variantBool(props["Paired"]),
		connected:        variantBool(props["Connected"]),
		servicesResolved: variantBool(props["ServicesResolved"]),
	}
	a.mu.Unlock()

	a.emit(blercu.AdapterEvent{Kind: blercu.EventDeviceFound, Address: addr, Name: variantString(props["Name"])})
}

func (a *Adapter) handleInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	a.mu.Lock()
	addr, known := a.paths[path]
	if known {
		delete(a.paths, path)
		delete(a.devices, addr)
		delete(a.deviceProps, addr)
	}
	a.mu.Unlock()

	if known {
		a.emit(blercu.AdapterEvent{Kind: blercu.EventDeviceRemoved, Address: addr})
	}
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case ifaceAdapter:
		if sig.Path != a.path {
			return
		}
		a.handleAdapterPropertiesChanged(changed)
	case ifaceDevice:
		a.handleDevicePropertiesChanged(sig.Path, changed)
	}
}

func (a *Adapter) handleAdapterPropertiesChanged(changed map[string]dbus.Variant) {
	if v, ok := changed["Powered"]; ok {
		b := variantBool(v)
		a.mu.Lock()
		a.powered = b
		a.mu.Unlock()
		a.emit(blercu.AdapterEvent{Kind: blercu.EventPoweredChanged, Bool: b})
	}
	if v, ok := changed["Discovering"]; ok {
		a.emit(blercu.AdapterEvent{Kind: blercu.EventDiscoveryChanged, Bool: variantBool(v)})
	}
	if v, ok := changed["Pairable"]; ok {
		b := variantBool(v)
		a.mu.Lock()
		a.pairable = b
		a.mu.Unlock()
		a.emit(blercu.AdapterEvent{Kind: blercu.EventPairableChanged, Bool: b})
	}
}

func (a *Adapter) handleDevicePropertiesChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	a.mu.Lock()
	addr, ok := a.paths[path]
	if !ok {
		a.mu.Unlock()
		return
	}
	snap := a.deviceProps[addr]

	nameChanged, pairingChanged, readyRelevant := false, false, false
	if v, ok := changed["Name"]; ok {
		snap.name = variantString(v)
		nameChanged = true
	}
	if v, ok := changed["Paired"]; ok {
		snap.paired = variantBool(v)
		pairingChanged = true
	}
	if v, ok := changed["Connected"]; ok {
		snap.connected = variantBool(v)
		readyRelevant = true
	}
	if v, ok := changed["ServicesResolved"]; ok {
		snap.servicesResolved = variantBool(v)
		readyRelevant = true
	}
	a.deviceProps[addr] = snap
	a.mu.Unlock()

	if nameChanged {
		a.emit(blercu.AdapterEvent{Kind: blercu.EventDeviceNameChanged, Address: addr, Name: snap.name})
	}
	if pairingChanged {
		a.emit(blercu.AdapterEvent{Kind: blercu.EventDevicePairingChanged, Address: addr, Bool: snap.paired})
	}
	if readyRelevant {
		// spec §3 defines "ready" as bonded ∧ connected ∧ servicesUp; the
		// Controller computes that conjunction itself from bonded (via
		// devicePairingChanged) and the ready-relevant pair here, so this
		// adapter reports the narrower "connected ∧ servicesResolved"
		// signal under the same event kind, letting Controller AND it
		// with IsDevicePaired as spec §4.1 already does.
		a.emit(blercu.AdapterEvent{
			Kind:    blercu.EventDeviceReadyChanged,
			Address: addr,
			Bool:    snap.connected && snap.servicesResolved,
		})
	}
}

func (a *Adapter) emit(ev blercu.AdapterEvent) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}
