package blercu

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScannerMachine(adapter *fakeAdapter) (*ScannerStateMachine, []ScannerResult) {
	var results []ScannerResult
	s := NewScannerStateMachine(adapter, DefaultTimeouts(), logrus.NewEntry(logrus.New()),
		func(Event) {}, func(r ScannerResult) { results = append(results, r) })
	return s, results
}

func scannerModels(t *testing.T) []ModelProfile {
	t.Helper()
	oui, ok := ParseOUI("AA:BB:CC")
	require.True(t, ok)
	return []ModelProfile{{
		Name:           "ScanRemote",
		OUI:            oui,
		ScanNameFormat: "BLERemote-Pair*",
	}}
}

func TestScannerStateMachineHappyPath(t *testing.T) {
	adapter := newFakeAdapter()
	s, _ := testScannerMachine(adapter)
	var finished []ScannerResult
	s.onFinished = func(r ScannerResult) { finished = append(finished, r) }

	require.NoError(t, s.Start(scannerModels(t), 10*time.Second))
	assert.True(t, s.fsm.In(ssStartingDiscovery))

	s.HandleAdapterEvent(AdapterEvent{Kind: EventDiscoveryChanged, Bool: true})
	assert.True(t, s.fsm.In(ssDiscovering))

	addr, ok := ParseAddress("AA:BB:CC:11:22:33")
	require.True(t, ok)
	s.HandleAdapterEvent(AdapterEvent{Kind: EventDeviceFound, Address: addr, Name: "BLERemote-Pair"})
	assert.True(t, s.fsm.In(ssStoppingDiscovery))

	s.HandleAdapterEvent(AdapterEvent{Kind: EventDiscoveryChanged, Bool: false})
	assert.False(t, s.IsRunning())
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Found)
	assert.Equal(t, addr, finished[0].Address)
}

func TestScannerStateMachineSkipsAlreadyPaired(t *testing.T) {
	adapter := newFakeAdapter()
	s, _ := testScannerMachine(adapter)
	require.NoError(t, s.Start(scannerModels(t), 0))
	s.HandleAdapterEvent(AdapterEvent{Kind: EventDiscoveryChanged, Bool: true})

	addr, _ := ParseAddress("AA:BB:CC:11:22:33")
	adapter.paired[addr] = true

	s.HandleAdapterEvent(AdapterEvent{Kind: EventDeviceFound, Address: addr, Name: "BLERemote-Pair"})
	assert.True(t, s.fsm.In(ssDiscovering), "already-paired device must not latch as a target")
}

func TestScannerStateMachineDeadline(t *testing.T) {
	adapter := newFakeAdapter()
	s, _ := testScannerMachine(adapter)
	var finished []ScannerResult
	s.onFinished = func(r ScannerResult) { finished = append(finished, r) }

	require.NoError(t, s.Start(scannerModels(t), 0))
	s.HandleAdapterEvent(AdapterEvent{Kind: EventDiscoveryChanged, Bool: true})
	s.fsm.Dispatch(Event{Kind: evScanDiscoveryTimeout})
	assert.True(t, s.fsm.In(ssStoppingDiscovery))

	s.HandleAdapterEvent(AdapterEvent{Kind: EventDiscoveryChanged, Bool: false})
	require.Len(t, finished, 1)
	assert.False(t, finished[0].Found)
}

func TestScannerStateMachineCancel(t *testing.T) {
	adapter := newFakeAdapter()
	s, _ := testScannerMachine(adapter)
	var finished []ScannerResult
	s.onFinished = func(r ScannerResult) { finished = append(finished, r) }

	require.NoError(t, s.Start(scannerModels(t), 0))
	s.Cancel()
	assert.True(t, s.fsm.In(ssStoppingDiscovery))
}
