package blercu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionParametersValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  ConnectionParameters
		wantErr bool
	}{
		{
			name:    "typical RCU profile",
			params:  ConnectionParameters{MinIntervalMs: 15, MaxIntervalMs: 15, Latency: 332, SupervisionTimeoutMs: 15000},
			wantErr: false,
		},
		{
			name:    "interval below minimum",
			params:  ConnectionParameters{MinIntervalMs: 5, MaxIntervalMs: 15, Latency: 0, SupervisionTimeoutMs: 1000},
			wantErr: true,
		},
		{
			name:    "max below min",
			params:  ConnectionParameters{MinIntervalMs: 30, MaxIntervalMs: 15, Latency: 0, SupervisionTimeoutMs: 1000},
			wantErr: true,
		},
		{
			name:    "latency too high",
			params:  ConnectionParameters{MinIntervalMs: 15, MaxIntervalMs: 15, Latency: 500, SupervisionTimeoutMs: 32000},
			wantErr: true,
		},
		{
			name:    "supervision timeout too small for latency",
			params:  ConnectionParameters{MinIntervalMs: 15, MaxIntervalMs: 15, Latency: 332, SupervisionTimeoutMs: 100},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionParametersCloseEnough(t *testing.T) {
	desired := ConnectionParameters{MinIntervalMs: 15, MaxIntervalMs: 15, Latency: 332, SupervisionTimeoutMs: 15000}

	// S5 from spec §8: interval out of range is not close enough.
	observed := ConnectionParameters{MinIntervalMs: 30, Latency: 332, SupervisionTimeoutMs: 15000}
	assert.False(t, observed.CloseEnough(desired))

	converged := ConnectionParameters{MinIntervalMs: 15, Latency: 332, SupervisionTimeoutMs: 15000}
	assert.True(t, converged.CloseEnough(desired))

	withinTolerance := ConnectionParameters{MinIntervalMs: 15, Latency: 340, SupervisionTimeoutMs: 15900}
	assert.True(t, withinTolerance.CloseEnough(desired))

	outsideLatencyTolerance := ConnectionParameters{MinIntervalMs: 15, Latency: 360, SupervisionTimeoutMs: 15000}
	assert.False(t, outsideLatencyTolerance.CloseEnough(desired))
}
