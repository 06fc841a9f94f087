package blercu

import (
	"fmt"
)

// ConnectionParameters is the (minInterval, maxInterval, latency,
// supervisionTimeout) tuple governing an active BLE link (spec §3).
//
// Interval and supervision timeout are held in their "natural" units
// (milliseconds) rather than the raw 1.25ms/10ms HCI units; internal/hci
// converts at the wire boundary.
type ConnectionParameters struct {
	MinIntervalMs        float64
	MaxIntervalMs        float64
	Latency              uint16
	SupervisionTimeoutMs uint16
}

// Validate checks the bounds and cross-field constraint from spec §3:
// interval in [7.5, 4000]ms, latency in [0, 499], supervisionTimeout in
// [100, 32000]ms, maxInterval >= minInterval, and the core BT spec
// constraint on supervision timeout vs. interval/latency.
func (p ConnectionParameters) Validate() error {
	const (
		minIntervalMs = 7.5
		maxIntervalMs = 4000
		maxLatency    = 499
		minSupvMs     = 100
		maxSupvMs     = 32000
	)

	if p.MinIntervalMs < minIntervalMs || p.MinIntervalMs > maxIntervalMs {
		return fmt.Errorf("minInterval %.2fms out of range [%.1f, %d]", p.MinIntervalMs, minIntervalMs, maxIntervalMs)
	}
	if p.MaxIntervalMs < minIntervalMs || p.MaxIntervalMs > maxIntervalMs {
		return fmt.Errorf("maxInterval %.2fms out of range [%.1f, %d]", p.MaxIntervalMs, minIntervalMs, maxIntervalMs)
	}
	if p.MaxIntervalMs < p.MinIntervalMs {
		return fmt.Errorf("maxInterval %.2fms < minInterval %.2fms", p.MaxIntervalMs, p.MinIntervalMs)
	}
	if p.Latency > maxLatency {
		return fmt.Errorf("latency %d exceeds max %d", p.Latency, maxLatency)
	}
	if p.SupervisionTimeoutMs < minSupvMs || p.SupervisionTimeoutMs > maxSupvMs {
		return fmt.Errorf("supervisionTimeout %dms out of range [%d, %d]", p.SupervisionTimeoutMs, minSupvMs, maxSupvMs)
	}

	// Core spec margin, restated in milliseconds from the raw-HCI-unit form
	// in spec §4.5 (maxInterval < supervisionTimeout*8, latency <=
	// supervisionTimeout*8/maxInterval - 1): (latency+1)*maxInterval <=
	// supervisionTimeout.
	if (float64(p.Latency)+1)*p.MaxIntervalMs > float64(p.SupervisionTimeoutMs) {
		return fmt.Errorf("supervision timeout %dms too small for maxInterval=%.2fms latency=%d",
			p.SupervisionTimeoutMs, p.MaxIntervalMs, p.Latency)
	}

	return nil
}

// CloseEnough implements the three conjunctive tolerances from spec §4.4:
// observed interval within [desired.min, desired.max], latency within 25 of
// desired, and supervision timeout within 1000ms of desired.
func (p ConnectionParameters) CloseEnough(desired ConnectionParameters) bool {
	const (
		latencyTolerance = 25
		supvToleranceMs  = 1000
	)

	if p.MinIntervalMs < desired.MinIntervalMs || p.MinIntervalMs > desired.MaxIntervalMs {
		return false
	}

	latencyDiff := int(p.Latency) - int(desired.Latency)
	if latencyDiff < 0 {
		latencyDiff = -latencyDiff
	}
	if latencyDiff > latencyTolerance {
		return false
	}

	supvDiff := int(p.SupervisionTimeoutMs) - int(desired.SupervisionTimeoutMs)
	if supvDiff < 0 {
		supvDiff = -supvDiff
	}
	return supvDiff <= supvToleranceMs
}
