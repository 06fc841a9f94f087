package blercu

import "time"

// Timeouts collects every phase timeout named in spec §5, with the
// defaults given there. Loaded once from config and shared (by value) with
// every component that arms a timer.
type Timeouts struct {
	Discovery      time.Duration
	Pairing        time.Duration
	Setup          time.Duration
	Unpairing      time.Duration
	ScannerStart   time.Duration
	ScannerStop    time.Duration
	PostConnection time.Duration
	PostUpdate     time.Duration
	ParamRetry     time.Duration
	StartupTrigger time.Duration
}

// DefaultTimeouts returns the defaults enumerated in spec §5.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Discovery:      15 * time.Second,
		Pairing:        15 * time.Second,
		Setup:          60 * time.Second,
		Unpairing:      20 * time.Second,
		ScannerStart:   5 * time.Second,
		ScannerStop:    3 * time.Second,
		PostConnection: 30 * time.Second,
		PostUpdate:     5 * time.Second,
		ParamRetry:     60 * time.Second,
		StartupTrigger: 1 * time.Second,
	}
}
