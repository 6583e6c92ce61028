package reconcile

import "errors"

// Sentinel errors for reconciliation operations.
// Use errors.Is() to check error types, as errors may be wrapped with context.
var (
	// ErrDiscoveryFailed - the inventory fetch failed or timed out; no
	// partial device list is returned.
	ErrDiscoveryFailed = errors.New("discovery failed")

	// ErrInvalidTariff - the tariff payload is not a finite number; the
	// event is dropped and no devices are touched.
	ErrInvalidTariff = errors.New("invalid tariff payload")

	// ErrTickInProgress - an hourly tick arrived while the previous one
	// was still draining; the new tick is skipped.
	ErrTickInProgress = errors.New("reconciliation tick already in progress")
)
