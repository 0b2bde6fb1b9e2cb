package health

import "errors"

var (
	// ErrProbeTimeout is returned when a remote node does not answer a
	// health probe within the configured timeout.
	ErrProbeTimeout = errors.New("health probe timed out")

	// ErrMonitorStopped is returned for operations on a stopped monitor.
	ErrMonitorStopped = errors.New("health monitor is stopped")

	// ErrInvalidThreshold is returned when thresholds fail validation.
	ErrInvalidThreshold = errors.New("invalid health threshold")
)
