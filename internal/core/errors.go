// Package core defines the call domain types, collaborator ports and
// sentinel errors shared by the monitor, terminator and orchestrator.
package core

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// Discovery errors
	ErrDiscoveryTimeout = errors.New("callmon: no qualifying participant within discovery budget")

	// Observation errors
	ErrObservation          = errors.New("callmon: call observation failed")
	ErrDirectoryUnavailable = errors.New("callmon: room directory unavailable")

	// Termination errors
	ErrTermination         = errors.New("callmon: call termination failed")
	ErrParticipantNotFound = errors.New("callmon: participant not found")

	// Monitor lifecycle errors
	ErrMonitorStarted = errors.New("callmon: monitor already bound to a participant")
	ErrNoActiveCall   = errors.New("callmon: no call is being monitored")

	// Configuration errors
	ErrConfigInvalid   = errors.New("callmon: invalid configuration")
	ErrBackendNotFound = errors.New("callmon: directory backend not found")
)
