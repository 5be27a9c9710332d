package core

// MonitorState is the lifecycle state of a call monitor.
type MonitorState string

const (
	// StateDiscovering indicates a bounded search for a qualifying participant.
	StateDiscovering MonitorState = "discovering"
	// StateActive indicates the monitor is bound to a participant and polling.
	StateActive MonitorState = "active"
	// StateEnded is terminal: participant left, hangup observed, error or cancellation.
	StateEnded MonitorState = "ended"
	// StateTimedOut is terminal: discovery budget exhausted.
	StateTimedOut MonitorState = "timed_out"
)

// Terminal reports whether no further transitions can happen from s.
func (s MonitorState) Terminal() bool {
	return s == StateEnded || s == StateTimedOut
}

// TerminationReason explains why an active call ended.
type TerminationReason string

const (
	ReasonNone             TerminationReason = ""
	ReasonCallerHangup     TerminationReason = "caller_hangup"
	ReasonParticipantLeft  TerminationReason = "participant_left"
	ReasonObservationError TerminationReason = "observation_error"
	// ReasonCancelled is reported when the monitor was stopped by its owner
	// before any of the observed endings happened.
	ReasonCancelled TerminationReason = "cancelled"
)

// CallStatusHangup is the call-status attribute value set when the caller hangs up.
const CallStatusHangup = "hangup"
