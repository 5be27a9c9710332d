// Package events publishes call lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"

	"firestige.xyz/callmon/internal/core"
)

// Version is the wire format version carried by every event.
const Version = "v1"

// Type names an event.
type Type string

const (
	TypeCallStarted       Type = "call_started"
	TypeCallEnded         Type = "call_ended"
	TypeDiscoveryTimedOut Type = "discovery_timed_out"
	TypeDiscoveryFailed   Type = "discovery_failed"
)

// Event is one call lifecycle transition.
//
// Example JSON:
//
//	{
//	  "version":     "v1",
//	  "type":        "call_ended",
//	  "node":        "node-01",
//	  "session":     "test-inbound-3f9a2c1d",
//	  "identity":    "sip_15551234567",
//	  "origin":      "+15551234567",
//	  "destination": "+15105551234",
//	  "state":       "ended",
//	  "reason":      "caller_hangup",
//	  "timestamp":   "2024-01-15T10:30:00Z",
//	  "started_at":  "2024-01-15T10:28:41Z"
//	}
type Event struct {
	Version     string                 `json:"version"`
	Type        Type                   `json:"type"`
	Node        string                 `json:"node,omitempty"`
	Session     string                 `json:"session"`
	Identity    string                 `json:"identity,omitempty"`
	Origin      string                 `json:"origin,omitempty"`
	Destination string                 `json:"destination,omitempty"`
	State       core.MonitorState      `json:"state"`
	Reason      core.TerminationReason `json:"reason,omitempty"`
	Terminated  bool                   `json:"terminated,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	Attributes  map[string]string      `json:"attributes,omitempty"`
}

// Reporter publishes events.
type Reporter interface {
	Report(ctx context.Context, ev Event) error
	Close() error
}

// NopReporter drops every event.
type NopReporter struct{}

func (NopReporter) Report(context.Context, Event) error { return nil }
func (NopReporter) Close() error                        { return nil }
