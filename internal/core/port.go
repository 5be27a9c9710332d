package core

import "context"

// RoomDirectory lists and removes participants in a named session.
//
// ListParticipants fails with an error wrapping ErrDirectoryUnavailable on
// transport or service faults. RemoveParticipant returns an error wrapping
// ErrParticipantNotFound when the identity is not in the session.
type RoomDirectory interface {
	ListParticipants(ctx context.Context, sessionName string) ([]Participant, error)
	RemoveParticipant(ctx context.Context, sessionName, identity string) error
}

// SessionProvisioner creates a named session and attaches a signaling
// participant to it.
type SessionProvisioner interface {
	AttachSignalingParticipant(ctx context.Context, sessionName, callerNumber, calleeNumber string) (Participant, error)
}

// Backend is a directory implementation that can also provision sessions.
type Backend interface {
	RoomDirectory
	SessionProvisioner
	Close() error
}
