// Package memory is an in-process room directory. It backs the dry-run
// mode of the CLI and the orchestrator tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/directory"
)

// TypeName is the directory.type value selecting this backend.
const TypeName = "memory"

func init() {
	directory.Register(TypeName, func(options map[string]any) (core.Backend, error) {
		var opts Options
		if err := directory.DecodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return New(opts), nil
	})
}

// Options configures the memory backend.
type Options struct {
	// Sessions seeds rosters keyed by session name.
	Sessions map[string][]ParticipantOptions `mapstructure:"sessions"`
	// Attribute keys written by AttachSignalingParticipant and Hangup.
	CallStatusKey        string `mapstructure:"call_status_key"`
	OriginNumberKey      string `mapstructure:"origin_number_key"`
	DestinationNumberKey string `mapstructure:"destination_number_key"`
}

// ParticipantOptions is a seeded roster entry.
type ParticipantOptions struct {
	Identity   string            `mapstructure:"identity"`
	Name       string            `mapstructure:"name"`
	Attributes map[string]string `mapstructure:"attributes"`
}

// Directory keeps rosters in memory, in join order.
type Directory struct {
	keys classifier.Keys

	mu       sync.Mutex
	sessions map[string][]core.Participant
	err      error
	lists    int
}

// New creates a Directory seeded from opts.
func New(opts Options) *Directory {
	keys := classifier.DefaultKeys()
	if opts.CallStatusKey != "" {
		keys.CallStatus = opts.CallStatusKey
	}
	if opts.OriginNumberKey != "" {
		keys.OriginNumber = opts.OriginNumberKey
	}
	if opts.DestinationNumberKey != "" {
		keys.DestinationNumber = opts.DestinationNumberKey
	}

	d := &Directory{keys: keys, sessions: make(map[string][]core.Participant)}
	for session, roster := range opts.Sessions {
		for _, p := range roster {
			d.Join(session, core.Participant{Identity: p.Identity, Name: p.Name, Attributes: p.Attributes})
		}
	}
	return d
}

// ListParticipants returns a copy of the session roster. An unknown
// session has an empty roster.
func (d *Directory) ListParticipants(ctx context.Context, sessionName string) ([]core.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lists++
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDirectoryUnavailable, d.err)
	}
	roster := d.sessions[sessionName]
	out := make([]core.Participant, 0, len(roster))
	for _, p := range roster {
		out = append(out, p.Clone())
	}
	return out, nil
}

// RemoveParticipant drops identity from the session roster.
func (d *Directory) RemoveParticipant(ctx context.Context, sessionName, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.Leave(sessionName, identity) {
		return fmt.Errorf("%w: %s in %s", core.ErrParticipantNotFound, identity, sessionName)
	}
	return nil
}

// AttachSignalingParticipant creates the session if needed and joins a
// telephony participant carrying the caller and callee numbers.
func (d *Directory) AttachSignalingParticipant(ctx context.Context, sessionName, callerNumber, calleeNumber string) (core.Participant, error) {
	if err := ctx.Err(); err != nil {
		return core.Participant{}, err
	}
	p := core.Participant{
		Identity: "sip_" + strings.TrimPrefix(callerNumber, "+"),
		Name:     "Inbound call " + callerNumber,
		Attributes: map[string]string{
			d.keys.OriginNumber: callerNumber,
			d.keys.CallStatus:   "active",
		},
	}
	if calleeNumber != "" && d.keys.DestinationNumber != "" {
		p.Attributes[d.keys.DestinationNumber] = calleeNumber
	}
	d.Join(sessionName, p)
	return p.Clone(), nil
}

// Close is a no-op.
func (d *Directory) Close() error { return nil }

// Join adds p to the session, replacing any participant with the same identity.
func (d *Directory) Join(sessionName string, p core.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p = p.Clone()
	roster := d.sessions[sessionName]
	for i := range roster {
		if roster[i].Identity == p.Identity {
			roster[i] = p
			return
		}
	}
	d.sessions[sessionName] = append(roster, p)
}

// Leave removes identity from the session and reports whether it was present.
func (d *Directory) Leave(sessionName, identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	roster := d.sessions[sessionName]
	for i := range roster {
		if roster[i].Identity == identity {
			d.sessions[sessionName] = append(roster[:i:i], roster[i+1:]...)
			return true
		}
	}
	return false
}

// SetAttribute sets one attribute on a participant. It reports false when
// the participant is not in the session.
func (d *Directory) SetAttribute(sessionName, identity, key, value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, p := range d.sessions[sessionName] {
		if p.Identity != identity {
			continue
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]string)
		}
		p.Attributes[key] = value
		d.sessions[sessionName][i] = p
		return true
	}
	return false
}

// Hangup marks the participant's call status as hung up.
func (d *Directory) Hangup(sessionName, identity string) bool {
	return d.SetAttribute(sessionName, identity, d.keys.CallStatus, core.CallStatusHangup)
}

// FailWith makes every following ListParticipants fail with err until it
// is called again with nil.
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Lists returns how many times ListParticipants was called.
func (d *Directory) Lists() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lists
}

var _ core.Backend = (*Directory)(nil)
