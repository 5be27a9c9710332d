package monitor

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
)

// Handle binds a session name to the identity of the participant being
// watched. It exists from Start until the polling loop exits.
type Handle struct {
	session  string
	identity string
	info     classifier.CallInfo

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.RWMutex
	participant core.Participant
	reason      core.TerminationReason
	err         error
	polls       int
	startedAt   time.Time
	endedAt     time.Time
}

func newHandle(parent context.Context, session string, p core.Participant, info classifier.CallInfo, now time.Time) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		session:     session,
		identity:    p.Identity,
		info:        info,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		participant: p.Clone(),
		startedAt:   now,
	}
}

// Session returns the session name.
func (h *Handle) Session() string { return h.session }

// Identity returns the bound participant identity.
func (h *Handle) Identity() string { return h.identity }

// Info returns the call diagnostics captured when monitoring started.
func (h *Handle) Info() classifier.CallInfo { return h.info }

// Participant returns the most recently observed state of the participant.
func (h *Handle) Participant() core.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.participant.Clone()
}

// Done is closed once the polling loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the polling loop to exit at its next suspension point.
func (h *Handle) Cancel() { h.cancel() }

// Await blocks until the call ends and returns why.
func (h *Handle) Await() core.TerminationReason {
	<-h.done
	return h.Reason()
}

// AwaitContext is Await bounded by ctx.
func (h *Handle) AwaitContext(ctx context.Context) (core.TerminationReason, error) {
	select {
	case <-h.done:
		return h.Reason(), nil
	case <-ctx.Done():
		return core.ReasonNone, ctx.Err()
	}
}

// Reason returns the termination reason, or ReasonNone while active.
func (h *Handle) Reason() core.TerminationReason {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason
}

// Err returns the observation error that ended the call, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Polls returns the number of roster fetches made while active.
func (h *Handle) Polls() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.polls
}

// StartedAt returns when monitoring started.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// EndedAt returns when monitoring ended, or the zero time while active.
func (h *Handle) EndedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endedAt
}

func (h *Handle) countPoll() {
	h.mu.Lock()
	h.polls++
	h.mu.Unlock()
}

func (h *Handle) setParticipant(p core.Participant) {
	h.mu.Lock()
	h.participant = p.Clone()
	h.mu.Unlock()
}

func (h *Handle) complete(reason core.TerminationReason, err error, now time.Time) {
	h.mu.Lock()
	h.reason = reason
	h.err = err
	h.endedAt = now
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}
