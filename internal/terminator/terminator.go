// Package terminator force-ends calls by removing the signaling participant
// from its session.
package terminator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
	"firestige.xyz/callmon/internal/metrics"
)

// DefaultTimeout bounds a single removal request.
const DefaultTimeout = 10 * time.Second

// TerminationError reports a failed forced removal. It matches
// core.ErrTermination and unwraps to the directory error.
type TerminationError struct {
	Session  string
	Identity string
	Err      error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate %q in session %q: %v", e.Identity, e.Session, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

func (e *TerminationError) Is(target error) bool { return target == core.ErrTermination }

// Terminator issues forced-removal requests against a room directory.
// Concurrent requests for the same session and identity share one call.
type Terminator struct {
	dir     core.RoomDirectory
	timeout time.Duration
	log     log.Logger
	group   singleflight.Group
}

// New creates a terminator; timeout <= 0 uses DefaultTimeout.
func New(dir core.RoomDirectory, timeout time.Duration, logger log.Logger) *Terminator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Terminator{
		dir:     dir,
		timeout: timeout,
		log:     logger.WithField("component", "terminator"),
	}
}

// Terminate removes identity from sessionName. A participant that is
// already gone counts as terminated. Failures are returned as
// *TerminationError.
//
// The removal runs detached from ctx's cancellation, bounded by the
// terminator timeout, so a shutdown does not abandon it half way; ctx only
// bounds how long the caller waits. A caller that stops waiting gets a
// *TerminationError wrapping ctx.Err().
func (t *Terminator) Terminate(ctx context.Context, sessionName, identity string) error {
	logger := t.log.WithFields(map[string]interface{}{
		"session":     sessionName,
		"participant": identity,
	})

	ch := t.group.DoChan(sessionName+"\x00"+identity, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		logger.Info("ending call")
		return nil, t.dir.RemoveParticipant(rctx, sessionName, identity)
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		metrics.ObserveTermination(metrics.OutcomeFailed)
		logger.WithError(ctx.Err()).Warn("stopped waiting for call termination")
		return &TerminationError{Session: sessionName, Identity: identity, Err: ctx.Err()}
	}

	switch {
	case err == nil:
		metrics.ObserveTermination(metrics.OutcomeRemoved)
		logger.Info("call ended")
		return nil
	case errors.Is(err, core.ErrParticipantNotFound):
		metrics.ObserveTermination(metrics.OutcomeAlreadyGone)
		logger.Info("participant already gone, nothing to terminate")
		return nil
	default:
		metrics.ObserveTermination(metrics.OutcomeFailed)
		logger.WithError(err).Error("call termination failed")
		return &TerminationError{Session: sessionName, Identity: identity, Err: err}
	}
}
