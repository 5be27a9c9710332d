// Package monitor tracks the lifecycle of one telephony call bridged into a
// session: bounded discovery of the signaling participant, then polling of
// its state until hangup, departure or an observation failure.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
)

const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultDiscoveryTimeout = 30 * time.Second
)

// Config holds the monitor timings.
type Config struct {
	PollInterval     time.Duration
	DiscoveryTimeout time.Duration
	// ObservationRetries is the number of consecutive failed roster fetches
	// tolerated while active. Zero ends the call on the first failure.
	ObservationRetries int
}

// DefaultConfig returns a 500ms poll interval and a 30s discovery budget.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
	}
}

// ConfigFrom converts the monitor section of the global configuration.
func ConfigFrom(mc config.MonitorConfig) Config {
	return Config{
		PollInterval:       mc.PollInterval,
		DiscoveryTimeout:   mc.DiscoveryTimeout,
		ObservationRetries: mc.ObservationRetries,
	}
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger the monitor scopes its entries from.
func WithLogger(l log.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithRegistry shares the owner's participant registry with the monitor.
func WithRegistry(r *core.Registry) Option {
	return func(m *Monitor) { m.registry = r }
}

// Monitor watches a single call. It binds to at most one participant and
// never rebinds once started; create a new Monitor per call.
type Monitor struct {
	dir        core.RoomDirectory
	classifier *classifier.Classifier
	cfg        Config
	clock      clockwork.Clock
	log        log.Logger
	registry   *core.Registry

	// discoverMu serialises Discover so roster requests never overlap.
	discoverMu sync.Mutex

	mu     sync.RWMutex
	state  core.MonitorState
	handle *Handle
}

// New creates a monitor in the Discovering state. Zero timings in cfg fall
// back to DefaultConfig.
func New(dir core.RoomDirectory, cls *classifier.Classifier, cfg Config, opts ...Option) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.ObservationRetries < 0 {
		cfg.ObservationRetries = 0
	}
	if cls == nil {
		cls = classifier.New(classifier.DefaultKeys())
	}
	m := &Monitor{
		dir:        dir,
		classifier: cls,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		state:      core.StateDiscovering,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = log.GetLogger()
	}
	m.log = m.log.WithField("component", "monitor")
	if m.registry == nil {
		m.registry = core.NewRegistry()
	}
	return m
}

// State returns the current lifecycle state.
func (m *Monitor) State() core.MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Handle returns the active call handle, or nil before Start.
func (m *Monitor) Handle() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Config returns the effective timings.
func (m *Monitor) Config() Config { return m.cfg }

// setState updates the state (not thread-safe, must hold mu lock).
func (m *Monitor) setState(s core.MonitorState) {
	if m.state == s {
		return
	}
	m.log.WithFields(map[string]interface{}{"from": m.state, "to": s}).Debug("monitor state changed")
	m.state = s
}

func (m *Monitor) checkDiscovering() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle != nil || m.state != core.StateDiscovering {
		return fmt.Errorf("%w: monitor is %s", core.ErrMonitorStarted, m.state)
	}
	return nil
}

// Discover looks for a qualifying participant in sessionName: once
// immediately, then every poll interval until timeout elapses. A timeout
// <= 0 uses the configured discovery timeout.
//
// It returns an error wrapping core.ErrDiscoveryTimeout when nothing
// qualifies in time, and one wrapping core.ErrObservation when the roster
// cannot be fetched. Both leave the monitor in a terminal state.
func (m *Monitor) Discover(ctx context.Context, sessionName string, timeout time.Duration) (core.Participant, error) {
	m.discoverMu.Lock()
	defer m.discoverMu.Unlock()

	if err := m.checkDiscovering(); err != nil {
		return core.Participant{}, err
	}
	if timeout <= 0 {
		timeout = m.cfg.DiscoveryTimeout
	}

	logger := m.log.WithField("session", sessionName)
	logger.Infof("waiting up to %s for a telephony participant", timeout)

	deadline := m.clock.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		roster, err := m.dir.ListParticipants(ctx, sessionName)
		if err != nil {
			if ctx.Err() != nil {
				m.end(core.StateEnded)
				return core.Participant{}, ctx.Err()
			}
			logger.WithError(err).WithField("attempt", attempt).Error("roster fetch failed during discovery")
			m.end(core.StateEnded)
			return core.Participant{}, fmt.Errorf("%w: session %q: %w", core.ErrObservation, sessionName, err)
		}
		m.registry.PutAll(roster)

		if p, ok := m.classifier.FindQualifyingParticipant(roster); ok {
			logger.WithFields(map[string]interface{}{
				"participant": p.Identity,
				"attempt":     attempt,
			}).Info("telephony participant found")
			return p.Clone(), nil
		}

		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			break
		}
		wait := m.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			m.end(core.StateEnded)
			return core.Participant{}, ctx.Err()
		case <-m.clock.After(wait):
		}
		if !m.clock.Now().Before(deadline) {
			logger.WithField("attempts", attempt).Debug("discovery budget exhausted")
			break
		}
	}

	logger.Warnf("no telephony participant joined within %s", timeout)
	m.end(core.StateTimedOut)
	return core.Participant{}, fmt.Errorf("%w: session %q after %s", core.ErrDiscoveryTimeout, sessionName, timeout)
}

func (m *Monitor) end(s core.MonitorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setState(s)
}

// Start binds the monitor to p in sessionName and begins polling in the
// background. It does not block. The returned handle reports the outcome;
// cancelling ctx or the handle stops polling at the next suspension point.
func (m *Monitor) Start(ctx context.Context, sessionName string, p core.Participant) (*Handle, error) {
	m.mu.Lock()
	if m.handle != nil || m.state != core.StateDiscovering {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: monitor is %s", core.ErrMonitorStarted, state)
	}
	h := newHandle(ctx, sessionName, p, m.classifier.Describe(p), m.clock.Now())
	m.handle = h
	m.setState(core.StateActive)
	m.mu.Unlock()

	m.registry.Put(p)

	info := h.Info()
	logger := m.log.WithFields(map[string]interface{}{
		"session":     sessionName,
		"participant": p.Identity,
	})
	logger.WithFields(map[string]interface{}{
		"origin":      info.Origin,
		"destination": info.Destination,
	}).Info("monitoring incoming call")
	logger.WithField("attributes", info.Attributes).Info("signaling participant attributes")

	go m.run(h, logger)
	return h, nil
}

// run polls the roster until the call ends. Polls never overlap.
func (m *Monitor) run(h *Handle, logger log.Logger) {
	failures := 0
	for {
		roster, err := m.dir.ListParticipants(h.ctx, h.session)
		h.countPoll()
		if err != nil {
			if h.ctx.Err() != nil {
				m.finish(h, logger, core.ReasonCancelled, nil)
				return
			}
			failures++
			if failures > m.cfg.ObservationRetries {
				logger.WithError(err).WithField("failures", failures).Error("call observation failed, treating call as ended")
				m.finish(h, logger, core.ReasonObservationError,
					fmt.Errorf("%w: session %q participant %q: %w", core.ErrObservation, h.session, h.identity, err))
				return
			}
			logger.WithError(err).WithField("failures", failures).Warn("roster fetch failed, retrying on next poll")
		} else {
			failures = 0
			current, ok := core.Lookup(roster, h.identity)
			if !ok {
				m.registry.Remove(h.identity)
				logger.Info("participant left the session")
				m.finish(h, logger, core.ReasonParticipantLeft, nil)
				return
			}
			m.registry.Put(current)
			h.setParticipant(current)
			if m.classifier.IsHangup(current) {
				logger.Info("caller hung up")
				m.finish(h, logger, core.ReasonCallerHangup, nil)
				return
			}
		}

		select {
		case <-h.ctx.Done():
			m.finish(h, logger, core.ReasonCancelled, nil)
			return
		case <-m.clock.After(m.cfg.PollInterval):
		}
	}
}

func (m *Monitor) finish(h *Handle, logger log.Logger, reason core.TerminationReason, err error) {
	m.mu.Lock()
	m.setState(core.StateEnded)
	m.mu.Unlock()

	h.complete(reason, err, m.clock.Now())
	logger.WithFields(map[string]interface{}{
		"reason": reason,
		"polls":  h.Polls(),
	}).Info("call monitoring finished")
}
