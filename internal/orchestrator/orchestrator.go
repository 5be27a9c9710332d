// Package orchestrator binds one session to one call monitor for the
// session's lifetime and hands confirmed calls to a voice pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/events"
	"firestige.xyz/callmon/internal/history"
	"firestige.xyz/callmon/internal/log"
	"firestige.xyz/callmon/internal/metrics"
	"firestige.xyz/callmon/internal/monitor"
	"firestige.xyz/callmon/internal/terminator"
)

// ShutdownNoParticipant is the shutdown reason when discovery times out.
const ShutdownNoParticipant = "no qualifying participant"

// eventTimeout bounds publishing a single lifecycle event.
const eventTimeout = 5 * time.Second

// ShutdownFunc asks the owner of the session to tear it down.
type ShutdownFunc func(reason string)

// Config holds the orchestrator timings.
type Config struct {
	Monitor          monitor.Config
	TerminateTimeout time.Duration
}

// ConfigFrom converts the monitor section of the global configuration.
func ConfigFrom(mc config.MonitorConfig) Config {
	return Config{Monitor: monitor.ConfigFrom(mc), TerminateTimeout: mc.TerminateTimeout}
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPipeline replaces the default GreetingPipeline.
func WithPipeline(p Pipeline) Option {
	return func(o *Orchestrator) { o.pipeline = p }
}

// WithShutdown sets the hook called when the session should be torn down.
func WithShutdown(f ShutdownFunc) Option {
	return func(o *Orchestrator) { o.shutdown = f }
}

// WithHistory persists one record per call into store, keeping at most
// keep records (0 keeps all).
func WithHistory(store history.Store, keep int) Option {
	return func(o *Orchestrator) {
		o.history = store
		o.keep = keep
	}
}

// WithEvents publishes lifecycle events to r.
func WithEvents(r events.Reporter) Option {
	return func(o *Orchestrator) { o.events = r }
}

// WithNode tags call records with the node name.
func WithNode(node string) Option {
	return func(o *Orchestrator) { o.node = node }
}

// WithClock replaces the wall clock used by the monitor, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the base logger.
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Result describes how a session's call ended.
type Result struct {
	Session     string
	Participant core.Participant
	Info        classifier.CallInfo
	State       core.MonitorState
	Reason      core.TerminationReason
	Err         error
	Polls       int
	StartedAt   time.Time
	EndedAt     time.Time
	Terminated  bool
}

// Orchestrator owns the participant registry, the monitor and the
// terminator of a single session. Run it once.
type Orchestrator struct {
	session    string
	classifier *classifier.Classifier
	registry   *core.Registry
	monitor    *monitor.Monitor
	terminator *terminator.Terminator
	pipeline   Pipeline
	shutdown   ShutdownFunc
	history    history.Store
	keep       int
	events     events.Reporter
	node       string
	clock      clockwork.Clock
	log        log.Logger

	mu          sync.Mutex
	handle      *monitor.Handle
	terminated  bool
	terminating int // removals in flight
}

// New creates an orchestrator for sessionName.
func New(sessionName string, dir core.RoomDirectory, cls *classifier.Classifier, cfg Config, opts ...Option) *Orchestrator {
	if cls == nil {
		cls = classifier.New(classifier.DefaultKeys())
	}
	o := &Orchestrator{
		session:    sessionName,
		classifier: cls,
		registry:   core.NewRegistry(),
		history:    history.NoopStore{},
		events:     events.NopReporter{},
		shutdown:   func(string) {},
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = log.GetLogger()
	}
	if o.pipeline == nil {
		o.pipeline = &GreetingPipeline{Classifier: cls, Log: o.log}
	}

	o.monitor = monitor.New(dir, cls, cfg.Monitor,
		monitor.WithClock(o.clock),
		monitor.WithLogger(o.log),
		monitor.WithRegistry(o.registry),
	)
	o.terminator = terminator.New(dir, cfg.TerminateTimeout, o.log)
	o.log = o.log.WithFields(map[string]interface{}{"component": "orchestrator", "session": sessionName})
	return o
}

// Session returns the session name.
func (o *Orchestrator) Session() string { return o.session }

// State returns the monitor state.
func (o *Orchestrator) State() core.MonitorState { return o.monitor.State() }

// Participants returns every participant seen in the session, sorted by identity.
func (o *Orchestrator) Participants() []core.Participant { return o.registry.Snapshot() }

// Handle returns the active call handle, or nil before a call is confirmed.
func (o *Orchestrator) Handle() *monitor.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle
}

// Run discovers the call, hands it to the pipeline and waits for the
// monitor to end it. On discovery timeout it requests a session shutdown
// and returns an error wrapping core.ErrDiscoveryTimeout.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	startedAt := o.clock.Now()
	o.log.Info("waiting for an inbound call")

	p, err := o.monitor.Discover(ctx, o.session, 0)
	if err != nil {
		res := Result{Session: o.session, State: o.monitor.State(), Err: err, StartedAt: startedAt, EndedAt: o.clock.Now()}
		elapsed := res.EndedAt.Sub(startedAt)
		switch {
		case errors.Is(err, core.ErrDiscoveryTimeout):
			metrics.ObserveDiscovery(metrics.OutcomeTimedOut, elapsed)
			o.publish(ctx, events.TypeDiscoveryTimedOut, res)
			o.shutdown(ShutdownNoParticipant)
		case ctx.Err() == nil:
			metrics.ObserveDiscovery(metrics.OutcomeError, elapsed)
			o.publish(ctx, events.TypeDiscoveryFailed, res)
			o.shutdown(fmt.Sprintf("error: %v", err))
		default:
			metrics.ObserveDiscovery(metrics.OutcomeCancelled, elapsed)
		}
		o.save(res)
		return res, err
	}
	metrics.ObserveDiscovery(metrics.OutcomeFound, o.clock.Since(startedAt))

	h, err := o.monitor.Start(ctx, o.session, p)
	if err != nil {
		return Result{Session: o.session, State: o.monitor.State(), Err: err}, err
	}
	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
	metrics.CallStarted()
	o.publish(ctx, events.TypeCallStarted, Result{
		Session:     o.session,
		Participant: h.Participant(),
		Info:        h.Info(),
		State:       core.StateActive,
		StartedAt:   h.StartedAt(),
	})

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		if err := o.pipeline.Run(gctx, o.session, p); err != nil && !errors.Is(err, context.Canceled) {
			o.log.WithError(err).WithField("participant", p.Identity).Error("voice pipeline failed, call stays up until it ends")
		}
		return nil
	})

	reason := h.Await()
	cancel()
	_ = g.Wait()

	o.mu.Lock()
	terminated := o.terminated || o.terminating > 0
	o.mu.Unlock()

	res := Result{
		Session:     o.session,
		Participant: h.Participant(),
		Info:        h.Info(),
		State:       o.monitor.State(),
		Reason:      reason,
		Err:         h.Err(),
		Polls:       h.Polls(),
		StartedAt:   h.StartedAt(),
		EndedAt:     h.EndedAt(),
		Terminated:  terminated,
	}
	o.log.WithFields(map[string]interface{}{
		"participant": p.Identity,
		"reason":      reason,
		"duration":    res.EndedAt.Sub(res.StartedAt).String(),
	}).Info("call ended")
	metrics.CallEnded(reason, res.EndedAt.Sub(res.StartedAt))
	o.publish(ctx, events.TypeCallEnded, res)
	o.save(res)
	return res, res.Err
}

// Terminate force-removes the monitored participant and stops the monitor.
// It returns an error wrapping core.ErrNoActiveCall before a call is
// confirmed, and a *terminator.TerminationError when removal fails, in
// which case monitoring continues.
func (o *Orchestrator) Terminate(ctx context.Context) error {
	h := o.Handle()
	if h == nil {
		return fmt.Errorf("%w: session %q", core.ErrNoActiveCall, o.session)
	}
	// The monitor may see the participant gone before the removal returns.
	o.mu.Lock()
	o.terminating++
	o.mu.Unlock()

	err := o.terminator.Terminate(ctx, o.session, h.Identity())

	o.mu.Lock()
	o.terminating--
	if err == nil {
		o.terminated = true
	}
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.registry.Remove(h.Identity())
	h.Cancel()
	return nil
}

// publish reports a lifecycle event. It outlives ctx so that the final
// events of an interrupted session still go out.
func (o *Orchestrator) publish(ctx context.Context, typ events.Type, res Result) {
	ev := events.Event{
		Type:        typ,
		Node:        o.node,
		Session:     o.session,
		Identity:    res.Participant.Identity,
		Origin:      res.Info.Origin,
		Destination: res.Info.Destination,
		State:       res.State,
		Reason:      res.Reason,
		Terminated:  res.Terminated,
		Timestamp:   o.clock.Now(),
		StartedAt:   res.StartedAt,
		Attributes:  res.Info.Attributes,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := o.events.Report(rctx, ev); err != nil {
		o.log.WithError(err).WithField("event", typ).Warn("failed to publish call event")
	}
}

func (o *Orchestrator) save(res Result) {
	rec := history.Record{
		ID:          history.RecordID(o.session, res.StartedAt),
		Node:        o.node,
		Session:     o.session,
		Identity:    res.Participant.Identity,
		Origin:      res.Info.Origin,
		Destination: res.Info.Destination,
		State:       res.State,
		Reason:      res.Reason,
		Terminated:  res.Terminated,
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
		Polls:       res.Polls,
		Attributes:  res.Info.Attributes,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := o.history.Save(rec); err != nil {
		o.log.WithError(err).Warn("failed to persist call record")
		return
	}
	if removed, err := history.Prune(o.history, o.keep); err != nil {
		o.log.WithError(err).Warn("failed to prune call history")
	} else if removed > 0 {
		o.log.WithField("removed", removed).Debug("pruned call history")
	}
}
