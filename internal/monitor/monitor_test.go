package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callmon/internal/core"
)

type discoverResult struct {
	p   core.Participant
	err error
}

func discoverAsync(m *Monitor, timeout time.Duration) <-chan discoverResult {
	out := make(chan discoverResult, 1)
	go func() {
		p, err := m.Discover(context.Background(), "room-1", timeout)
		out <- discoverResult{p, err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan discoverResult) discoverResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not return")
		return discoverResult{}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(&scriptedDirectory{}, nil, Config{ObservationRetries: -3})

	assert.Equal(t, DefaultPollInterval, m.Config().PollInterval)
	assert.Equal(t, DefaultDiscoveryTimeout, m.Config().DiscoveryTimeout)
	assert.Equal(t, 0, m.Config().ObservationRetries)
	assert.Equal(t, core.StateDiscovering, m.State())
	assert.Nil(t, m.Handle())
}

func TestDiscoverImmediate(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return []core.Participant{agent(), caller("active")}, nil
	}}
	reg := core.NewRegistry()
	m := newTestMonitor(dir, clockwork.NewFakeClock(), WithRegistry(reg))

	p, err := m.Discover(context.Background(), "room-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "caller-1", p.Identity)
	assert.Equal(t, 1, dir.Calls())
	assert.Equal(t, core.StateDiscovering, m.State())
	assert.Equal(t, 2, reg.Len())
}

func TestDiscoverAfterPolling(t *testing.T) {
	dir := &scriptedDirectory{script: func(call int) ([]core.Participant, error) {
		if call < 3 {
			return []core.Participant{agent()}, nil
		}
		return []core.Participant{agent(), caller("")}, nil
	}}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	res := discoverAsync(m, 0)
	advance(t, fc, 2)

	r := receive(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "caller-1", r.p.Identity)
	assert.Equal(t, 3, dir.Calls())
}

func TestDiscoverTimeout(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) { return nil, nil }}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)
	start := fc.Now()

	res := discoverAsync(m, testTimeout)
	advance(t, fc, 4)

	r := receive(t, res)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, core.ErrDiscoveryTimeout)
	assert.Equal(t, 4, dir.Calls())
	assert.Equal(t, core.StateTimedOut, m.State())

	elapsed := fc.Since(start)
	assert.GreaterOrEqual(t, elapsed, testTimeout)
	assert.LessOrEqual(t, elapsed, testTimeout+testInterval)
}

func TestDiscoverTimeoutNotMultipleOfInterval(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) { return nil, nil }}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)
	start := fc.Now()

	res := discoverAsync(m, 1200*time.Millisecond)
	// Waits: 500ms, 500ms, then the 200ms remainder.
	advance(t, fc, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(200 * time.Millisecond)

	r := receive(t, res)
	assert.ErrorIs(t, r.err, core.ErrDiscoveryTimeout)
	assert.Equal(t, 3, dir.Calls())
	assert.Equal(t, 1200*time.Millisecond, fc.Since(start))
}

func TestDiscoverRosterError(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return nil, fmt.Errorf("%w: connection refused", core.ErrDirectoryUnavailable)
	}}
	m := newTestMonitor(dir, clockwork.NewFakeClock())

	_, err := m.Discover(context.Background(), "room-1", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrObservation)
	assert.ErrorIs(t, err, core.ErrDirectoryUnavailable)
	assert.Equal(t, core.StateEnded, m.State())
}

func TestDiscoverCancelled(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) { return nil, nil }}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, err := m.Discover(ctx, "room-1", 0)
		res <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-res:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery ignored cancellation")
	}
	assert.Equal(t, core.StateEnded, m.State())
}

func TestDiscoverAfterTimeoutRejected(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) { return nil, nil }}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	res := discoverAsync(m, testInterval)
	advance(t, fc, 1)
	require.ErrorIs(t, receive(t, res).err, core.ErrDiscoveryTimeout)

	_, err := m.Discover(context.Background(), "room-1", 0)
	assert.ErrorIs(t, err, core.ErrMonitorStarted)
	_, err = m.Start(context.Background(), "room-1", caller(""))
	assert.ErrorIs(t, err, core.ErrMonitorStarted)
}

func TestEndToEndHangup(t *testing.T) {
	dir := &scriptedDirectory{script: func(call int) ([]core.Participant, error) {
		if call <= 3 {
			return []core.Participant{caller("active")}, nil
		}
		return []core.Participant{caller(core.CallStatusHangup)}, nil
	}}
	fc := clockwork.NewFakeClock()
	reg := core.NewRegistry()
	m := newTestMonitor(dir, fc, WithRegistry(reg))

	// Poll 1: discovery finds the caller.
	p, err := m.Discover(context.Background(), "room-1", 0)
	require.NoError(t, err)

	h, err := m.Start(context.Background(), "room-1", p)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, m.State())
	assert.Equal(t, "+15551234567", h.Info().Origin)
	assert.Equal(t, "unknown", h.Info().Destination)

	// Polls 2 and 3 stay active, poll 4 observes the hangup.
	advance(t, fc, 2)

	assert.Equal(t, core.ReasonCallerHangup, awaitReason(t, h))
	assert.Equal(t, core.StateEnded, m.State())
	assert.Equal(t, 4, dir.Calls())
	assert.Equal(t, 3, h.Polls())
	assert.NoError(t, h.Err())
	assert.Equal(t, core.CallStatusHangup, h.Participant().Attributes["sip.callStatus"])
	assert.Equal(t, 2*testInterval, h.EndedAt().Sub(h.StartedAt()))

	recorded, ok := reg.Get("caller-1")
	require.True(t, ok)
	assert.Equal(t, core.CallStatusHangup, recorded.Attributes["sip.callStatus"])
}

func TestParticipantLeft(t *testing.T) {
	dir := &scriptedDirectory{script: func(call int) ([]core.Participant, error) {
		if call == 1 {
			return []core.Participant{agent(), caller("active")}, nil
		}
		return []core.Participant{agent()}, nil
	}}
	fc := clockwork.NewFakeClock()
	reg := core.NewRegistry()
	reg.Put(caller("active"))
	m := newTestMonitor(dir, fc, WithRegistry(reg))

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)
	advance(t, fc, 1)

	assert.Equal(t, core.ReasonParticipantLeft, awaitReason(t, h))
	assert.Equal(t, 2, dir.Calls())
	_, ok := reg.Get("caller-1")
	assert.False(t, ok)
}

func TestObservationErrorEndsCall(t *testing.T) {
	dir := &scriptedDirectory{script: func(call int) ([]core.Participant, error) {
		if call == 1 {
			return []core.Participant{caller("active")}, nil
		}
		return nil, fmt.Errorf("%w: 503", core.ErrDirectoryUnavailable)
	}}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)
	advance(t, fc, 1)

	assert.Equal(t, core.ReasonObservationError, awaitReason(t, h))
	require.Error(t, h.Err())
	assert.ErrorIs(t, h.Err(), core.ErrObservation)
	assert.ErrorIs(t, h.Err(), core.ErrDirectoryUnavailable)
	assert.Equal(t, 2, dir.Calls())
}

func TestObservationRetries(t *testing.T) {
	unavailable := errors.New("directory timeout")
	dir := &scriptedDirectory{script: func(call int) ([]core.Participant, error) {
		switch call {
		case 1, 3:
			return []core.Participant{caller("active")}, nil
		default:
			return nil, unavailable
		}
	}}
	fc := clockwork.NewFakeClock()
	m := New(dir, nil, Config{PollInterval: testInterval, DiscoveryTimeout: testTimeout, ObservationRetries: 1}, WithClock(fc))

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)
	// 1 ok, 2 fail (tolerated), 3 ok resets, 4 fail (tolerated), 5 fail ends.
	advance(t, fc, 4)

	assert.Equal(t, core.ReasonObservationError, awaitReason(t, h))
	assert.ErrorIs(t, h.Err(), unavailable)
	assert.Equal(t, 5, dir.Calls())
}

func TestCancelActiveMonitor(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return []core.Participant{caller("active")}, nil
	}}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	h.Cancel()

	assert.Equal(t, core.ReasonCancelled, awaitReason(t, h))
	assert.Equal(t, core.StateEnded, m.State())
	assert.Equal(t, 1, dir.Calls())
}

func TestParentContextCancelsMonitor(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return []core.Participant{caller("active")}, nil
	}}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := m.Start(ctx, "room-1", caller("active"))
	require.NoError(t, err)
	cancel()

	assert.Equal(t, core.ReasonCancelled, awaitReason(t, h))
}

func TestStartTwiceRejected(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return []core.Participant{caller("active")}, nil
	}}
	fc := clockwork.NewFakeClock()
	m := newTestMonitor(dir, fc)

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)
	defer h.Cancel()

	other := core.Participant{Identity: "caller-2", Attributes: map[string]string{"sip.from": "+1"}}
	_, err = m.Start(context.Background(), "room-1", other)
	assert.ErrorIs(t, err, core.ErrMonitorStarted)
	_, err = m.Discover(context.Background(), "room-1", 0)
	assert.ErrorIs(t, err, core.ErrMonitorStarted)
	assert.Same(t, h, m.Handle())
}

func TestAwaitContextWhileActive(t *testing.T) {
	dir := &scriptedDirectory{script: func(int) ([]core.Participant, error) {
		return []core.Participant{caller("active")}, nil
	}}
	m := newTestMonitor(dir, clockwork.NewFakeClock())

	h, err := m.Start(context.Background(), "room-1", caller("active"))
	require.NoError(t, err)
	defer h.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reason, err := h.AwaitContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.ReasonNone, reason)
	assert.Equal(t, core.ReasonNone, h.Reason())
}
