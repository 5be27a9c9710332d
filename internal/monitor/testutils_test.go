package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callmon/internal/classifier"
	"firestige.xyz/callmon/internal/core"
)

// scriptedDirectory answers the n-th ListParticipants call (1-based) from script.
type scriptedDirectory struct {
	mu     sync.Mutex
	calls  int
	script func(call int) ([]core.Participant, error)
}

func (d *scriptedDirectory) ListParticipants(ctx context.Context, _ string) ([]core.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	return d.script(call)
}

func (d *scriptedDirectory) RemoveParticipant(context.Context, string, string) error {
	return nil
}

func (d *scriptedDirectory) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func caller(status string) core.Participant {
	attrs := map[string]string{classifier.AttrOriginNumber: "+15551234567"}
	if status != "" {
		attrs[classifier.AttrCallStatus] = status
	}
	return core.Participant{Identity: "caller-1", Name: "Caller", Attributes: attrs}
}

func agent() core.Participant {
	return core.Participant{Identity: "agent", Name: "Inbound Assistant"}
}

const (
	testInterval = 500 * time.Millisecond
	testTimeout  = 2 * time.Second
)

func newTestMonitor(dir core.RoomDirectory, fc *clockwork.FakeClock, opts ...Option) *Monitor {
	opts = append([]Option{WithClock(fc)}, opts...)
	return New(dir, classifier.New(classifier.DefaultKeys()),
		Config{PollInterval: testInterval, DiscoveryTimeout: testTimeout}, opts...)
}

// advance waits for the monitor to block on the clock, then moves time by one poll interval.
func advance(t *testing.T, fc *clockwork.FakeClock, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := fc.BlockUntilContext(ctx, 1)
		cancel()
		require.NoError(t, err, "monitor did not wait on the clock (step %d)", i+1)
		fc.Advance(testInterval)
	}
}

func awaitReason(t *testing.T, h *Handle) core.TerminationReason {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reason, err := h.AwaitContext(ctx)
	require.NoError(t, err, "call did not end")
	return reason
}
