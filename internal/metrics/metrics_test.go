package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/callmon/internal/core"
)

func TestCallLifecycleMetrics(t *testing.T) {
	active := testutil.ToFloat64(CallsActive)
	ended := testutil.ToFloat64(CallsEndedTotal.WithLabelValues(string(core.ReasonCallerHangup)))

	CallStarted()
	assert.Equal(t, active+1, testutil.ToFloat64(CallsActive))

	CallEnded(core.ReasonCallerHangup, 42*time.Second)
	assert.Equal(t, active, testutil.ToFloat64(CallsActive))
	assert.Equal(t, ended+1, testutil.ToFloat64(CallsEndedTotal.WithLabelValues(string(core.ReasonCallerHangup))))
}

func TestObserveDiscoveryAndTermination(t *testing.T) {
	found := testutil.ToFloat64(DiscoveriesTotal.WithLabelValues(OutcomeFound))
	gone := testutil.ToFloat64(TerminationsTotal.WithLabelValues(OutcomeAlreadyGone))

	ObserveDiscovery(OutcomeFound, time.Second)
	ObserveTermination(OutcomeAlreadyGone)

	assert.Equal(t, found+1, testutil.ToFloat64(DiscoveriesTotal.WithLabelValues(OutcomeFound)))
	assert.Equal(t, gone+1, testutil.ToFloat64(TerminationsTotal.WithLabelValues(OutcomeAlreadyGone)))
}

func TestServerExposesMetrics(t *testing.T) {
	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	ObserveTermination(OutcomeRemoved)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `callmon_terminations_total{outcome="removed"}`)
}
