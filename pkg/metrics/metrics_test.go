package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SetRegisteredWorkflows(3)
	m.Transition("activate", OutcomeSuccess)
	m.Transition("activate", OutcomeSuccess)
	m.Transition("activate", OutcomeFailure)
	m.ActivationFailed("update")
	m.TriggerFired("webhook")
	m.NotificationDropped()
	m.Invitation(OutcomeFailure)
	m.LifecycleEvent("user.deleted")

	assert.InDelta(t, 3, testutil.ToFloat64(m.registeredWorkflows), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.transitions.WithLabelValues("activate", OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.transitions.WithLabelValues("activate", OutcomeFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.activationFailures.WithLabelValues("update")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.triggerFirings.WithLabelValues("webhook")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.notificationsDropped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.invitations.WithLabelValues(OutcomeFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.lifecycleEvents.WithLabelValues("user.deleted")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetRegisteredWorkflows(1)
		m.Transition("delete", OutcomeSuccess)
		m.ActivationFailed("activate")
		m.TriggerFired("schedule")
		m.NotificationDropped()
		m.Invitation(OutcomeSuccess)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetRegisteredWorkflows(2)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tidewire_registered_workflows 2")
}
