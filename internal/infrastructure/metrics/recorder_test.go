package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Transitions(t *testing.T) {
	r := NewRecorder()

	r.InstanceStarted("def-1")
	r.TransitionAttempted("def-1", "applied", 20*time.Millisecond)
	r.TransitionAttempted("def-1", "applied", 10*time.Millisecond)
	r.TransitionAttempted("def-1", "guard_rejected", time.Millisecond)
	r.InstanceFinished("def-1", "completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.instancesStarted.WithLabelValues("def-1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("def-1", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("def-1", "guard_rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instancesFinished.WithLabelValues("def-1", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.transitionLatency))
}

func TestRecorder_ActionsAndSuggestions(t *testing.T) {
	r := NewRecorder()

	r.ActionExecuted("stamp", nil, time.Millisecond)
	r.ActionExecuted("send-notification", errors.New("timeout"), time.Second)
	r.ActionExecuted("", nil, 0)
	assert.Equal(t, 3, testutil.CollectAndCount(r.actionDuration))

	r.SuggestionsServed(3, 2, nil)
	r.SuggestionsServed(0, 0, errors.New("recommender down"))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.suggestions.WithLabelValues("offered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.suggestions.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.suggestions.WithLabelValues("unavailable")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.InstanceStarted("def-9")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `workflow_instances_started_total{definition="def-9"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
