package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMessage("allow")
		m.ObserveCycle("ok", time.Second)
		m.ObserveProviderCall("openai", nil, time.Second)
		m.ObserveToolCall("ticket_get", "ok")
		m.ObserveRetrieval("hit")
		m.ObserveEmbeddingCache(true)
		m.ObserveEviction()
		m.ObserveTriage("accepted", true)
		m.RegisterMemory(func() (int, int, int) { return 0, 0, 0 })
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveMessage("abusive")
	m.ObserveMessage("abusive")
	m.ObserveProviderCall("openai", errors.New("boom"), time.Millisecond)
	m.ObserveTriage("accepted", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("abusive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("openai", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.triage.WithLabelValues("accepted", "false")))
}

func TestHandlerExposesMemoryGauges(t *testing.T) {
	m := New()
	m.RegisterMemory(func() (int, int, int) { return 3, 1, 42 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "guild_assistant_memory_conversations 3"))
	assert.True(t, strings.Contains(body, "guild_assistant_memory_turns 42"))
}
