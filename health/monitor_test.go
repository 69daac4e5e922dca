package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor("system")

	_, ok := m.Get("feed")
	assert.False(t, ok)

	m.Update("feed", Status{Status: StateHealthy, Healthy: true})
	s, ok := m.Get("feed")
	require.True(t, ok)
	assert.Equal(t, "feed", s.Component, "name is enforced")
	assert.False(t, s.Timestamp.IsZero(), "timestamp is filled")

	m.Remove("feed")
	_, ok = m.Get("feed")
	assert.False(t, ok)
}

func TestMonitor_ProbeIsPolled(t *testing.T) {
	m := NewMonitor("system")
	m.Update("inbox", NewHealthy("inbox", "pushed"))

	calls := 0
	state := StateHealthy
	m.Register("inbox", func() Status {
		calls++
		return newStatus("ignored", state, "probed")
	})

	s, ok := m.Get("inbox")
	require.True(t, ok)
	assert.Equal(t, "inbox", s.Component)
	assert.Equal(t, "probed", s.Message, "probe replaces the pushed status")

	state = StateDegraded
	assert.True(t, m.AggregateHealth().IsDegraded())
	assert.Equal(t, 2, calls)
}

func TestMonitor_AggregateSorted(t *testing.T) {
	m := NewMonitor("system")
	m.Update("zeta", NewHealthy("", ""))
	m.Register("alpha", func() Status { return NewUnhealthy("", "down") })
	m.Update("mid", NewDegraded("", ""))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, m.ListComponents())

	agg := m.AggregateHealth()
	assert.Equal(t, "system", agg.Component)
	assert.True(t, agg.IsUnhealthy())
	require.Len(t, agg.SubStatuses, 3)
	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)
	assert.Equal(t, "zeta", agg.SubStatuses[2].Component)

	all := m.GetAll()
	assert.Len(t, all, 3)
	assert.Equal(t, "down", all["alpha"].Message)
}

func TestMonitor_ServeHTTP(t *testing.T) {
	m := NewMonitor("system")
	m.Update("feed", NewHealthy("", ""))

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StateHealthy, body.Status)
	require.Len(t, body.SubStatuses, 1)

	m.Update("inbox", NewDegraded("", ""))
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded still serves")

	m.Update("inbox", NewUnhealthy("", ""))
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor("system")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("p%d", i)
			for j := 0; j < 50; j++ {
				m.Update(name, NewHealthy("", ""))
				_ = m.AggregateHealth()
				_, _ = m.Get(name)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.ListComponents(), 10)
}
