package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Probe returns the current status of one component.
type Probe func() Status

// Monitor tracks the health of named components. A component either pushes
// its status with Update or is polled through a registered Probe.
type Monitor struct {
	system string

	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates a monitor whose aggregate is named system.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:   system,
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Register polls probe for the status of name. It replaces any status set
// with Update.
func (m *Monitor) Register(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
	delete(m.statuses, name)
}

// Update sets the status of name.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// Get returns the status of name, polling its probe if it has one.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, hasProbe := m.probes[name]
	status, hasStatus := m.statuses[name]
	m.mu.RUnlock()

	if hasProbe {
		s := probe()
		s.Component = name
		return s, true
	}
	return status, hasStatus
}

// GetAll returns the status of every component.
func (m *Monitor) GetAll() map[string]Status {
	names := m.ListComponents()
	out := make(map[string]Status, len(names))
	for _, name := range names {
		if s, ok := m.Get(name); ok {
			out[name] = s
		}
	}
	return out
}

// ListComponents returns the tracked names in sorted order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.probes))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth returns the system status with one sub-status per
// component, sorted by name.
func (m *Monitor) AggregateHealth() Status {
	names := m.ListComponents()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.Get(name); ok {
			subs = append(subs, s)
		}
	}
	return Aggregate(m.system, subs)
}

// ServeHTTP writes the aggregate as JSON. Unhealthy systems answer 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.AggregateHealth()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
