package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/deskdupl/internal/duplicator"
	"github.com/breeze-rmm/deskdupl/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// CaptureStatus maps a capture engine state to a health status. States the
// owner can clear by reinitializing are degraded; the rest are unhealthy.
func CaptureStatus(s duplicator.State) Status {
	switch s.Class() {
	case duplicator.ClassNormal:
		return Healthy
	case duplicator.ClassRecoverable:
		return Degraded
	default:
		return Unhealthy
	}
}

// MonitorComponent is the check name used for a monitor's capture engine.
func MonitorComponent(id int) string {
	return fmt.Sprintf("monitor/%d", id)
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a new health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
	}
}

// Update records the health status for a named component.
// Invalid statuses are recorded as Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		log.Warn("invalid health status, treating as unhealthy", "component", name, "status", string(status))
		status = Unhealthy
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, seen := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}

	if status != Healthy && (!seen || prev.Status != status) {
		log.Warn("health check degraded", "component", name, "status", string(status), "message", message)
	}
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Remove drops a component's check.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Overall returns the worst status across all registered checks.
// If no checks are registered, returns Unknown.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if worse(c.Status, worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	return result
}

// Summary returns a JSON-friendly map for status reports. Overall and
// per-component statuses are read under one lock.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := m.overallLocked()
	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}

	return map[string]any{
		"status":     string(overall),
		"components": components,
	}
}

// worse returns true if a is worse than b.
func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 0
	}
}
