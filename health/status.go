package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Pre-compiled regexes for error message sanitization
var (
	urlRegex         = regexp.MustCompile(`(?i)(https?|nats|amqps?|kafka|rpc\+amqp|rpc\+nats|s3|file)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a pipeline or of the whole system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, degraded or unhealthy
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	Runs         int64         `json:"runs"`
	ErrorCount   int64         `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// Report is the raw health data a pipeline exposes.
type Report struct {
	Running    bool
	Paused     bool
	StartedAt  time.Time
	LastRun    time.Time
	Runs       int64
	ErrorCount int64
	LastError  string // error of the latest failed run
	LastFailed bool   // whether the latest run failed
}

// FromReport converts a pipeline report into a status. A pipeline that is
// not running is unhealthy. A paused pipeline, or one whose latest run
// failed, is degraded. Error text is sanitized.
func FromReport(name string, r Report) Status {
	var s Status
	switch {
	case !r.Running:
		s = NewUnhealthy(name, "pipeline not running")
	case r.Paused:
		s = NewDegraded(name, "pipeline paused")
	case r.LastFailed:
		s = NewDegraded(name, "last run failed: "+sanitizeErrorMessage(r.LastError))
	default:
		s = NewHealthy(name, fmt.Sprintf("%d runs", r.Runs))
	}

	m := &Metrics{
		Runs:         r.Runs,
		ErrorCount:   r.ErrorCount,
		LastActivity: r.LastRun,
	}
	if r.Running && !r.StartedAt.IsZero() {
		m.Uptime = time.Since(r.StartedAt)
	}
	s.Metrics = m
	return s
}

// Aggregate combines sub-statuses. Any unhealthy sub-status makes the
// aggregate unhealthy, otherwise any degraded one makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no pipelines")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, fmt.Sprintf("%d of %d pipelines unhealthy", unhealthy, len(subStatuses)))
	case degraded > 0:
		status = NewDegraded(component, fmt.Sprintf("%d of %d pipelines degraded", degraded, len(subStatuses)))
	default:
		status = NewHealthy(component, fmt.Sprintf("%d pipelines healthy", len(subStatuses)))
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

// sanitizeErrorMessage strips endpoints, paths, addresses and credentials
// from error text before it is exposed over HTTP.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	// URLs first, they contain paths
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}
	return sanitized
}
