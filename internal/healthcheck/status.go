package healthcheck

import "time"

type Status struct {
	Name         string    `json:"name"`
	Disabled     bool      `json:"disabled,omitempty"`
	IsHealthy    bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastSuccess  time.Time `json:"last_success"`
	LastFailure  time.Time `json:"last_failure"`
	FailureCount int       `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// Label is the short form used in health responses
func (s Status) Label() string {
	switch {
	case s.Disabled:
		return "disabled"
	case s.IsHealthy:
		return "up"
	default:
		return "down"
	}
}

// Represents overall health of the gateway's dependencies
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
