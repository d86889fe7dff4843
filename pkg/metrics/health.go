package metrics

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Components whose health is tracked
const (
	ComponentStorage = "storage"
	ComponentDiscord = "discord"
	ComponentAPI     = "api"
	ComponentInflux  = "influx"
)

// Overall states reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// criticalComponents gate readiness; the rest only degrade health
var criticalComponents = []string{ComponentStorage, ComponentDiscord, ComponentAPI}

// HealthStatus is the JSON body of the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "degraded", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"` // component name to its state line
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// componentState is the last report for one component
type componentState struct {
	healthy bool
	message string // reason given when unhealthy
	updated time.Time
}

// Registry records the last reported state of each component
type Registry struct {
	mu         sync.RWMutex
	components map[string]componentState
	started    time.Time // base for the reported uptime
	version    string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]componentState),
		started:    time.Now(),
	}
}

var registry = NewRegistry()

// SetVersion sets the build version reported by the health endpoints
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// UpdateComponent records the health of a component in the process-wide
// registry and mirrors it to the squares_component_healthy gauge
func UpdateComponent(name string, healthy bool, message string) {
	registry.Update(name, healthy, message)
}

// Update records the health of a component
func (r *Registry) Update(name string, healthy bool, message string) {
	r.mu.Lock()
	r.components[name] = componentState{healthy: healthy, message: message, updated: time.Now()}
	r.mu.Unlock()

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(v)
}

// Health folds every component into one status. A critical component down
// makes the service unhealthy, any other one degrades it.
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.status(StatusHealthy)
	for name, c := range r.components {
		if c.healthy {
			out.Components[name] = StatusHealthy
			continue
		}
		out.Components[name] = StatusUnhealthy + ": " + c.message
		if slices.Contains(criticalComponents, name) {
			out.Status = StatusUnhealthy
		} else if out.Status == StatusHealthy {
			out.Status = StatusDegraded
		}
	}
	return out
}

// Readiness reports ready once every critical component has reported
// healthy
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.status(StatusReady)
	for _, name := range criticalComponents {
		c, ok := r.components[name]
		switch {
		case !ok:
			out.Status = StatusNotReady
			out.Message = "waiting for " + name + " initialization"
			out.Components[name] = "not registered"
		case !c.healthy:
			out.Status = StatusNotReady
			out.Message = "waiting for " + name
			out.Components[name] = "not ready: " + c.message
		default:
			out.Components[name] = StatusReady
		}
	}
	return out
}

func (r *Registry) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(r.components)),
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// GetHealth returns the process-wide health status
func GetHealth() HealthStatus {
	return registry.Health()
}

// GetReadiness returns the process-wide readiness status
func GetReadiness() HealthStatus {
	return registry.Readiness()
}

// HealthHandler serves /health; only an unhealthy status is a 503
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := GetHealth()
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := GetReadiness()
		code := http.StatusOK
		if h.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// LivenessHandler serves /live and answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		registry.mu.RLock()
		uptime := time.Since(registry.started).Round(time.Second).String()
		registry.mu.RUnlock()

		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
