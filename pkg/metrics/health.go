package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cluster states reported by Registry
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
	StateReady     = "ready"
	StateNotReady  = "not_ready"
)

// trackerNode is the registry key of the tracker cluster
const trackerNode = "tracker"

// NodeState is the last observed state of one cluster node
type NodeState struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Detail  string    `json:"detail,omitempty"`
	Checked time.Time `json:"checked"`
}

// Report is the body of the health and readiness endpoints
type Report struct {
	Status  string            `json:"status"`
	Time    time.Time         `json:"time"`
	Nodes   map[string]string `json:"nodes,omitempty"`
	Message string            `json:"message,omitempty"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime,omitempty"`
}

// Registry holds the tracker state and the state of every storage server the
// tracker last listed
type Registry struct {
	mu      sync.RWMutex
	tracker *NodeState
	storage map[string]NodeState
	version string
	started time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(version string) *Registry {
	return &Registry{
		storage: make(map[string]NodeState),
		version: version,
		started: time.Now(),
	}
}

// StorageNodeName names a storage server in reports
func StorageNodeName(group, addr string) string {
	return "storage/" + group + "/" + addr
}

// MarkTracker records the outcome of the last tracker poll
func (r *Registry) MarkTracker(healthy bool, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker = &NodeState{Name: trackerNode, Healthy: healthy, Detail: detail, Checked: time.Now()}
}

// SetStorage replaces the set of known storage servers. Servers missing from
// nodes are forgotten.
func (r *Registry) SetStorage(nodes []NodeState) {
	now := time.Now()
	m := make(map[string]NodeState, len(nodes))
	for _, n := range nodes {
		if n.Checked.IsZero() {
			n.Checked = now
		}
		m[n.Name] = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage = m
}

// Nodes returns every node sorted by name, tracker first
func (r *Registry) Nodes() []NodeState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeState, 0, len(r.storage)+1)
	if r.tracker != nil {
		out = append(out, *r.tracker)
	}
	names := make([]string, 0, len(r.storage))
	for name := range r.storage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, r.storage[name])
	}
	return out
}

// Health reports unhealthy while the tracker is down or unpolled, degraded
// while any storage server is not serving and healthy otherwise
func (r *Registry) Health() Report {
	rep := r.report()
	var down []string
	for _, n := range r.Nodes() {
		if !n.Healthy {
			down = append(down, n.Name)
		}
	}

	switch {
	case !r.trackerUp():
		rep.Status = StateUnhealthy
		rep.Message = "tracker unavailable"
	case len(down) > 0:
		rep.Status = StateDegraded
		rep.Message = "not serving: " + strings.Join(down, ", ")
	default:
		rep.Status = StateHealthy
	}
	return rep
}

// Ready reports ready once the tracker answers and at least one storage
// server can take uploads
func (r *Registry) Ready() Report {
	rep := r.report()
	rep.Status = StateNotReady

	if !r.trackerUp() {
		rep.Message = "tracker unavailable"
		return rep
	}
	for _, n := range r.Nodes() {
		if n.Name != trackerNode && n.Healthy {
			rep.Status = StateReady
			return rep
		}
	}
	rep.Message = "no storage server is serving"
	return rep
}

func (r *Registry) trackerUp() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracker != nil && r.tracker.Healthy
}

func (r *Registry) report() Report {
	nodes := make(map[string]string)
	for _, n := range r.Nodes() {
		if n.Healthy {
			nodes[n.Name] = StateHealthy
		} else {
			nodes[n.Name] = StateUnhealthy + ": " + n.Detail
		}
	}
	return Report{
		Time:    time.Now(),
		Nodes:   nodes,
		Version: r.version,
		Uptime:  time.Since(r.started).Round(time.Second).String(),
	}
}

func writeReport(w http.ResponseWriter, rep Report, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

// HealthHandler serves Health. A degraded cluster still answers 200.
func (r *Registry) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Health()
		writeReport(w, rep, rep.Status != StateUnhealthy)
	})
}

// ReadyHandler serves Ready
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Ready()
		writeReport(w, rep, rep.Status == StateReady)
	})
}

// LiveHandler answers 200 while the process runs
func (r *Registry) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, Report{Status: "alive", Time: time.Now(), Version: r.version}, true)
	})
}
