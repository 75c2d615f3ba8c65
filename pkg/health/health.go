// Package health implements liveness and readiness probes. Registered checks
// run periodically in the background; the HTTP endpoints only report the last
// observed state, so probe handlers stay fast even when a dependency hangs.
//
// Checks flip state on consecutive results, Kubernetes-style: a probe must
// fail failThreshold times in a row to become unhealthy and pass
// successThreshold times to recover, which keeps one slow poll from bouncing
// the service out of the load balancer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. Nil means healthy.
type CheckFunc func(ctx context.Context) error

const (
	failThreshold    = 3
	successThreshold = 1
)

// probe is one registered check plus its observed state. poll is invoked from
// a single goroutine; the streak counters belong to it alone. state is read
// concurrently by HTTP handlers and is guarded by mu.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	failStreak int
	okStreak   int

	mu      sync.Mutex
	healthy bool
	lastErr error
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	// Healthy until observed otherwise, so registration order does not
	// race the first poll.
	return &probe{name: name, timeout: timeout, check: check, healthy: true}
}

// poll runs the check once and updates the streaks and observed state.
func (p *probe) poll(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(checkCtx)
	cancel()

	if err != nil {
		p.okStreak = 0
		p.failStreak++
	} else {
		p.failStreak = 0
		p.okStreak++
	}

	p.mu.Lock()
	p.lastErr = err
	if p.failStreak >= failThreshold {
		p.healthy = false
	}
	if p.okStreak >= successThreshold {
		p.healthy = true
	}
	p.mu.Unlock()
}

// status returns the observed health and last error.
func (p *probe) status() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.lastErr
}

// Health tracks liveness and readiness probes for one service.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health with no probes, in the not-ready state. Call SetReady
// once startup completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe for /livez. Liveness failures mean the
// process itself is broken (leaked goroutines, runaway GC) and should be
// restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
	h.mu.Unlock()
}

// AddReadinessCheck registers a probe for /readyz. Readiness failures mean a
// dependency (database, cache) is unavailable and traffic should be routed
// elsewhere until it recovers.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
	h.mu.Unlock()
}

// Start launches one polling goroutine per registered probe. Register all
// probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			p.poll(ctx)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.poll(ctx)
				}
			}
		}(p)
	}
}

// Stop halts the polling goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it false
// first so load balancers drain the instance before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// probe is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(&h.readiness) {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(probes *[]*probe) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*probe, len(*probes))
	copy(out, *probes)
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes, 503 with
// the failing probe names otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz: 200 only when the service is marked ready and
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	respond(w, failed)
}

// failures maps each unhealthy probe to its last error message.
func failures(probes []*probe) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		healthy, err := p.status()
		if healthy {
			continue
		}
		if err != nil {
			out[p.name] = err.Error()
		} else {
			out[p.name] = "check is unhealthy"
		}
	}
	return out
}

func respond(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failed}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
