// Package httpapi is the control-plane HTTP surface: task submission and
// administration, system-wide controls, agent status and pause/resume, a
// Server-Sent Events stream, and a duplex WebSocket endpoint — all backed by
// the scheduler, event bus, fleet registry, and stream fan-out packages.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanboompow/ai-agent-dashboard/internal/aggregator"
	"github.com/vanboompow/ai-agent-dashboard/internal/eventbus"
	"github.com/vanboompow/ai-agent-dashboard/internal/fanout"
	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
	"github.com/vanboompow/ai-agent-dashboard/internal/middleware"
	"github.com/vanboompow/ai-agent-dashboard/internal/registry"
	"github.com/vanboompow/ai-agent-dashboard/internal/scheduler"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// Deps wires every component the HTTP surface dispatches into.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Bus        *eventbus.Bus
	Aggregator *aggregator.Aggregator
	Fanout     *fanout.Manager
	Workers    *registry.Directory
	Metrics    *metrics.Metrics
	Log        *logger.Logger

	ServiceName   string
	RateLimitRPS  float64
	RateLimitBurst int
}

// NewRouter builds the full route tree with the standard middleware chain
// applied: panic recovery, request logging, request metrics, then per-client
// rate limiting on the /tasks and /system routes.
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Metrics(d.ServiceName, d.Metrics))

	limiter := middleware.NewRateLimiter(rpsOrDefault(d.RateLimitRPS), burstOrDefault(d.RateLimitBurst))
	limiter.StartCleanup(10 * time.Minute)

	h := &handlers{deps: d}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	tasks := r.PathPrefix("/tasks").Subrouter()
	tasks.Use(limiter.Handler)
	tasks.HandleFunc("", h.submitTask).Methods(http.MethodPost)
	tasks.HandleFunc("/batch", h.batchSubmit).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}", h.cancelTask).Methods(http.MethodDelete)
	tasks.HandleFunc("/{id}/reassign", h.reassignTask).Methods(http.MethodPost)

	system := r.PathPrefix("/system").Subrouter()
	system.Use(limiter.Handler)
	system.HandleFunc("/run", h.systemRun).Methods(http.MethodPost)
	system.HandleFunc("/pause-all", h.systemPauseAll).Methods(http.MethodPost)
	system.HandleFunc("/stop-new", h.systemStopNew).Methods(http.MethodPost)
	system.HandleFunc("/throttle", h.systemThrottle).Methods(http.MethodPost)

	agents := r.PathPrefix("/agents").Subrouter()
	agents.HandleFunc("", h.listAgents).Methods(http.MethodGet)
	agents.HandleFunc("/{id}", h.getAgent).Methods(http.MethodGet)
	agents.HandleFunc("/{id}/pause", h.pauseAgent).Methods(http.MethodPost)
	agents.HandleFunc("/{id}/resume", h.resumeAgent).Methods(http.MethodPost)
	agents.HandleFunc("/{id}/heartbeat", h.agentHeartbeat).Methods(http.MethodPost)

	r.HandleFunc("/stream", h.stream).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.websocket).Methods(http.MethodGet)

	return r
}

func rpsOrDefault(v float64) float64 {
	if v <= 0 {
		return 20
	}
	return v
}

func burstOrDefault(v int) int {
	if v <= 0 {
		return 40
	}
	return v
}

type handlers struct {
	deps *Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
