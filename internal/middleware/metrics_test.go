package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanboompow/ai-agent-dashboard/internal/metrics"
)

func TestMetricsMiddlewareUsesRoutePathTemplate(t *testing.T) {
	m := metrics.NewWithRegistry(t.Name(), prometheus.NewRegistry())

	r := mux.NewRouter()
	r.Use(Metrics("test-service", m))
	r.HandleFunc("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc-123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsMiddlewarePassesThroughWithoutRoute(t *testing.T) {
	m := metrics.NewWithRegistry(t.Name(), prometheus.NewRegistry())
	handler := Metrics("test-service", m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/untemplated", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}
