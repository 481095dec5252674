package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

func TestRecoveryConvertsPanicToInternalServerError(t *testing.T) {
	log := logger.NewDefault("test")
	handler := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected a JSON error body")
	}
}

func TestRecoveryPassesThroughNormalResponses(t *testing.T) {
	log := logger.NewDefault("test")
	handler := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
