package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler_NotReadyReturns503(t *testing.T) {
	state := NewHealthState()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	HealthHandler(state).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Result().StatusCode)
	}
	var payload healthPayload
	_ = json.NewDecoder(rec.Body).Decode(&payload)
	if payload.Status != "starting" {
		t.Fatalf("want starting status, got %q", payload.Status)
	}
}

func TestHealthHandler_ReadyReturns200(t *testing.T) {
	state := NewHealthState()
	state.MarkReady()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	HealthHandler(state).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Result().StatusCode)
	}
}

func TestHealthHandler_UnknownPathReturns404(t *testing.T) {
	state := NewHealthState()
	state.MarkReady()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	HealthHandler(state).ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Result().StatusCode)
	}
}
