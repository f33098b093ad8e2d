package httpserver

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthState tracks whether the database has answered since process start
// (§4.9). It is safe for concurrent use: the process entrypoint's startup
// probe sets it once, the health handler only reads it.
type HealthState struct {
	ready     atomic.Bool
	startedAt time.Time
}

// NewHealthState starts the uptime clock immediately; the health server must
// bind before the database is verified, so "not ready yet" is the correct
// initial state.
func NewHealthState() *HealthState {
	return &HealthState{startedAt: time.Now()}
}

// MarkReady records that the database has returned one successful
// `select now()`. Idempotent; later calls are no-ops.
func (h *HealthState) MarkReady() {
	h.ready.Store(true)
}

type healthPayload struct {
	Status       string  `json:"status"`
	UptimeSecond float64 `json:"uptime_seconds"`
	Timestamp    string  `json:"timestamp"`
}

// HealthHandler answers "/" and "/health" per §4.9: 200 once the database
// has verified connectivity, 503 before that, 404 for any other path.
func HealthHandler(state *HealthState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		payload := healthPayload{
			UptimeSecond: time.Since(state.startedAt).Seconds(),
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusServiceUnavailable
		payload.Status = "starting"
		if state.ready.Load() {
			status = http.StatusOK
			payload.Status = "ok"
		}
		writeJSON(w, status, payload)
	}
}
