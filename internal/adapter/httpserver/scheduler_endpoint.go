package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/scheduler"
)

// schedulerResponse is the §6 external scheduler endpoint response body.
type schedulerResponse struct {
	Inserted        int    `json:"inserted"`
	JobType         string `json:"jobType,omitempty"`
	IntervalMinutes int    `json:"intervalMinutes,omitempty"`
	Message         string `json:"message,omitempty"`
}

// schedulerRequest is an optional JSON body overriding the configured dedup
// interval for this call only; IntervalMinutes, when set, must be positive.
type schedulerRequest struct {
	IntervalMinutes int `json:"interval_minutes,omitempty" validate:"omitempty,gt=0"`
}

var (
	schedulerValidatorOnce sync.Once
	schedulerValidator     *validator.Validate
)

func getSchedulerValidator() *validator.Validate {
	schedulerValidatorOnce.Do(func() { schedulerValidator = validator.New() })
	return schedulerValidator
}

// SchedulerEndpoint builds the GET/POST handler that enqueues fresh jobs for
// one source type (§4.2). enabled gates the whole handler off when the
// source's job type is disabled (ads jobs behind ADS_JOBS_ENABLED): the
// response is still 202, with inserted=0 and message="disabled", per §6.
func SchedulerEndpoint(sched *scheduler.Scheduler, sourceType domain.IntegrationType, intervalMinutes int, cronSecret string, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if !authorizeCron(r, cronSecret) {
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: "UNAUTHORIZED", Message: "missing or invalid cron credential"}})
			return
		}
		if !enabled {
			writeJSON(w, http.StatusAccepted, schedulerResponse{Inserted: 0, Message: "disabled"})
			return
		}

		effectiveInterval := intervalMinutes
		if r.Method == http.MethodPost {
			override, err := decodeIntervalOverride(r)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			if override > 0 {
				effectiveInterval = override
			}
		}

		res, err := sched.EnqueueFresh(r.Context(), sourceType, effectiveInterval)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, schedulerResponse{
			Inserted:        res.Inserted,
			JobType:         string(res.JobType),
			IntervalMinutes: res.IntervalMinutes,
		})
	}
}

// decodeIntervalOverride reads an optional JSON body on a POST request and
// returns a validated interval_minutes override, or 0 when the body is
// empty (no override requested).
func decodeIntervalOverride(r *http.Request) (int, error) {
	if r.Body == nil {
		return 0, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil || len(body) == 0 {
		return 0, nil
	}
	var req schedulerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, fmt.Errorf("op=scheduler_endpoint.decode: %w: invalid json body", domain.ErrInvalidArgument)
	}
	if err := getSchedulerValidator().Struct(req); err != nil {
		return 0, fmt.Errorf("op=scheduler_endpoint.validate: %w: %s", domain.ErrInvalidArgument, err.Error())
	}
	return req.IntervalMinutes, nil
}

// authorizeCron checks the X-Cron-Secret header or an Authorization: Bearer
// header against the configured secret. An empty cronSecret means the
// endpoint is open (no auth configured), per §6.
func authorizeCron(r *http.Request, cronSecret string) bool {
	if cronSecret == "" {
		return true
	}
	if v := r.Header.Get("X-Cron-Secret"); v != "" {
		return subtle.ConstantTimeCompare([]byte(v), []byte(cronSecret)) == 1
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		return subtle.ConstantTimeCompare([]byte(token), []byte(cronSecret)) == 1
	}
	return false
}
