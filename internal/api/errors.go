// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/plexcord/internal/model"
)

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, reason, msg string) {
	writeJSON(w, code, errorResponse{
		Error:     reason,
		Message:   msg,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "bad_request", msg)
}

// statusFor maps a reason code onto an HTTP status.
func statusFor(code model.ReasonCode) int {
	switch code {
	case "":
		return http.StatusOK
	case model.RRateLimited:
		return http.StatusTooManyRequests
	case model.RChannelBusy, model.RQueueFull:
		return http.StatusConflict
	case model.RMediaNotFound:
		return http.StatusNotFound
	case model.RCircuitOpen:
		return http.StatusServiceUnavailable
	case model.RStreaming, model.RAuthFailed:
		return http.StatusBadGateway
	case model.RCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// setRetryAfter sets the header in whole seconds, rounded up.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(d)))
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// writeReason writes the error reply for a failed domain call.
func writeReason(w http.ResponseWriter, err error) {
	code := model.ReasonFor(err)
	setRetryAfter(w, model.RetryAfterOf(err))
	msg := err.Error()
	if code == model.RInternal {
		msg = "internal error"
	}
	writeError(w, statusFor(code), string(code), msg)
}
