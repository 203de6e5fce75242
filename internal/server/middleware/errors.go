package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
)

// PanicRecorder counts recovered panics.
type PanicRecorder interface {
	ObservePanic()
}

// Recovery turns a handler panic into a structured 500 response.
func Recovery(recorder PanicRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", err)).
						WithCorrelationID(GetRequestID(r.Context()))
					panicErr, _ = panicErr.WithContext(map[string]interface{}{
						"stack_trace": string(debug.Stack()),
					})
					panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

					if recorder != nil {
						recorder.ObservePanic()
					}

					writeErrorResponse(w, panicErr, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse mirrors the envelope body written by the errors package.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeErrorResponse writes the body directly; the errors package imports this one.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
