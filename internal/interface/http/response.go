package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeDependencyNotMet = "dependencies_not_met"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate_limit_exceeded"
	CodeUnavailable      = "service_unavailable"
	CodeInternal         = "internal_error"
)

// writeJSON writes a success response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta writes a success response with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	encode(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: requestIDFrom(r),
	})
}

// writeJSONError writes an error response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	encode(w, status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: requestIDFrom(r),
	})
}

func encode(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// DependencyDetails is the error detail of a locked lesson or course.
type DependencyDetails struct {
	Subject      string                    `json:"subject"`
	ID           string                    `json:"id"`
	Requirements []shared.UnmetRequirement `json:"requirements"`
}

// writeError maps err onto the envelope. Internal errors are logged and
// answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if dnm, ok := shared.AsDependencyNotMet(err); ok {
		label := "Lesson"
		if dnm.Subject == "course" {
			label = "Course"
		}
		writeJSONError(w, r, http.StatusForbidden, CodeDependencyNotMet, label+" dependencies not met", DependencyDetails{
			Subject:      dnm.Subject,
			ID:           dnm.ID,
			Requirements: dnm.Unmet,
		})
		return
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.requestLogger(r).Error("request failed", logger.Err(err))
		writeJSONError(w, r, status, code, "An unexpected error occurred", nil)
		return
	}
	writeJSONError(w, r, status, code, publicMessage(err), nil)
}

func classify(err error) (int, string) {
	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case shared.IsForbidden(err):
		if errors.Is(err, shared.ErrUnauthorized) {
			return http.StatusUnauthorized, CodeUnauthorized
		}
		return http.StatusForbidden, CodeForbidden
	case shared.IsValidation(err):
		return http.StatusBadRequest, CodeInvalidRequest
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case shared.IsExternalService(err):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// publicMessage is the message of the outermost domain error, without its
// domain and op prefix.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
