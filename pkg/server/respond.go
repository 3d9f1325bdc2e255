package server

import (
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/odvcencio/scormview/pkg/errors"
)

const (
	maxBodyBytesTiny    int64 = 64 << 10
	maxBodyBytesRuntime int64 = 1 << 20
)

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, allowEOF bool) (int, error) {
	if r == nil || r.Body == nil {
		if allowEOF {
			return 0, nil
		}
		return http.StatusBadRequest, fmt.Errorf("request body required")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if allowEOF && stdliberrors.Is(err, io.EOF) {
			return 0, nil
		}
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	noStore(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error code onto an HTTP status.
func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeInvalidToken:
		return http.StatusForbidden
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeBlobRevoked, apperrors.ErrCodeStorageRead:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidStage:
		return http.StatusConflict
	case apperrors.ErrCodeContentOffline:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeNavigationFailed:
		return http.StatusBadGateway
	case apperrors.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends a structured JSON error response. A zero status is
// derived from the error code.
func respondError(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = statusFor(err)
	}
	response := struct {
		Error       string   `json:"error"`
		Status      int      `json:"status"`
		Code        string   `json:"code,omitempty"`
		Message     string   `json:"message"`
		Details     string   `json:"details,omitempty"`
		Remediation []string `json:"remediation,omitempty"`
		Retryable   bool     `json:"retryable,omitempty"`
		Timestamp   string   `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if structured, ok := apperrors.As(err); ok {
		response.Code = string(structured.Code)
		if structured.UserMessage != "" {
			response.Message = structured.UserMessage
		} else if structured.Message != "" {
			response.Message = structured.Message
		}
		response.Remediation = append([]string{}, structured.Remediation...)
		response.Retryable = structured.Retryable
		response.Details = structured.Error()
	} else if err != nil {
		response.Message = err.Error()
		response.Details = err.Error()
	}
	response.Error = response.Message
	respondJSON(w, status, response)
}
