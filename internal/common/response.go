package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// FailureBody is the negative outcome shape of the payment endpoints.
type FailureBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// JSONFailure renders {success:false, message, code}.
func JSONFailure(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, FailureBody{Success: false, Message: message, Code: code})
}

// WriteAppError renders an AppError as a failure body, defaulting to 500.
func WriteAppError(w http.ResponseWriter, err *AppError) {
	if err == nil {
		return
	}
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSONFailure(w, status, err.Code, err.Message)
}
