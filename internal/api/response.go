package api

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details []ValidationError `json:"details,omitempty"`
}

// StatusBody is the JSON body of simple acknowledgements
type StatusBody struct {
	Status string `json:"status"`
}

// JSON sends data as the response body
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Status sends {"status": message} with 200
func Status(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, StatusBody{Status: message})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: message, Code: code})
}

// ValidationErrorResponse sends a validation error response
func ValidationErrorResponse(w http.ResponseWriter, message string, errors ValidationErrors) {
	JSON(w, http.StatusBadRequest, ErrorBody{
		Error:   message,
		Code:    "VALIDATION_ERROR",
		Details: errors,
	})
}

// Common error responses
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// OK sends a 200 OK response
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}
