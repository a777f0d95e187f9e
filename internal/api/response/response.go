// Package response writes the JSON bodies shared by the HTTP handlers and
// middleware.
package response

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// MessageBody is returned by endpoints that only acknowledge an action.
type MessageBody struct {
	Message string `json:"message"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Detail writes an error body.
func Detail(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, ErrorBody{Detail: detail})
}

// Message writes a 200 acknowledgement.
func Message(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, MessageBody{Message: message})
}

func Unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	Detail(w, http.StatusUnauthorized, "Authentication required")
}

func Forbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Forbidden"
	}
	Detail(w, http.StatusForbidden, detail)
}

func TooManyRequests(w http.ResponseWriter) {
	Detail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

func InternalError(w http.ResponseWriter) {
	Detail(w, http.StatusInternalServerError, "Internal server error")
}
