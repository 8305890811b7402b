package middleware

import (
	"encoding/json"
	"net/http"
)

const (
	codeUnauthorized = "AUTH_401"
	codeForbidden    = "AUTH_403"
	codeRateLimited  = "AUTH_429"

	msgInvalidToken = "Invalid or missing token"
	msgForbidden    = "Access denied"
	msgRateLimited  = "Too many requests. Please try again later."
)

type errorBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Message: message, ErrorCode: code})
}
