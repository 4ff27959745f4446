// Package api provides the HTTP API and WebSocket event stream for invoicegate.
package api

import (
	"encoding/json"
	"net/http"

	gateerrors "github.com/randalmurphal/invoicegate/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	JSONResponseStatus(w, APIError{Error: message, Detail: message}, status)
}

// HandleError inspects error type and writes appropriate response.
func HandleError(w http.ResponseWriter, err error) {
	if gateErr := gateerrors.AsGateError(err); gateErr != nil {
		JSONResponseStatus(w, APIError{
			Error:  gateErr.What,
			Detail: gateErr.Error(),
			Code:   string(gateErr.Code),
			Fix:    gateErr.Fix,
		}, gateErr.HTTPStatus())
		return
	}
	// Fallback for unknown errors
	JSONError(w, err.Error(), http.StatusInternalServerError)
}
