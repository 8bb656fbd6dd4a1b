package api

import (
	"encoding/json"
	"net/http"

	"nhkrec/internal/apperr"
)

// errorResponse is the JSON body for every non-2xx response, per the fixed
// {error:{kind,message}} shape.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON writes v as a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a bare {error:{kind,message}} response.
func writeJSONError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// statusForKind maps an apperr.Kind to its HTTP status, exactly per §7's
// (400, 404, 409, 502, 502, 500, 500, 499, 500) table.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.UpstreamUnavailable, apperr.UpstreamMalformed:
		return http.StatusBadGateway
	case apperr.CaptureFailed, apperr.StorageIO, apperr.Internal:
		return http.StatusInternalServerError
	case apperr.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to its HTTP status and writes the {error:{...}} body.
// A Canceled error is never shown to a real caller in practice (callers
// don't cancel their own requests mid-handler), but the mapping exists so
// the table stays total.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	kind := apperr.KindOf(err)
	field := ""
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
		field = appErr.Field
	}
	writeJSON(w, statusForKind(kind), errorResponse{Error: errorBody{
		Kind:    string(kind),
		Message: err.Error(),
		Field:   field,
	}})
}
