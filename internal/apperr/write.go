package apperr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Write renders err. Unclassified errors are logged and hidden behind a
// generic 500 body.
func Write(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if log == nil {
		log = slog.Default()
	}
	e, ok := As(err)
	if !ok {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	status := e.HTTPStatus()
	switch {
	case status >= 500:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", e.Kind.String(), "provider", e.Provider, "error", e)
	case e.Kind == KindAuthorizationDenied || e.Kind == KindRateLimited:
		log.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "kind", e.Kind.String(), "reason", e.Message)
	}
	WriteJSON(w, status, errorBody{Error: e.Message, Field: e.Field})
}
