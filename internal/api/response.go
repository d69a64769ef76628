package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackError is written when a response fails to marshal. A literal, so
// the fallback path itself can never fail to encode.
const fallbackError = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse marshals before touching the ResponseWriter so an
// encoding failure can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		statusCode = http.StatusInternalServerError
		data = []byte(fallbackError)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
