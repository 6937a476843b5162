// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api holds the chi routers and handlers of the stream service and
// the EPG service.
package api

import (
	"encoding/json"
	"net/http"
	"os"
)

// statusReply is the {"status": ...} body used by every non-data reply.
type statusReply struct {
	Status string `json:"status"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, statusReply{Status: status})
}

// serveFile serves a generated file, or 404 {} when it does not exist yet.
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, r, path)
}
