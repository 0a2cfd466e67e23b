package api

import (
	"fmt"
	"log/slog"
	"net/http"
)

const healthBody = "chatify relay is running"

// HealthHandler answers the public liveness probe.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := fmt.Fprintln(w, healthBody); err != nil {
		slog.Warn("failed to write health response", "error", err)
	}
}
