package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"terraind/pkg/logging"
)

// handleLatestLog returns the most recently captured log line, for a thin
// operations dashboard to poll without tailing files directly.
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"log": logging.GlobalLogCapture.GetLastLine(),
	}); err != nil {
		slog.Error("failed to write log response", "error", err)
	}
}
