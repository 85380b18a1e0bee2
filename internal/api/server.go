// Package api exposes the terrain query subsystem over HTTP and WebSocket.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"terraind/pkg/version"
)

// NewServer builds the mux and wraps it with the server's timeouts. terrainH
// serves the four query operations and the fetch WebSocket; shutdown is
// invoked (after a short delay, to let the response flush) by the shutdown
// endpoint.
func NewServer(addr string, terrainH *TerrainHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	mux.HandleFunc("POST /api/terrain/coordinates", terrainH.handleCoordinates)
	mux.HandleFunc("POST /api/terrain/path", terrainH.handlePath)
	mux.HandleFunc("POST /api/terrain/carpet", terrainH.handleCarpet)
	mux.HandleFunc("POST /api/terrain/los", terrainH.handleLOS)
	mux.HandleFunc("GET /ws/terrain", terrainH.handleFetchWS)

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	mux.Handle("GET /debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("GET /debug/pprof/goroutine", pprof.Handler("goroutine"))

	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("shutting down")); err != nil {
			slog.Error("failed to write shutdown response", "error", err)
		}
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("failed to write version response", "error", err)
	}
}
