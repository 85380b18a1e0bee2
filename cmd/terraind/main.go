package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"terraind/internal/api"
	"terraind/pkg/config"
	"terraind/pkg/logging"
	"terraind/pkg/request"
	"terraind/pkg/terrain"
	"terraind/pkg/tracker"
	"terraind/pkg/version"
)

var initConfigFlag = flag.Bool("init-config", false, "Generate default config file and exit")

func main() {
	flag.Parse()

	if *initConfigFlag {
		if err := config.GenerateDefault("configs/terraind.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("config file generated: configs/terraind.yaml")
		return
	}

	if err := run(context.Background(), "configs/terraind.yaml"); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("terraind started", "version", version.Version, "mode", appCfg.Terrain.Mode)

	provider, err := buildProvider(appCfg)
	if err != nil {
		return fmt.Errorf("failed to build terrain provider: %w", err)
	}

	cache := terrain.NewTileCache(provider)
	go cache.Run(ctx)

	if appCfg.Terrain.Mode == "online" {
		batcher := terrain.NewBatchManager(provider, time.Duration(appCfg.Terrain.BatchIdleInterval))
		go batcher.Run(ctx)
	}

	var losChecker *terrain.LOSChecker
	if appCfg.Terrain.LineOfSight {
		losChecker = terrain.NewLOSChecker(cache)
	}

	terrainH := api.NewTerrainHandler(cache, losChecker)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(appCfg.Server.Address, terrainH, shutdownFunc)
	srv.Handler = loggingMiddleware(srv.Handler)

	return runServerLifecycle(ctx, srv, quit)
}

// buildProvider constructs the offline file-backed provider or the online
// HTTP tile provider depending on appCfg.Terrain.Mode.
func buildProvider(appCfg *config.Config) (terrain.Provider, error) {
	switch appCfg.Terrain.Mode {
	case "online":
		tr := tracker.New()
		client := request.New(tr, request.ClientConfig{
			Retries:   appCfg.Request.Retries,
			Timeout:   time.Duration(appCfg.Request.Timeout),
			BaseDelay: time.Duration(appCfg.Request.Backoff.BaseDelay),
			MaxDelay:  time.Duration(appCfg.Request.Backoff.MaxDelay),
		})
		hp := appCfg.Terrain.HTTPProvider
		return terrain.NewHTTPProvider(client, hp.MapType, hp.URLTemplate, float64(appCfg.Terrain.SampleSpacing)), nil
	case "offline":
		return terrain.NewFileProvider(appCfg.Terrain.TileDirectory), nil
	default:
		return nil, fmt.Errorf("unknown terrain mode %q (want offline or online)", appCfg.Terrain.Mode)
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("request processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
