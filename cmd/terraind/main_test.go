package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"terraind/pkg/config"
)

func TestRun_StartsAndShutsDownCleanly(t *testing.T) {
	tempDir := t.TempDir()
	configPath := tempDir + "/terraind.yaml"

	cfg := config.DefaultConfig()
	cfg.Server.Address = "localhost:0"
	cfg.Terrain.TileDirectory = tempDir
	cfg.Log.Server.Path = tempDir + "/server.log"
	cfg.Log.Requests.Path = tempDir + "/requests.log"
	require.NoError(t, config.Save(configPath, cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, run(ctx, configPath))
}

func TestBuildProvider_RejectsUnknownMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Terrain.Mode = "bogus"

	_, err := buildProvider(cfg)
	require.Error(t, err)
}

func TestBuildProvider_Offline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Terrain.Mode = "offline"
	cfg.Terrain.TileDirectory = t.TempDir()

	p, err := buildProvider(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestBuildProvider_Online(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Terrain.Mode = "online"

	p, err := buildProvider(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
}
