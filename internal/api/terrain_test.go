package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"terraind/pkg/geodesy"
	"terraind/pkg/terrain"
)

// flatProvider is a per-tile provider (no batch support) whose FetchTile
// always fails, so every cache miss against it ends in a failed result.
type flatProvider struct {
	sw      geodesy.Coordinate
	spacing uint16
	height  int16
}

func (p *flatProvider) SupportsBatch() bool { return false }
func (p *flatProvider) BatchHeights(context.Context, []geodesy.Coordinate) ([]float64, error) {
	return nil, fmt.Errorf("not supported")
}
func (p *flatProvider) SampleSpacingM() float64 { return float64(p.spacing) }
func (p *flatProvider) TileHash(geodesy.Coordinate) string {
	return fmt.Sprintf("flat:%d:%d", p.sw.LatE7, p.sw.LonE7)
}
func (p *flatProvider) FetchTile(_ context.Context, coord geodesy.Coordinate) (*terrain.Tile, string, error) {
	return nil, "", fmt.Errorf("flatProvider: no tiles available")
}

func newTestHandler(t *testing.T) (*TerrainHandler, context.CancelFunc) {
	t.Helper()
	// A real terrain.Tile cannot be constructed outside the package with a
	// controlled flat grid, so these handler tests exercise request parsing,
	// JSON shape and error paths against a cache whose provider always
	// misses; full coordinate-resolution correctness is covered by
	// pkg/terrain's own cache tests.
	p := &flatProvider{sw: geodesy.FromDegrees(10, 20), spacing: 100, height: 500}
	cache := terrain.NewTileCache(p)
	ctx, cancel := context.WithCancel(context.Background())
	go cache.Run(ctx)
	return NewTerrainHandler(cache, terrain.NewLOSChecker(cache)), cancel
}

func TestHandleCoordinates_InvalidBody(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/terrain/coordinates", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	h.handleCoordinates(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCoordinates_ReportsFailureWhenProviderErrors(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()

	body, err := json.Marshal(coordinatesRequest{Coordinates: []coordinateJSON{{Lat: 10.0005, Lon: 20.0005}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/terrain/coordinates", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleCoordinates(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp coordinatesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.False(t, resp.Success)
}

func TestHandleCoordinates_RespectsContextCancellation(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()

	body, err := json.Marshal(coordinatesRequest{Coordinates: []coordinateJSON{{Lat: 10.0005, Lon: 20.0005}}})
	require.NoError(t, err)

	ctx, reqCancel := context.WithCancel(context.Background())
	reqCancel()

	req := httptest.NewRequest(http.MethodPost, "/api/terrain/coordinates", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.handleCoordinates(rec, req)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandleLOS_DisabledWhenCheckerNil(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()
	h.los = nil

	body, err := json.Marshal(losRequest{
		From: coordinateJSON{Lat: 10, Lon: 20},
		To:   coordinateJSON{Lat: 10.01, Lon: 20.01},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/terrain/los", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleLOS(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHandleLOS_FailsOpenWithoutCachedElevation(t *testing.T) {
	h, cancel := newTestHandler(t)
	defer cancel()

	body, err := json.Marshal(losRequest{
		From:       coordinateJSON{Lat: 10, Lon: 20},
		To:         coordinateJSON{Lat: 10.5, Lon: 20.5},
		Alt1Ft:     1000,
		Alt2Ft:     1000,
		StepSizeKM: 5,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/terrain/los", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleLOS(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp losResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Visible, "LOS should report visible when ground samples are missing")
}

func TestHandleVersion(t *testing.T) {
	rec := httptest.NewRecorder()
	handleVersion(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"version"`)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
