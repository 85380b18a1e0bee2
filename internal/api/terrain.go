package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"terraind/pkg/geo"
	"terraind/pkg/geodesy"
	"terraind/pkg/terrain"
)

// coordinateJSON is the wire shape for a single lat/lon pair.
type coordinateJSON struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c coordinateJSON) toCoordinate() geodesy.Coordinate {
	return geodesy.FromDegrees(c.Lat, c.Lon)
}

// TerrainHandler exposes the three terrain query operations (coordinates,
// path, carpet), the single-tile fetch-and-notify operation, and (when enabled) the
// line-of-sight check over HTTP/WebSocket. It holds no mutable state of its
// own beyond the LOS checker; every query is served by a freshly minted
// query object bound to cache.
type TerrainHandler struct {
	cache *terrain.TileCache
	los   *terrain.LOSChecker // nil when line-of-sight is disabled
}

// NewTerrainHandler creates a handler serving queries against cache. los may
// be nil if line-of-sight checking is disabled in configuration.
func NewTerrainHandler(cache *terrain.TileCache, los *terrain.LOSChecker) *TerrainHandler {
	return &TerrainHandler{cache: cache, los: los}
}

type coordinatesRequest struct {
	Coordinates []coordinateJSON `json:"coordinates"`
}

type coordinatesResponse struct {
	Success bool      `json:"success"`
	Heights []float64 `json:"heights"`
}

// handleCoordinates implements request_coordinate_heights.
func (h *TerrainHandler) handleCoordinates(w http.ResponseWriter, r *http.Request) {
	var req coordinatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	coords := make([]geodesy.Coordinate, len(req.Coordinates))
	for i, c := range req.Coordinates {
		coords[i] = c.toCoordinate()
	}

	query := terrain.NewCoordinateQuery(h.cache, false)
	defer query.Release()

	result, err := query.Request(r.Context(), coords)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	writeJSON(w, coordinatesResponse{Success: result.Success, Heights: result.Heights})
}

type pathRequest struct {
	From coordinateJSON `json:"from"`
	To   coordinateJSON `json:"to"`
}

type pathResponse struct {
	Success          bool      `json:"success"`
	DistBetween      float64   `json:"dist_between"`
	FinalDistBetween float64   `json:"final_dist_between"`
	Heights          []float64 `json:"heights"`
}

// handlePath implements request_path_heights.
func (h *TerrainHandler) handlePath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	query := terrain.NewPathQuery(h.cache, false)
	defer query.Release()

	result, err := query.Request(r.Context(), req.From.toCoordinate(), req.To.toCoordinate())
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	writeJSON(w, pathResponse{
		Success:          result.Success,
		DistBetween:      result.DistBetween,
		FinalDistBetween: result.FinalDistBetween,
		Heights:          result.Heights,
	})
}

type carpetRequest struct {
	SW             coordinateJSON `json:"sw"`
	NE             coordinateJSON `json:"ne"`
	SampleSpacingM float64        `json:"sample_spacing_m"`
	StatsOnly      bool           `json:"stats_only"`
}

type carpetResponse struct {
	Success bool        `json:"success"`
	Min     float64     `json:"min"`
	Max     float64     `json:"max"`
	Grid    [][]float64 `json:"grid,omitempty"`
}

// handleCarpet implements request_carpet_heights.
func (h *TerrainHandler) handleCarpet(w http.ResponseWriter, r *http.Request) {
	var req carpetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	query := terrain.NewCarpetQuery(h.cache, false)
	defer query.Release()

	result, err := query.Request(r.Context(), req.SW.toCoordinate(), req.NE.toCoordinate(), req.SampleSpacingM, req.StatsOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	writeJSON(w, carpetResponse{Success: result.Success, Min: result.Min, Max: result.Max, Grid: result.Grid})
}

type losRequest struct {
	From       coordinateJSON `json:"from"`
	To         coordinateJSON `json:"to"`
	Alt1Ft     float64        `json:"alt1_ft"`
	Alt2Ft     float64        `json:"alt2_ft"`
	StepSizeKM float64        `json:"step_size_km"`
}

type losResponse struct {
	Visible bool `json:"visible"`
}

// handleLOS reports whether two points separated by given altitudes (MSL,
// feet) have an unobstructed line of sight over cached terrain.
func (h *TerrainHandler) handleLOS(w http.ResponseWriter, r *http.Request) {
	if h.los == nil {
		http.Error(w, "line-of-sight is disabled", http.StatusNotImplemented)
		return
	}

	var req losRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StepSizeKM <= 0 {
		req.StepSizeKM = 0.5
	}

	from := geo.Point{Lat: req.From.Lat, Lon: req.From.Lon}
	to := geo.Point{Lat: req.To.Lat, Lon: req.To.Lon}
	visible := h.los.IsVisible(from, to, req.Alt1Ft, req.Alt2Ft, req.StepSizeKM)

	writeJSON(w, losResponse{Visible: visible})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}
