package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"terraind/pkg/geodesy"
	"terraind/pkg/terrain"
)

var fetchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type fetchRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// fetchCompleteEvent and fetchFailedEvent are the two outcomes
// fetch_terrain_height can push back over the socket.
type fetchCompleteEvent struct {
	Event    string  `json:"event"`
	Hash     string  `json:"hash"`
	Altitude float64 `json:"altitude"`
}

type fetchFailedEvent struct {
	Event string                 `json:"event"`
	Kind  terrain.FetchErrorKind `json:"kind"`
}

// handleFetchWS upgrades the connection and serves fetch_terrain_height: each
// inbound {lat, lon} message triggers a (possibly cache-filling) coordinate
// fetch and a single FetchComplete/FetchFailed push in reply. The connection
// stays open for repeated requests until the client disconnects.
func (h *TerrainHandler) handleFetchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := fetchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("terrain fetch websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req fetchRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("terrain fetch websocket read failed", "error", err)
			}
			return
		}

		coord := geodesy.FromDegrees(req.Lat, req.Lon)
		event := h.fetchOne(r.Context(), coord)
		if err := conn.WriteJSON(event); err != nil {
			slog.Warn("terrain fetch websocket write failed", "error", err)
			return
		}
	}
}

// fetchOne blocks until coord's tile is cached (fetching it if necessary) and
// returns the FetchComplete/FetchFailed event to push to the client.
func (h *TerrainHandler) fetchOne(ctx context.Context, coord geodesy.Coordinate) interface{} {
	query := terrain.NewCoordinateQuery(h.cache, false)
	defer query.Release()

	result, err := query.Request(ctx, []geodesy.Coordinate{coord})
	if err != nil {
		return fetchFailedEvent{Event: "FetchFailed", Kind: terrain.FetchErrorNetworkError}
	}
	if !result.Success {
		kind := result.ErrorKind
		if kind == "" {
			kind = terrain.FetchErrorUnexpectedData
		}
		return fetchFailedEvent{Event: "FetchFailed", Kind: kind}
	}

	hash := h.cache.TileHashFor(coord)
	return fetchCompleteEvent{Event: "FetchComplete", Hash: hash, Altitude: result.Heights[0]}
}
