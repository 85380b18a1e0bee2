package terrain

import (
	"context"
	"errors"
	"fmt"
	"math"

	"terraind/pkg/geodesy"
)

// tileFetcher is the subset of pkg/request.Client that HTTPProvider needs,
// kept narrow so tests can supply a fake.
type tileFetcher interface {
	Get(ctx context.Context, url string, cacheKey string) ([]byte, error)
}

// HTTPProvider serves tiles from an online map-tile elevation endpoint,
// zoom level fixed at 1 per the upward API contract.
type HTTPProvider struct {
	client      tileFetcher
	mapType     string
	urlTemplate string // must contain %d, %d, %d for z, x, y in that order
	spacingM    float64
}

// NewHTTPProvider builds a provider for the given configured map type.
// urlTemplate is formatted with (zoom, tileX, tileY).
func NewHTTPProvider(client tileFetcher, mapType, urlTemplate string, spacingM float64) *HTTPProvider {
	if spacingM <= 0 {
		spacingM = 30
	}
	return &HTTPProvider{client: client, mapType: mapType, urlTemplate: urlTemplate, spacingM: spacingM}
}

func (p *HTTPProvider) SupportsBatch() bool { return false }

func (p *HTTPProvider) BatchHeights(context.Context, []geodesy.Coordinate) ([]float64, error) {
	return nil, errors.New("terrain: this http provider does not support batch heights; use FetchTile")
}

func (p *HTTPProvider) SampleSpacingM() float64 { return p.spacingM }

const httpZoom = 1

// long2tileX and lat2tileY follow the standard slippy-map tile scheme.
func long2tileX(lonDeg float64, zoom int) int {
	return int(math.Floor((lonDeg + 180.0) / 360.0 * math.Exp2(float64(zoom))))
}

func lat2tileY(latDeg float64, zoom int) int {
	latRad := latDeg * math.Pi / 180.0
	return int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * math.Exp2(float64(zoom))))
}

func tileXYToSW(x, y, zoom int) geodesy.Coordinate {
	n := math.Exp2(float64(zoom))
	lonDeg := float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y+1)/n)))
	latDeg := latRad * 180.0 / math.Pi
	return geodesy.FromDegrees(latDeg, lonDeg)
}

func (p *HTTPProvider) tileXY(coord geodesy.Coordinate) (x, y int) {
	latDeg, lonDeg := coord.Degrees()
	return long2tileX(lonDeg, httpZoom), lat2tileY(latDeg, httpZoom)
}

// TileHash returns the hash FetchTile would produce for coord.
func (p *HTTPProvider) TileHash(coord geodesy.Coordinate) string {
	x, y := p.tileXY(coord)
	return HTTPTileHash(p.mapType, x, y, httpZoom)
}

// FetchTile issues the tile request and decodes the response image.
func (p *HTTPProvider) FetchTile(ctx context.Context, coord geodesy.Coordinate) (*Tile, string, error) {
	x, y := p.tileXY(coord)
	url := fmt.Sprintf(p.urlTemplate, httpZoom, x, y)

	body, err := p.client.Get(ctx, url, "")
	if err != nil {
		return nil, "", newFetchError(FetchErrorNetworkError, err)
	}
	if len(body) == 0 {
		return nil, "", newFetchError(FetchErrorEmptyResponse, fmt.Errorf("empty tile response for %s", url))
	}

	sw := tileXYToSW(x, y, httpZoom)
	tile, err := TileFromImage(body, sw, uint16(p.spacingM))
	if err != nil {
		return nil, "", newFetchError(FetchErrorInvalidDataType, err)
	}

	return tile, HTTPTileHash(p.mapType, x, y, httpZoom), nil
}
