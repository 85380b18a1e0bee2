package terrain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terraind/pkg/geo"
	"terraind/pkg/geodesy"
)

// These tests exercise TileCache, FileProvider and LOSChecker wired together
// the way a real binary would assemble them, rather than any one piece in
// isolation.

func TestIntegration_FileProviderThroughCacheToLOS(t *testing.T) {
	dir := t.TempDir()
	fileSW := geodesy.FromDegrees(10, 20)
	spacing := uint16(90)

	// Cover a broad patch around (10, 20) with a flat plateau at 1200m, high
	// enough that line of sight between two ground points at low altitude is
	// blocked by the terrain between them.
	offset := calcGridOffset(fileSW, spacing)
	writeSyntheticBlock(t, dir+"/N10E20.DAT", fileSW, spacing, offset, 1200)

	provider := NewFileProvider(dir)
	cache := NewTileCache(provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)

	los := NewLOSChecker(cache)

	p1 := geo.Point{Lat: 10.002, Lon: 20.002}
	p2 := geo.Point{Lat: 10.010, Lon: 20.010}

	// Warm the cache with a query first; GetAltitudes never itself triggers a fetch.
	q := NewCoordinateQuery(cache, false)
	warmCtx, warmDone := context.WithTimeout(context.Background(), time.Second)
	defer warmDone()
	_, err := q.Request(warmCtx, []geodesy.Coordinate{geodesy.FromDegrees(10.002, 20.002)})
	require.NoError(t, err)

	elev, err := los.GetElevation(10.002, 20.002)
	require.NoError(t, err)
	assert.InDelta(t, 1200, elev, 0.01)

	// Two aircraft flying ~1219m (4000ft), comfortably above the 1200m
	// plateau, should see each other.
	visible := los.IsVisible(p1, p2, 4000, 4000, 0.1)
	assert.True(t, visible, "aircraft flying above the plateau should see each other")

	// One aircraft at 4000ft and the other down at 50ft: the ray between
	// them dips below the plateau, which should block the view.
	visibleLow := los.IsVisible(p1, p2, 4000, 50, 0.1)
	assert.False(t, visibleLow, "a ray that dips below the plateau should be blocked")
}

func TestIntegration_GetAltitudesReportsMissOnUncachedArea(t *testing.T) {
	dir := t.TempDir()
	fileSW := geodesy.FromDegrees(10, 20)
	spacing := uint16(90)
	offset := calcGridOffset(fileSW, spacing)
	writeSyntheticBlock(t, dir+"/N10E20.DAT", fileSW, spacing, offset, 1200)

	provider := NewFileProvider(dir)
	cache := NewTileCache(provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)

	// No fetch has happened yet for this coordinate, so the synchronous
	// probe must report a miss rather than triggering one.
	_, missed, internalError := cache.GetAltitudes([]geodesy.Coordinate{geodesy.FromDegrees(10.0002, 20.0002)})
	assert.False(t, internalError)
	require.Len(t, missed, 1)
	assert.True(t, missed[0])
}

func TestIntegration_LOSChecker_NilCacheFailsOpen(t *testing.T) {
	los := NewLOSChecker(nil)
	visible := los.IsVisible(geo.Point{Lat: 10, Lon: 20}, geo.Point{Lat: 10, Lon: 21}, 100, 100, 1)
	assert.True(t, visible)

	_, err := los.GetElevation(10, 20)
	require.NoError(t, err)
}
