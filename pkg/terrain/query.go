package terrain

import (
	"context"
	"errors"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"golang.org/x/sync/errgroup"

	"terraind/pkg/geodesy"
)

// CoordinateHeights is the completion payload for a CoordinateQuery.
// ErrorKind is only meaningful when Success is false and the failure came
// from a terminal fetch error rather than an internal NaN elevation.
type CoordinateHeights struct {
	Success   bool
	Heights   []float64
	ErrorKind FetchErrorKind
}

// PathHeights is the completion payload for a PathQuery.
type PathHeights struct {
	Success          bool
	DistBetween      float64
	FinalDistBetween float64
	Heights          []float64
}

// CarpetHeights is the completion payload for a CarpetQuery.
type CarpetHeights struct {
	Success bool
	Min     float64
	Max     float64
	Grid    [][]float64 // nil when StatsOnly was requested
}

// handle is the shared lifetime machinery behind every QueryAPIs object: a
// correlation ID for logging/tracing and an explicit liveness flag, flipped
// by Release, in place of the runtime's GC-tied weak references (see
// SPEC_FULL.md §4.5 "Query-object lifetime"). autoDelete mirrors the
// Live -> Completed -> (Deleted if auto_delete) transition of SPEC_FULL.md
// §4.9: when set, the handle releases itself the moment its result is
// emitted (or its wait is abandoned), so the owner never calls Release.
type handle struct {
	id         string
	alive      atomic.Bool
	autoDelete bool
}

func newHandle(autoDelete bool) *handle {
	h := &handle{id: uuid.NewString(), autoDelete: autoDelete}
	h.alive.Store(true)
	return h
}

// Release marks the handle abandoned. The cache suppresses any completion
// still in flight for it.
func (h *handle) Release() { h.alive.Store(false) }

// ID returns the handle's correlation identifier.
func (h *handle) ID() string { return h.id }

// deleteIfAuto releases the handle when it was constructed with
// auto_delete set; it is a no-op for handles the owner manages manually.
func (h *handle) deleteIfAuto() {
	if h.autoDelete {
		h.alive.Store(false)
	}
}

// CoordinateQuery resolves heights for an explicit list of coordinates.
type CoordinateQuery struct {
	*handle
	cache *TileCache
}

// NewCoordinateQuery creates a query bound to cache. Call Request to issue
// it. When autoDelete is true the handle self-releases after its result is
// emitted (or its wait is abandoned); otherwise the caller must call
// Release itself once it is done with the query.
func NewCoordinateQuery(cache *TileCache, autoDelete bool) *CoordinateQuery {
	return &CoordinateQuery{handle: newHandle(autoDelete), cache: cache}
}

// Request submits coords and blocks until the cache resolves them or ctx is
// done. A context cancellation only unblocks the caller; it does not cancel
// the underlying fetch, which may still be shared with other callers.
func (q *CoordinateQuery) Request(ctx context.Context, coords []geodesy.Coordinate) (CoordinateHeights, error) {
	resultCh := q.cache.AddCoordinateQuery(coords, &q.alive)
	select {
	case res := <-resultCh:
		q.deleteIfAuto()
		return CoordinateHeights{Success: res.Success, Heights: res.Heights, ErrorKind: res.ErrorKind}, nil
	case <-ctx.Done():
		q.deleteIfAuto()
		return CoordinateHeights{}, ctx.Err()
	}
}

// PathQuery resolves heights uniformly sampled along a great-circle segment.
type PathQuery struct {
	*handle
	cache *TileCache
}

// NewPathQuery creates a query bound to cache. See NewCoordinateQuery for
// the meaning of autoDelete.
func NewPathQuery(cache *TileCache, autoDelete bool) *PathQuery {
	return &PathQuery{handle: newHandle(autoDelete), cache: cache}
}

// Request expands [from, to] into samples spaced at the provider's nominal
// tile resolution and blocks until the cache resolves them or ctx is done.
func (q *PathQuery) Request(ctx context.Context, from, to geodesy.Coordinate) (PathHeights, error) {
	return q.RequestWithSpacing(ctx, from, to, q.cache.provider.SampleSpacingM())
}

// RequestWithSpacing is like Request but lets the caller override the sample
// spacing, used by CarpetQuery to honor its own caller-chosen spacing for
// every row instead of the provider's nominal tile resolution.
func (q *PathQuery) RequestWithSpacing(ctx context.Context, from, to geodesy.Coordinate, spacingM float64) (PathHeights, error) {
	coords, distBetween, finalDistBetween := ExpandGreatCirclePath(from, to, spacingM)

	resultCh := q.cache.AddPathQuery(coords, distBetween, finalDistBetween, &q.alive)
	select {
	case res := <-resultCh:
		q.deleteIfAuto()
		return PathHeights{
			Success:          res.Success,
			DistBetween:      res.DistBetween,
			FinalDistBetween: res.FinalDistBetween,
			Heights:          res.Heights,
		}, nil
	case <-ctx.Done():
		q.deleteIfAuto()
		return PathHeights{}, ctx.Err()
	}
}

// ExpandGreatCirclePath returns uniformly spaced waypoints from from to to,
// stepped along the true great-circle route (initial bearing + point-at-
// distance, per SPEC_FULL.md §10.1) rather than a flat lat/lon lerp. The
// final point is forced to exactly to. distBetween is the nominal spacing
// used between interior samples; finalDistBetween <= distBetween is the
// residual distance covered by the last segment.
func ExpandGreatCirclePath(from, to geodesy.Coordinate, sampleSpacingM float64) (points []geodesy.Coordinate, distBetween, finalDistBetween float64) {
	fromLat, fromLon := from.Degrees()
	toLat, toLon := to.Degrees()
	a := orb.Point{fromLon, fromLat}
	b := orb.Point{toLon, toLat}

	totalDist := geo.Distance(a, b)
	if sampleSpacingM <= 0 {
		sampleSpacingM = 1
	}

	steps := int(math.Ceil(totalDist / sampleSpacingM))
	if steps < 1 {
		steps = 1
	}

	bearing := geo.Bearing(a, b)
	points = make([]geodesy.Coordinate, 0, steps+1)
	points = append(points, from)

	for i := 1; i < steps; i++ {
		dist := float64(i) * sampleSpacingM
		p := geo.PointAtBearingAndDistance(a, bearing, dist)
		points = append(points, geodesy.FromDegrees(p[1], p[0]))
	}
	points = append(points, to)

	distBetween = sampleSpacingM
	if steps == 1 {
		finalDistBetween = totalDist
	} else {
		finalDistBetween = totalDist - float64(steps-1)*sampleSpacingM
	}
	return points, distBetween, finalDistBetween
}

// PolyPathQuery issues successive PathQueries along a polyline, concatenating
// results and aborting on the first failure.
type PolyPathQuery struct {
	*handle
	cache *TileCache
}

// NewPolyPathQuery creates a query bound to cache. See NewCoordinateQuery
// for the meaning of autoDelete.
func NewPolyPathQuery(cache *TileCache, autoDelete bool) *PolyPathQuery {
	return &PolyPathQuery{handle: newHandle(autoDelete), cache: cache}
}

// Request issues one PathQuery per consecutive pair in waypoints and
// concatenates their heights, aborting on the first segment failure.
func (q *PolyPathQuery) Request(ctx context.Context, waypoints []geodesy.Coordinate) (PathHeights, error) {
	defer q.deleteIfAuto()
	if len(waypoints) < 2 {
		return PathHeights{Success: false}, nil
	}

	result := PathHeights{Success: true}
	for i := 0; i+1 < len(waypoints); i++ {
		if !q.alive.Load() {
			return PathHeights{}, ctx.Err()
		}

		// Each segment is an internal implementation detail the caller never
		// sees a handle for, so it always self-deletes once resolved.
		seg := NewPathQuery(q.cache, true)
		segResult, err := seg.Request(ctx, waypoints[i], waypoints[i+1])
		if err != nil {
			return PathHeights{}, err
		}
		if !segResult.Success {
			return PathHeights{Success: false}, nil
		}

		result.DistBetween = segResult.DistBetween
		result.FinalDistBetween = segResult.FinalDistBetween
		if i == 0 {
			result.Heights = append(result.Heights, segResult.Heights...)
		} else {
			// Each segment repeats its start waypoint's height as its first
			// sample; drop the duplicate at the join.
			result.Heights = append(result.Heights, segResult.Heights[1:]...)
		}
	}
	return result, nil
}

// CarpetQuery resolves a dense rectangular grid of heights over a bounding
// box, one PathQuery per row.
type CarpetQuery struct {
	*handle
	cache *TileCache
}

// NewCarpetQuery creates a query bound to cache. See NewCoordinateQuery for
// the meaning of autoDelete.
func NewCarpetQuery(cache *TileCache, autoDelete bool) *CarpetQuery {
	return &CarpetQuery{handle: newHandle(autoDelete), cache: cache}
}

// Request fans out one row PathQuery per latitude step between sw and ne at
// sampleSpacingM, joining them with an errgroup so the first row failure
// aborts the rest. statsOnly skips materializing the grid, returning only
// the running min/max.
func (q *CarpetQuery) Request(ctx context.Context, sw, ne geodesy.Coordinate, sampleSpacingM float64, statsOnly bool) (CarpetHeights, error) {
	swLat, swLon := sw.Degrees()
	neLat, neLon := ne.Degrees()
	if sampleSpacingM <= 0 {
		sampleSpacingM = q.cache.provider.SampleSpacingM()
	}

	southWest := orb.Point{swLon, swLat}
	northWest := orb.Point{swLon, neLat}
	northDist := geo.Distance(southWest, northWest)
	rows := int(math.Ceil(northDist/sampleSpacingM)) + 1
	if rows < 1 {
		rows = 1
	}

	grid := make([][]float64, rows)
	group, gctx := errgroup.WithContext(ctx)

	for r := 0; r < rows; r++ {
		r := r
		group.Go(func() error {
			t := float64(r) / float64(max(rows-1, 1))
			rowLat := swLat + (neLat-swLat)*t

			rowFrom := geodesy.FromDegrees(rowLat, swLon)
			rowTo := geodesy.FromDegrees(rowLat, neLon)

			// One-off per-row query; the caller never sees this handle, so it
			// always self-deletes once its row resolves.
			rowQuery := NewPathQuery(q.cache, true)
			res, err := rowQuery.RequestWithSpacing(gctx, rowFrom, rowTo, sampleSpacingM)
			if err != nil {
				return err
			}
			if !res.Success {
				return errRowFailed
			}
			grid[r] = res.Heights
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		q.deleteIfAuto()
		if errors.Is(err, errRowFailed) {
			return CarpetHeights{Success: false}, nil
		}
		return CarpetHeights{}, err
	}
	q.deleteIfAuto()

	lowest, highest := math.Inf(1), math.Inf(-1)
	for _, row := range grid {
		for _, h := range row {
			if h < lowest {
				lowest = h
			}
			if h > highest {
				highest = h
			}
		}
	}

	result := CarpetHeights{Success: true, Min: lowest, Max: highest}
	if !statsOnly {
		result.Grid = grid
	}
	return result, nil
}

var errRowFailed = errors.New("terrain: carpet row query failed")
