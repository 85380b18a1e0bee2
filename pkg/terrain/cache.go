package terrain

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"terraind/pkg/geodesy"
	"terraind/pkg/logging"
)

// Result is what a queued request resolves to: either a plain coordinate
// lookup or a path lookup carrying its sample spacing. ErrorKind is only
// populated on failure and reflects the FetchError that failed the queue.
type Result struct {
	Success          bool
	Heights          []float64
	DistBetween      float64
	FinalDistBetween float64
	ErrorKind        FetchErrorKind
}

// pendingRequest is one caller's outstanding, possibly cache-miss-blocked
// query. Its liveness is tracked explicitly via alive rather than relying on
// GC finalization, so an abandoned caller deterministically receives no
// completion (see SPEC_FULL.md §4.5).
type pendingRequest struct {
	coords           []geodesy.Coordinate
	distBetween      float64
	finalDistBetween float64
	alive            *atomic.Bool
	result           chan Result
}

func (r *pendingRequest) isAlive() bool { return r.alive == nil || r.alive.Load() }

type cacheState int

const (
	stateIdle cacheState = iota
	stateDownloading
)

type fetchOutcome struct {
	hash string
	tile *Tile
	err  error
}

// command is the dispatch goroutine's unit of work: every mutation of
// TileCache's tiles map and queue is a command processed on the single
// dispatch goroutine, per SPEC_FULL.md §5.
type command interface {
	apply(tc *TileCache)
}

type addRequestCmd struct{ req *pendingRequest }

func (c *addRequestCmd) apply(tc *TileCache) { tc.handleAddRequest(c.req) }

// TileCache is the process-wide tile registry and query dispatcher. All state
// transitions happen on the single goroutine started by Run.
type TileCache struct {
	provider Provider

	mu    sync.RWMutex
	tiles map[string]*Tile

	cmds    chan command
	results chan fetchOutcome

	state cacheState
	queue []*pendingRequest
}

// NewTileCache creates a cache backed by provider. Call Run in its own
// goroutine before issuing queries.
func NewTileCache(provider Provider) *TileCache {
	return &TileCache{
		provider: provider,
		tiles:    make(map[string]*Tile),
		cmds:     make(chan command, 256),
		results:  make(chan fetchOutcome, 8),
	}
}

// Run is the dispatch goroutine's loop. It returns when ctx is canceled.
func (tc *TileCache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-tc.cmds:
			cmd.apply(tc)
		case outcome := <-tc.results:
			tc.handleFetchDone(outcome)
		}
	}
}

// AddCoordinateQuery submits coords on behalf of caller, returning a
// one-shot channel the caller should receive from at most once. alive, if
// non-nil, is consulted before any completion is delivered; drop it (set to
// false) to mark the caller abandoned.
func (tc *TileCache) AddCoordinateQuery(coords []geodesy.Coordinate, alive *atomic.Bool) <-chan Result {
	req := &pendingRequest{
		coords: coords,
		alive:  alive,
		result: make(chan Result, 1),
	}
	tc.cmds <- &addRequestCmd{req: req}
	return req.result
}

// AddPathQuery submits an already-expanded sequence of path coordinates
// (see ExpandGreatCirclePath) along with its sample spacings.
func (tc *TileCache) AddPathQuery(coords []geodesy.Coordinate, distBetween, finalDistBetween float64, alive *atomic.Bool) <-chan Result {
	req := &pendingRequest{
		coords:           coords,
		distBetween:      distBetween,
		finalDistBetween: finalDistBetween,
		alive:            alive,
		result:           make(chan Result, 1),
	}
	tc.cmds <- &addRequestCmd{req: req}
	return req.result
}

// GetAltitudes is the synchronous, non-queued cache probe for callers that
// are not willing to wait on a fetch: it reports hits and leaves misses to
// the caller.
func (tc *TileCache) GetAltitudes(coords []geodesy.Coordinate) (altitudes []float64, missed []bool, internalError bool) {
	altitudes = make([]float64, len(coords))
	missed = make([]bool, len(coords))

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	for i, c := range coords {
		hash := tc.provider.TileHash(c)
		tile, ok := tc.tiles[hash]
		if !ok {
			missed[i] = true
			continue
		}
		h := tile.Elevation(c)
		if math.IsNaN(h) {
			missed[i] = true
			internalError = true
			continue
		}
		altitudes[i] = h
	}
	return altitudes, missed, internalError
}

func (tc *TileCache) handleAddRequest(req *pendingRequest) {
	heights, allHit, anyNaN := tc.probe(req.coords)
	if allHit {
		req.result <- Result{
			Success:          !anyNaN,
			Heights:          heights,
			DistBetween:      req.distBetween,
			FinalDistBetween: req.finalDistBetween,
		}
		return
	}

	tc.queue = append(tc.queue, req)
	logging.TraceDefault("terrain: request queued on miss", "queue_depth", len(tc.queue))
	tc.maybeStartFetch()
}

// probe looks up every coordinate's tile without mutating cache state.
func (tc *TileCache) probe(coords []geodesy.Coordinate) (heights []float64, allHit bool, anyNaN bool) {
	heights = make([]float64, len(coords))
	allHit = true

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	for i, c := range coords {
		hash := tc.provider.TileHash(c)
		tile, ok := tc.tiles[hash]
		if !ok {
			allHit = false
			continue
		}
		h := tile.Elevation(c)
		if math.IsNaN(h) {
			anyNaN = true
		}
		heights[i] = h
	}
	return heights, allHit, anyNaN
}

// firstMissingTile returns the hash and a representative coordinate of the
// first tile req is still waiting on, or ("", coord{}, false) if req is now
// fully satisfiable.
func (tc *TileCache) firstMissingTile(req *pendingRequest) (string, geodesy.Coordinate, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	for _, c := range req.coords {
		hash := tc.provider.TileHash(c)
		if _, ok := tc.tiles[hash]; !ok {
			return hash, c, true
		}
	}
	return "", geodesy.Coordinate{}, false
}

// maybeStartFetch begins a fetch for the oldest queued request's first
// missing tile, iff the cache is currently idle.
func (tc *TileCache) maybeStartFetch() {
	if tc.state != stateIdle {
		return
	}
	for _, req := range tc.queue {
		if !req.isAlive() {
			continue
		}
		hash, coord, missing := tc.firstMissingTile(req)
		if !missing {
			continue
		}
		tc.state = stateDownloading
		logging.TraceDefault("terrain: dispatching fetch", "hash", hash)
		go tc.runFetch(hash, coord)
		return
	}
}

func (tc *TileCache) runFetch(hash string, coord geodesy.Coordinate) {
	tile, gotHash, err := tc.provider.FetchTile(context.Background(), coord)
	if err == nil && gotHash != hash {
		// Providers are expected to be pure translators; a hash mismatch here
		// would indicate a provider bug, not a fetch failure, but we still
		// trust the hash the fetch actually produced when inserting.
		hash = gotHash
	}
	tc.results <- fetchOutcome{hash: hash, tile: tile, err: err}
}

func (tc *TileCache) handleFetchDone(outcome fetchOutcome) {
	tc.state = stateIdle

	if outcome.err != nil {
		tc.failQueue(outcome.err)
		tc.maybeStartFetch()
		return
	}

	tc.mu.Lock()
	if _, exists := tc.tiles[outcome.hash]; !exists {
		tc.tiles[outcome.hash] = outcome.tile
	}
	tc.mu.Unlock()

	tc.resolveQueue()
	tc.maybeStartFetch()
}

// resolveQueue walks the queue from newest to oldest, completing and removing
// every now-satisfiable, still-alive request.
func (tc *TileCache) resolveQueue() {
	remaining := tc.queue[:0]
	resolved := make([]int, 0, len(tc.queue))

	for i := len(tc.queue) - 1; i >= 0; i-- {
		req := tc.queue[i]
		heights, allHit, anyNaN := tc.probe(req.coords)
		if !allHit {
			continue
		}
		if req.isAlive() {
			req.result <- Result{
				Success:          !anyNaN,
				Heights:          heights,
				DistBetween:      req.distBetween,
				FinalDistBetween: req.finalDistBetween,
			}
		}
		resolved = append(resolved, i)
	}

	resolvedSet := make(map[int]bool, len(resolved))
	for _, i := range resolved {
		resolvedSet[i] = true
	}
	for i, req := range tc.queue {
		if !resolvedSet[i] {
			remaining = append(remaining, req)
		}
	}
	tc.queue = remaining
	logging.TraceDefault("terrain: queue resolved", "completed", len(resolved), "remaining", len(remaining))
}

// failQueue delivers failure to every alive queued request and clears the
// queue: correlated terminal errors make retrying the remainder pointless.
func (tc *TileCache) failQueue(err error) {
	slog.Warn("terrain: fetch failed, failing queued requests", "error", err, "queue_depth", len(tc.queue))
	var kind FetchErrorKind
	var fe *FetchError
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	for _, req := range tc.queue {
		if req.isAlive() {
			req.result <- Result{Success: false, ErrorKind: kind}
		}
	}
	tc.queue = nil
}

// TileHashFor returns the hash the configured provider would produce for
// coord, without performing a fetch. Used by callers that need to correlate
// a completed fetch with the coordinate that requested it.
func (tc *TileCache) TileHashFor(coord geodesy.Coordinate) string {
	return tc.provider.TileHash(coord)
}
