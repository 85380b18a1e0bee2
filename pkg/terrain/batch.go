package terrain

import (
	"context"
	"sync/atomic"
	"time"

	"terraind/pkg/geodesy"
	"terraind/pkg/logging"
)

const defaultMaxBatchCoords = 50

type batchState int

const (
	batchIdle batchState = iota
	batchCollecting
	batchSending
)

type batchItem struct {
	coords []geodesy.Coordinate
	alive  *atomic.Bool
	result chan Result
}

func (i *batchItem) isAlive() bool { return i.alive == nil || i.alive.Load() }

type batchAddCmd struct{ item *batchItem }

type batchSendOutcome struct {
	items   []*batchItem
	heights []float64
	err     error
}

// BatchManager coalesces coordinate-height requests against a provider that
// exposes a single N-coordinates-to-N-heights endpoint rather than per-tile
// tiles (online-only, see SPEC_FULL.md §4.6). Like TileCache, all state lives
// on a single dispatch goroutine started by Run.
type BatchManager struct {
	provider     Provider
	idleInterval time.Duration
	maxCoords    int

	cmds    chan batchAddCmd
	results chan batchSendOutcome

	state   batchState
	pending []*batchItem
}

// NewBatchManager creates a manager against provider, flushing a collected
// batch idleInterval after the last addition or once maxCoords coordinates
// have accumulated, whichever comes first.
func NewBatchManager(provider Provider, idleInterval time.Duration) *BatchManager {
	return &BatchManager{
		provider:     provider,
		idleInterval: idleInterval,
		maxCoords:    defaultMaxBatchCoords,
		cmds:         make(chan batchAddCmd, 256),
		results:      make(chan batchSendOutcome, 8),
	}
}

// Run is the dispatch goroutine's loop. It returns when ctx is canceled.
func (bm *BatchManager) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-bm.cmds:
			bm.handleAddItem(cmd.item, &timer)
		case <-timerC():
			timer = nil
			if bm.state == batchCollecting {
				bm.flush()
			}
		case outcome := <-bm.results:
			bm.handleSendDone(outcome, &timer)
		}
	}
}

// AddRequest submits coords for batched resolution, returning a one-shot
// channel analogous to TileCache's query channels.
func (bm *BatchManager) AddRequest(coords []geodesy.Coordinate, alive *atomic.Bool) <-chan Result {
	item := &batchItem{coords: coords, alive: alive, result: make(chan Result, 1)}
	bm.cmds <- batchAddCmd{item: item}
	return item.result
}

func (bm *BatchManager) handleAddItem(item *batchItem, timer **time.Timer) {
	bm.pending = append(bm.pending, item)
	if bm.state == batchIdle {
		bm.state = batchCollecting
	}
	if bm.state != batchCollecting {
		return // a send is already in flight; this item waits for the next round
	}

	if bm.pendingCoordCount() >= bm.maxCoords {
		stopTimer(timer)
		bm.flush()
		return
	}

	resetTimer(timer, bm.idleInterval)
}

func (bm *BatchManager) pendingCoordCount() int {
	n := 0
	for _, item := range bm.pending {
		n += len(item.coords)
	}
	return n
}

// flush slices up to maxCoords coordinates' worth of pending items into one
// in-flight batch, leaving any remainder queued for the next round.
func (bm *BatchManager) flush() {
	if len(bm.pending) == 0 {
		return
	}

	batch := make([]*batchItem, 0, len(bm.pending))
	total := 0
	i := 0
	for ; i < len(bm.pending); i++ {
		n := len(bm.pending[i].coords)
		if total+n > bm.maxCoords && len(batch) > 0 {
			break
		}
		batch = append(batch, bm.pending[i])
		total += n
	}
	bm.pending = bm.pending[i:]
	bm.state = batchSending
	logging.TraceDefault("terrain: flushing batch", "items", len(batch), "coords", total)
	go bm.runSend(batch)
}

func (bm *BatchManager) runSend(batch []*batchItem) {
	coords := make([]geodesy.Coordinate, 0, len(batch))
	for _, item := range batch {
		coords = append(coords, item.coords...)
	}
	heights, err := bm.provider.BatchHeights(context.Background(), coords)
	bm.results <- batchSendOutcome{items: batch, heights: heights, err: err}
}

func (bm *BatchManager) handleSendDone(outcome batchSendOutcome, timer **time.Timer) {
	bm.state = batchIdle

	if outcome.err != nil {
		for _, item := range outcome.items {
			if item.isAlive() {
				item.result <- Result{Success: false}
			}
		}
	} else {
		offset := 0
		for _, item := range outcome.items {
			n := len(item.coords)
			heights := append([]float64(nil), outcome.heights[offset:offset+n]...)
			offset += n
			if item.isAlive() {
				item.result <- Result{Success: true, Heights: heights}
			}
		}
	}

	if len(bm.pending) > 0 {
		// Items accumulated during the send; the next batch starts
		// immediately rather than waiting out a fresh idle interval.
		bm.state = batchCollecting
		bm.flush()
		return
	}

	stopTimer(timer)
}

func stopTimer(timer **time.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}

func resetTimer(timer **time.Timer, d time.Duration) {
	if *timer != nil {
		(*timer).Stop()
	}
	*timer = time.NewTimer(d)
}
