package sim

import "sync"

// Rejection reasons surfaced to the sender when a staged frame is refused.
const (
	// RejectStaleInput indicates a frame tagged for an already-closed tick.
	RejectStaleInput = "stale_input"
	// RejectDuplicateFrame indicates a frame for a (player, tick) pair that
	// is already staged.
	RejectDuplicateFrame = "duplicate_frame"
	// RejectTooFarAhead indicates a frame beyond the buffering horizon.
	RejectTooFarAhead = "too_far_ahead"
	// RejectUnknownPlayer indicates the sender is not part of the match.
	RejectUnknownPlayer = "unknown_player"
)

const frameQueueOccupancyMetricKey = "sim_frame_queue_occupancy"

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// FrameQueue stages input frames by target tick. It is safe for concurrent
// producers (one websocket reader per client) and a single consumer (the
// owning room's loop). Frames for future ticks are buffered; frames for
// closed ticks are dropped and reported as stale.
type FrameQueue struct {
	mu        sync.Mutex
	buckets   map[uint64][]InputFrame
	staged    map[frameKey]struct{}
	horizon   uint64
	count     int
	metrics   telemetryMetrics
	staleDrop map[string]uint64
}

type frameKey struct {
	playerID string
	tick     uint64
}

// NewFrameQueue constructs a queue that buffers at most horizon ticks ahead
// of the current tick.
func NewFrameQueue(horizon uint64, metrics telemetryMetrics) *FrameQueue {
	if horizon < 1 {
		horizon = 1
	}
	return &FrameQueue{
		buckets:   make(map[uint64][]InputFrame),
		staged:    make(map[frameKey]struct{}),
		horizon:   horizon,
		metrics:   metrics,
		staleDrop: make(map[string]uint64),
	}
}

// Stage buffers a frame for its target tick. current is the last tick that
// already stepped; the next step consumes current+1. Returns false and a
// rejection reason when the frame cannot be accepted.
func (q *FrameQueue) Stage(frame InputFrame, current uint64) (bool, string) {
	if q == nil {
		return false, RejectTooFarAhead
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if frame.Tick <= current {
		q.staleDrop[frame.PlayerID]++
		return false, RejectStaleInput
	}
	if frame.Tick > current+q.horizon {
		return false, RejectTooFarAhead
	}
	key := frameKey{playerID: frame.PlayerID, tick: frame.Tick}
	if _, dup := q.staged[key]; dup {
		return false, RejectDuplicateFrame
	}
	q.staged[key] = struct{}{}
	q.buckets[frame.Tick] = append(q.buckets[frame.Tick], frame)
	q.count++
	q.storeOccupancyLocked()
	return true, ""
}

// Drain removes and returns the frames staged for the given tick, sorted by
// player id. Buckets for earlier ticks are discarded; they can no longer be
// merged retroactively.
func (q *FrameQueue) Drain(tick uint64) []InputFrame {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for staged := range q.buckets {
		if staged < tick {
			q.dropBucketLocked(staged)
		}
	}
	frames := q.buckets[tick]
	q.dropBucketLocked(tick)
	q.storeOccupancyLocked()
	SortFrames(frames)
	return frames
}

// Pending reports the number of staged frames across all ticks.
func (q *FrameQueue) Pending() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// StaleDrops reports how many stale frames were dropped per player since the
// queue was created. Used by diagnostics only.
func (q *FrameQueue) StaleDrops(playerID string) uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.staleDrop[playerID]
}

func (q *FrameQueue) dropBucketLocked(tick uint64) {
	frames, ok := q.buckets[tick]
	if !ok {
		return
	}
	for _, frame := range frames {
		delete(q.staged, frameKey{playerID: frame.PlayerID, tick: frame.Tick})
	}
	q.count -= len(frames)
	delete(q.buckets, tick)
}

func (q *FrameQueue) storeOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Store(frameQueueOccupancyMetricKey, uint64(q.count))
}
