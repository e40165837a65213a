package ingest

import (
	"sync"
	"time"

	"github.com/blackframe-labs/levkeeper/internal/decode"
	"github.com/blackframe-labs/levkeeper/internal/logx"
)

var dedupLog = logx.New("ingest.dedup")

// Cache bounds and cleanup-tier thresholds for the three-tier eviction
// policy below.
const (
	maxCacheSize      = 5000
	softCacheSize     = 3500
	targetCacheSize   = 2000
	minRetainSize     = 500
	cleanupTimeWindow = 300 * time.Second
)

// entry records when an EventID was observed, for age-based priority.
// timestamp is the entry's block's chain timestamp (cached or estimated
// at Record time), which the cleanup tiers age entries against — not
// seenAt, which only reflects local processing time and would make
// every entry from a historical replay look equally fresh.
type entry struct {
	seenAt      time.Time
	blockNumber uint64
	timestamp   int64
}

// priority classifies an entry as hot (+1, keep longer) or cold (-1,
// evict first) purely by block number: blocks above 20,000,000 are
// "cold". On chains whose block height never crosses that mark every
// entry classifies as hot.
func priority(blockNumber uint64) int {
	if blockNumber > 20_000_000 {
		return -1
	}
	return 1
}

// Dedup is the bounded at-most-once filter for EventIDs: membership
// check on observation, insert on apply, three-tier cleanup when the
// set exceeds maxCacheSize.
type Dedup struct {
	mu      sync.Mutex
	entries map[decode.EventID]entry
	tsFn    func(blockNumber uint64) int64
}

// NewDedup builds a Dedup whose cleanup ages entries by wall-clock
// record time. Prefer NewDedupWithTimestamps in the ingestion pipeline,
// where a block's real chain time is available.
func NewDedup() *Dedup {
	return NewDedupWithTimestamps(nil)
}

// NewDedupWithTimestamps builds a Dedup that ages entries by tsFn's
// estimate of each entry's block timestamp rather than wall-clock record
// time, matching the cache-then-estimate timestamp resolution the
// cleanup tiers are meant to run against. A nil tsFn falls back to
// wall-clock record time.
func NewDedupWithTimestamps(tsFn func(blockNumber uint64) int64) *Dedup {
	return &Dedup{entries: make(map[decode.EventID]entry), tsFn: tsFn}
}

// Seen reports whether id has already been recorded.
func (d *Dedup) Seen(id decode.EventID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[id]
	return ok
}

// Record inserts id and triggers cleanup if the cache has grown past
// its hard bound.
func (d *Dedup) Record(id decode.EventID) {
	now := time.Now()
	ts := now.Unix()
	if d.tsFn != nil {
		ts = d.tsFn(id.BlockNumber)
	}

	d.mu.Lock()
	d.entries[id] = entry{seenAt: now, blockNumber: id.BlockNumber, timestamp: ts}
	size := len(d.entries)
	d.mu.Unlock()

	if size > maxCacheSize {
		d.cleanup()
	}
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// cleanup runs the three-tier eviction policy toward targetCacheSize:
// aggressive when well past the soft threshold, balanced otherwise,
// and a final conservative pass if the aggressive/balanced pass alone
// didn't reach the target.
func (d *Dedup) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := len(d.entries)
	if before <= maxCacheSize {
		return
	}

	if before > softCacheSize+1000 {
		d.aggressiveCleanup()
	} else {
		d.balancedCleanup()
	}

	if len(d.entries) > targetCacheSize {
		d.conservativeCleanup()
	}

	d.postCleanupValidation()

	dedupLog.Info("dedup cache cleanup: %d -> %d entries", before, len(d.entries))
}

// aggressiveCleanup drops every cold (priority<0) entry outright, then
// trims the remainder down to targetCacheSize oldest-first if still
// over budget.
func (d *Dedup) aggressiveCleanup() {
	for id, e := range d.entries {
		if priority(e.blockNumber) < 0 {
			delete(d.entries, id)
		}
	}
	if len(d.entries) > targetCacheSize {
		d.evictOldest(len(d.entries) - targetCacheSize)
	}
}

// balancedCleanup drops entries whose block is older than
// cleanupTimeWindow by chain time, then falls back to oldest-first
// eviction if still over budget.
func (d *Dedup) balancedCleanup() {
	cutoff := time.Now().Add(-cleanupTimeWindow).Unix()
	for id, e := range d.entries {
		if e.timestamp < cutoff {
			delete(d.entries, id)
		}
	}
	if len(d.entries) > targetCacheSize {
		d.evictOldest(len(d.entries) - targetCacheSize)
	}
}

// conservativeCleanup evicts only cold, old entries one at a time,
// stopping as soon as the cache reaches targetCacheSize or drops to
// minRetainSize, whichever comes first — the gentlest of the three
// tiers, used as a final top-up pass.
func (d *Dedup) conservativeCleanup() {
	cutoff := time.Now().Add(-cleanupTimeWindow).Unix()
	for id, e := range d.entries {
		if len(d.entries) <= targetCacheSize || len(d.entries) <= minRetainSize {
			break
		}
		if priority(e.blockNumber) < 0 && e.timestamp < cutoff {
			delete(d.entries, id)
		}
	}
}

// postCleanupValidation checks the minRetainSize floor after the
// cleanup passes: it logs a warning when they left fewer than
// minRetainSize entries. It does not restore entries already evicted.
func (d *Dedup) postCleanupValidation() {
	if len(d.entries) >= minRetainSize {
		return
	}
	dedupLog.Warn("dedup cache cleanup undershot minRetainSize (%d < %d), no further eviction", len(d.entries), minRetainSize)
}

func (d *Dedup) evictOldest(n int) {
	if n <= 0 {
		return
	}
	type keyed struct {
		id  decode.EventID
		ts  time.Time
	}
	ordered := make([]keyed, 0, len(d.entries))
	for id, e := range d.entries {
		ordered = append(ordered, keyed{id: id, ts: e.seenAt})
	}
	// partial selection: evict the n oldest by linear scan passes,
	// adequate at this cache's bounded size (a few thousand entries).
	for i := 0; i < n && len(ordered) > 0; i++ {
		oldestIdx := 0
		for j := 1; j < len(ordered); j++ {
			if ordered[j].ts.Before(ordered[oldestIdx].ts) {
				oldestIdx = j
			}
		}
		delete(d.entries, ordered[oldestIdx].id)
		ordered = append(ordered[:oldestIdx], ordered[oldestIdx+1:]...)
	}
}
