package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackframe-labs/levkeeper/internal/decode"
)

func TestDedupSeenAndRecord(t *testing.T) {
	d := NewDedup()
	id := decode.EventID{BlockNumber: 1, TxIndex: 0, LogIndex: 0}

	require.False(t, d.Seen(id))
	d.Record(id)
	require.True(t, d.Seen(id))
	require.Equal(t, 1, d.Len())
}

func TestDedupCleanupTriggersAboveMaxCacheSize(t *testing.T) {
	d := NewDedup()
	for i := uint64(0); i < maxCacheSize+1; i++ {
		d.Record(decode.EventID{BlockNumber: i, TxIndex: 0, LogIndex: 0})
	}
	require.LessOrEqual(t, d.Len(), maxCacheSize)
}

func TestDedupCleanupNeverDropsBelowMinRetainSize(t *testing.T) {
	d := NewDedup()
	for i := uint64(0); i < maxCacheSize+500; i++ {
		d.Record(decode.EventID{BlockNumber: i, TxIndex: 0, LogIndex: 0})
	}
	require.GreaterOrEqual(t, d.Len(), minRetainSize)
}

func TestPriorityClassifiesByBlockHeight(t *testing.T) {
	require.Equal(t, 1, priority(100))
	require.Equal(t, -1, priority(20_000_001))
}

func TestDedupBalancedCleanupAgesByChainTimeNotWallClock(t *testing.T) {
	fixedBlockTs := map[uint64]int64{
		1: time.Now().Add(-time.Hour).Unix(), // old chain time, should be evicted
		2: time.Now().Unix(),                 // fresh chain time, should survive
	}
	d := NewDedupWithTimestamps(func(block uint64) int64 { return fixedBlockTs[block] })

	// seenAt (wall-clock record time) is identical and recent for both —
	// only the injected chain timestamp tells them apart.
	d.Record(decode.EventID{BlockNumber: 1, TxIndex: 0, LogIndex: 0})
	d.Record(decode.EventID{BlockNumber: 2, TxIndex: 0, LogIndex: 0})

	d.balancedCleanup()

	_, staleStillPresent := d.entries[decode.EventID{BlockNumber: 1, TxIndex: 0, LogIndex: 0}]
	_, freshStillPresent := d.entries[decode.EventID{BlockNumber: 2, TxIndex: 0, LogIndex: 0}]
	require.False(t, staleStillPresent, "entry with old chain timestamp should be evicted by balancedCleanup")
	require.True(t, freshStillPresent, "entry with fresh chain timestamp should survive balancedCleanup")
}

func TestDedupAggressiveCleanupDropsColdEntriesFirst(t *testing.T) {
	d := NewDedup()
	now := time.Now()

	// a handful of hot (low block number) entries that should survive
	for i := uint64(0); i < 10; i++ {
		d.entries[decode.EventID{BlockNumber: i}] = entry{seenAt: now, blockNumber: i}
	}
	// enough cold (high block number) entries to push well past soft threshold
	for i := uint64(0); i < softCacheSize+1500; i++ {
		blk := 20_000_001 + i
		d.entries[decode.EventID{BlockNumber: blk, LogIndex: uint(i)}] = entry{seenAt: now, blockNumber: blk}
	}

	d.cleanup()

	for i := uint64(0); i < 10; i++ {
		_, ok := d.entries[decode.EventID{BlockNumber: i}]
		require.True(t, ok, "hot entry %d should survive aggressive cleanup", i)
	}
}
