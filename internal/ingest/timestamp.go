package ingest

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/store"
)

var tsLog = logx.New("ingest.timestamp")

// Anchor point and average block time used to estimate a block's
// timestamp when the RPC node is unreachable.
const (
	baseBlock       = 18_000_000
	baseTimestamp   = 1_670_534_400
	secondsPerBlock = 12
)

// BlockTimestamp resolves block's unix timestamp: store cache first,
// then an RPC fetch (cached back on success), then a linear estimate
// from the fixed anchor if the RPC call itself fails.
func BlockTimestamp(ctx context.Context, eth *ethclient.Client, s *store.Store, block uint64) int64 {
	if ts, ok, err := s.GetBlockTimestamp(block); err == nil && ok {
		return ts
	}

	header, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err == nil {
		ts := int64(header.Time)
		if putErr := s.PutBlockTimestamp(block, ts); putErr != nil {
			tsLog.Warn("failed to cache timestamp for block %d: %v", block, putErr)
		}
		return ts
	}

	tsLog.Warn("RPC unavailable for block %d timestamp, estimating: %v", block, err)
	return estimateBlockTimestamp(block)
}

// estimateBlockTimestamp extrapolates linearly from the fixed anchor
// block/timestamp pair using the chain's average block time.
func estimateBlockTimestamp(block uint64) int64 {
	delta := int64(block) - baseBlock
	return baseTimestamp + delta*secondsPerBlock
}

// cachedOrEstimatedTimestamp resolves block's timestamp from the store's
// cache, falling back to the linear estimate — never touching the RPC
// client. Used to stamp dedup cache entries with their block's time for
// the cleanup tiers' age cutoff, which must stay synchronous and
// lock-free of network I/O; BlockTimestamp (which
// does hit the RPC and populates the very cache this reads) is what
// keeps that cache populated with real chain timestamps.
func cachedOrEstimatedTimestamp(s *store.Store, block uint64) int64 {
	if ts, ok, err := s.GetBlockTimestamp(block); err == nil && ok {
		return ts
	}
	return estimateBlockTimestamp(block)
}
