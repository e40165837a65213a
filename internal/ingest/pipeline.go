// Package ingest implements the Ingestion Pipeline: the cold-start
// historical replay, the dual real-time/polling log sources, the
// de-duplication cache and the cursor-advance discipline that together
// keep the Mirror Store at-most-once consistent with chain state.
package ingest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blackframe-labs/levkeeper/internal/apply"
	"github.com/blackframe-labs/levkeeper/internal/decode"
	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/store"
)

var log = logx.New("ingest")

// historicalBatchSize is the fixed per-batch block count for cold-start
// replay's parallel fan-out. Distinct from Config.BatchSize, which
// chunks polling-mode getLogs requests.
const historicalBatchSize = 100

// Config carries the ingestion pipeline's tunables, mirroring the
// event_monitoring.* configuration keys.
type Config struct {
	Contracts                []common.Address
	PollingInterval          time.Duration
	MaxLogsPerRequest        int
	BatchSize                int
	ColdStartBacktraceBlocks uint64
}

// Pipeline drives logs from chain into the decoder and applier. httpEth
// is required; wsEth is optional — its absence (or a later subscription
// error) means the pipeline runs in polling mode only.
type Pipeline struct {
	httpEth *ethclient.Client
	wsEth   *ethclient.Client
	store   *store.Store
	decoder *decode.Decoder
	applier *apply.Applier
	dedup   *Dedup
	cfg     Config
}

func New(httpEth, wsEth *ethclient.Client, s *store.Store, decoder *decode.Decoder, applier *apply.Applier, cfg Config) *Pipeline {
	return &Pipeline{
		httpEth: httpEth,
		wsEth:   wsEth,
		store:   s,
		decoder: decoder,
		applier: applier,
		dedup: NewDedupWithTimestamps(func(block uint64) int64 {
			return cachedOrEstimatedTimestamp(s, block)
		}),
		cfg: cfg,
	}
}

// Run executes the startup sequence, then drives steady-state ingestion
// until ctx is cancelled. It blocks; callers run it in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.startup(ctx); err != nil {
		log.Error("historical sync encountered an error, continuing to steady state: %v", err)
	}

	if p.wsEth != nil {
		if err := p.runRealtime(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("real-time subscription failed, downgrading to polling: %v", err)
		} else {
			return nil
		}
	}
	return p.runPolling(ctx)
}

// startup resumes from the stored cursor if present; otherwise, if a
// backtrace window is configured, it cold-starts from head minus that
// window. A backtrace of 0 disables replay entirely: the cursor is set
// to head and steady-state ingestion picks up from there.
func (p *Pipeline) startup(ctx context.Context) error {
	last, ok, err := p.store.GetLastSyncedBlock()
	if err != nil {
		return fmt.Errorf("ingest: read cursor: %w", err)
	}

	head, err := p.httpEth.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("ingest: read head: %w", err)
	}

	var start uint64
	switch {
	case ok:
		start = last + 1
		if start > head {
			return nil
		}
	case p.cfg.ColdStartBacktraceBlocks > 0:
		if head > p.cfg.ColdStartBacktraceBlocks {
			start = head - p.cfg.ColdStartBacktraceBlocks
		} else {
			start = 0
		}
	default:
		return p.store.SetLastSyncedBlock(head)
	}

	log.Info("historical replay: blocks [%d, %d]", start, head)
	return p.replay(ctx, start, head)
}

// replay iterates [start, head] in fixed-size batches, fanning one task
// out per block within a batch; the cursor advances only once every
// block in the batch has returned. Historical replay runs without the
// de-duplication cache — its idempotence relies on the applier's
// transitions being safe to repeat.
func (p *Pipeline) replay(ctx context.Context, start, head uint64) error {
	for batchStart := start; batchStart <= head; batchStart += historicalBatchSize {
		batchEnd := batchStart + historicalBatchSize - 1
		if batchEnd > head {
			batchEnd = head
		}

		var wg sync.WaitGroup
		var errCount int64
		for b := batchStart; b <= batchEnd; b++ {
			wg.Add(1)
			go func(block uint64) {
				defer wg.Done()
				if err := p.syncBlock(ctx, block, nil); err != nil {
					atomic.AddInt64(&errCount, 1)
					log.Warn("historical sync: block %d: %v", block, err)
				}
			}(b)
		}
		wg.Wait()

		if errCount > 0 {
			log.Warn("historical sync: batch [%d,%d] had %d block errors", batchStart, batchEnd, errCount)
		}
		if err := p.store.SetLastSyncedBlock(batchEnd); err != nil {
			return fmt.Errorf("ingest: advance cursor to %d: %w", batchEnd, err)
		}
	}
	return nil
}

// syncBlock fetches every log from the monitored contracts for exactly
// one block and applies them in (txIndex, logIndex) order. If dedup is
// non-nil, logs already recorded are skipped and newly-applied ones are
// recorded — the mode real-time ingestion uses; historical replay
// passes a nil dedup.
func (p *Pipeline) syncBlock(ctx context.Context, block uint64, dedup *Dedup) error {
	blockBig := new(big.Int).SetUint64(block)
	logs, err := p.httpEth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: blockBig,
		ToBlock:   blockBig,
		Addresses: p.cfg.Contracts,
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	BlockTimestamp(ctx, p.httpEth, p.store, block)

	sortLogs(logs)

	for _, l := range logs {
		p.processLog(l, dedup)
	}
	return nil
}

func sortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].TxIndex != logs[j].TxIndex {
			return logs[i].TxIndex < logs[j].TxIndex
		}
		return logs[i].Index < logs[j].Index
	})
}

// processLog decodes and applies a single log, honouring the dedup
// cache when present. Decode and apply failures are logged and
// skipped — never fatal to ingestion.
func (p *Pipeline) processLog(l types.Log, dedup *Dedup) {
	id := decode.EventID{BlockNumber: l.BlockNumber, TxIndex: l.TxIndex, LogIndex: l.Index}

	if dedup != nil && dedup.Seen(id) {
		return
	}

	ev, err := p.decoder.Decode(l)
	if err != nil {
		return // already logged by the decoder
	}

	if err := p.applier.Apply(ev); err != nil {
		log.Warn("apply failed for event at block %d tx %d log %d: %v", l.BlockNumber, l.TxIndex, l.Index, err)
		return
	}

	if dedup != nil {
		dedup.Record(id)
	}
}

// runRealtime subscribes to new block headers over the WebSocket
// connection; each header triggers a single-block log fetch through the
// de-duplication cache. Returns (nil ctx.Err()) on clean shutdown, or a
// non-nil error on subscription failure so Run can downgrade to polling.
func (p *Pipeline) runRealtime(ctx context.Context) error {
	headers := make(chan *types.Header)
	sub, err := p.wsEth.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info("real-time mode: subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case header := <-headers:
			block := header.Number.Uint64()
			if err := p.syncBlock(ctx, block, p.dedup); err != nil {
				log.Warn("real-time sync: block %d: %v", block, err)
				continue
			}
			if err := p.store.SetLastSyncedBlock(block); err != nil {
				log.Error("failed to advance cursor to %d: %v", block, err)
			}
		}
	}
}

// runPolling issues chunked getLogs calls covering every block since the
// last cursor position on every tick, decoding and applying through the
// de-duplication cache.
func (p *Pipeline) runPolling(ctx context.Context) error {
	interval := p.cfg.PollingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("polling mode: interval=%s", interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				log.Warn("polling tick failed: %v", err)
			}
		}
	}
}

// pollOnce chunks [from, head] into BatchSize-block windows so a long
// cursor gap (e.g. after an outage) never issues one unbounded getLogs
// call that most RPC providers would reject. The cursor advances after
// each chunk, so a mid-range failure resumes from the last completed
// chunk rather than re-fetching the whole gap.
func (p *Pipeline) pollOnce(ctx context.Context) error {
	last, ok, err := p.store.GetLastSyncedBlock()
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	head, err := p.httpEth.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	from := head
	if ok {
		from = last + 1
	}
	if from > head {
		return nil
	}

	batchSize := uint64(p.cfg.BatchSize)
	if batchSize == 0 {
		batchSize = historicalBatchSize
	}

	for chunkStart := from; chunkStart <= head; chunkStart += batchSize {
		chunkEnd := chunkStart + batchSize - 1
		if chunkEnd > head {
			chunkEnd = head
		}

		logs, err := p.httpEth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(chunkStart),
			ToBlock:   new(big.Int).SetUint64(chunkEnd),
			Addresses: p.cfg.Contracts,
		})
		if err != nil {
			return fmt.Errorf("filter logs [%d,%d]: %w", chunkStart, chunkEnd, err)
		}
		if p.cfg.MaxLogsPerRequest > 0 && len(logs) > p.cfg.MaxLogsPerRequest {
			log.Warn("poll chunk [%d,%d] returned %d logs, exceeding max_logs_per_request=%d; consider a smaller batch_size",
				chunkStart, chunkEnd, len(logs), p.cfg.MaxLogsPerRequest)
		}

		sortLogs(logs)
		for _, l := range logs {
			p.processLog(l, p.dedup)
		}

		if err := p.store.SetLastSyncedBlock(chunkEnd); err != nil {
			return fmt.Errorf("advance cursor to %d: %w", chunkEnd, err)
		}
	}

	if err := p.store.PruneTimestamps(head); err != nil {
		log.Warn("timestamp prune failed: %v", err)
	}
	return nil
}
