// Package store implements the Mirror Store: a durable, typed
// key-value mirror of on-chain system parameters, user positions,
// auctions, the sync cursor and the block-timestamp cache, backed by
// goleveldb.
package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/logx"
)

var log = logx.New("store")

const (
	keyParams  = "system_params"
	keySync    = "last_synced_block"
	prefixPos  = "position_"
	prefixAuc  = "auction_"
	prefixTime = "block_timestamp_"
)

// MaxTimestampEntries is the retention bound for the block-timestamp
// cache; PruneTimestamps trims down to this many most-recent entries.
const MaxTimestampEntries = 5000

// SystemParams is the single-row protocol parameter record.
type SystemParams struct {
	LiquidationThreshold *big.Int `json:"liquidation_threshold"`
	AdjustmentThreshold  *big.Int `json:"adjustment_threshold"`
	Penalty              *big.Int `json:"penalty"`
	PriceMultiplier      *big.Int `json:"price_multiplier"`
	ResetTime            int64    `json:"reset_time"`
	PriceDropThreshold   *big.Int `json:"price_drop_threshold"`
	PercentageReward     *big.Int `json:"percentage_reward"`
	FixedReward          *big.Int `json:"fixed_reward"`
	MinAuctionAmount     *big.Int `json:"min_auction_amount"`
	AnnualInterestRate   int64    `json:"annual_interest_rate"`
}

// DefaultSystemParams returns the protocol's bootstrap parameter set,
// written back on first read when no params row exists yet.
func DefaultSystemParams() SystemParams {
	return SystemParams{
		LiquidationThreshold: big.NewInt(3e17),
		AdjustmentThreshold:  big.NewInt(5e17),
		Penalty:              big.NewInt(3e15),
		PriceMultiplier:      big.NewInt(1000),
		ResetTime:            3600,
		PriceDropThreshold:   big.NewInt(500),
		PercentageReward:     big.NewInt(100),
		FixedReward:          big.NewInt(1e18),
		MinAuctionAmount:     big.NewInt(1e18),
		AnnualInterestRate:   300,
	}
}

// UserPosition mirrors one leveraged-token holding, keyed by (user, tokenID).
type UserPosition struct {
	Amount        *big.Int              `json:"amount"`
	Timestamp     int64                 `json:"timestamp"`
	TotalInterest *big.Int              `json:"total_interest"`
	Leverage      chainmath.LeverageType `json:"leverage"`
	MintPrice     *big.Int              `json:"mint_price"`
}

// Auction mirrors one active Dutch auction, keyed by auction ID.
type Auction struct {
	AuctionID        *big.Int `json:"auction_id"`
	StartingPrice    *big.Int `json:"starting_price"`
	UnderlyingAmount *big.Int `json:"underlying_amount"`
	OriginalOwner    string   `json:"original_owner"`
	TokenID          *big.Int `json:"token_id"`
	Triggerer        string   `json:"triggerer"`
	RewardAmount     *big.Int `json:"reward_amount"`
	StartTime        int64    `json:"start_time"`
}

// Store is the Mirror Store's handle: a single goleveldb instance
// guarded by a mutex. Every method holds the lock for its own duration,
// so UpdateSystemParams's read-modify-write of the params row is atomic.
// Position and auction upserts are read-modify-write sequences across
// separate calls (Get then Put) and are not atomic as a whole; they rely
// on the single-writer-per-key discipline of the concurrency model.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Open opens (creating if absent) a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func positionKey(addr string, tokenID *big.Int) string {
	return fmt.Sprintf("%s%s_%s", prefixPos, addr, tokenID.String())
}

func auctionKey(id *big.Int) string {
	return prefixAuc + id.String()
}

func timestampKey(block uint64) string {
	return fmt.Sprintf("%s%020d", prefixTime, block)
}

// GetSystemParams reads the single params row, initialising it to
// protocol defaults (and persisting them) on first read.
func (s *Store) GetSystemParams() (SystemParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get([]byte(keyParams), nil)
	if err == leveldb.ErrNotFound {
		defaults := DefaultSystemParams()
		if err := s.putJSON(keyParams, defaults); err != nil {
			return SystemParams{}, fmt.Errorf("store: init system params: %w", err)
		}
		return defaults, nil
	}
	if err != nil {
		return SystemParams{}, fmt.Errorf("store: get system params: %w", err)
	}
	var p SystemParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return SystemParams{}, fmt.Errorf("store: decode system params: %w", err)
	}
	return p, nil
}

// UpdateSystemParams applies fn to the current params (initialising
// defaults first if absent) and persists the result; the whole
// sequence runs under the store's lock, giving read-modify-write
// updates atomicity without a richer CAS primitive.
func (s *Store) UpdateSystemParams(fn func(*SystemParams)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current SystemParams
	raw, err := s.db.Get([]byte(keyParams), nil)
	switch {
	case err == leveldb.ErrNotFound:
		current = DefaultSystemParams()
	case err != nil:
		return fmt.Errorf("store: get system params: %w", err)
	default:
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("store: decode system params: %w", err)
		}
	}
	fn(&current)
	return s.putJSON(keyParams, current)
}

// GetLastSyncedBlock returns (0, false) if the cursor has never been set.
func (s *Store) GetLastSyncedBlock() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get([]byte(keySync), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get cursor: %w", err)
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, fmt.Errorf("store: decode cursor: %w", err)
	}
	return v, true, nil
}

// SetLastSyncedBlock writes the cursor unconditionally; callers are
// responsible for the monotonicity invariant (P3) — this method does
// not itself reject a smaller value, matching the "advance only after
// all logs in a block are applied" rule living in the ingestion layer,
// not the store.
func (s *Store) SetLastSyncedBlock(block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(keySync, block)
}

// GetPosition returns (nil, nil) if no record exists for (addr, tokenID).
func (s *Store) GetPosition(addr string, tokenID *big.Int) (*UserPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get([]byte(positionKey(addr, tokenID)), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get position: %w", err)
	}
	var p UserPosition
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode position: %w", err)
	}
	return &p, nil
}

// PutPosition upserts the record, enforcing invariant I1 (amount>0):
// callers that would otherwise store amount==0 should call DeletePosition.
func (s *Store) PutPosition(addr string, tokenID *big.Int, p UserPosition) error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("store: refusing to put position with non-positive amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(positionKey(addr, tokenID), p)
}

func (s *Store) DeletePosition(addr string, tokenID *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete([]byte(positionKey(addr, tokenID)), nil)
}

// PositionRef pairs a position with the (addr, tokenID) it was keyed by,
// for callers iterating the whole table.
type PositionRef struct {
	Addr    string
	TokenID *big.Int
	Position UserPosition
}

// AllPositions prefix-scans every position record.
func (s *Store) AllPositions() ([]PositionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PositionRef
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixPos)), nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		rest := key[len(prefixPos):]
		addr, tokenIDStr, err := splitLast(rest, '_')
		if err != nil {
			log.Warn("skipping malformed position key %q: %v", key, err)
			continue
		}
		tokenID, ok := new(big.Int).SetString(tokenIDStr, 10)
		if !ok {
			log.Warn("skipping position key %q: bad token id", key)
			continue
		}
		var p UserPosition
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			log.Warn("skipping position key %q: decode error: %v", key, err)
			continue
		}
		out = append(out, PositionRef{Addr: addr, TokenID: tokenID, Position: p})
	}
	return out, iter.Error()
}

func splitLast(s string, sep byte) (before, after string, err error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("separator %q not found", sep)
}

// GetAuction returns (nil, nil) if no record exists for id.
func (s *Store) GetAuction(id *big.Int) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get([]byte(auctionKey(id)), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get auction: %w", err)
	}
	var a Auction
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("store: decode auction: %w", err)
	}
	return &a, nil
}

func (s *Store) PutAuction(a Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(auctionKey(a.AuctionID), a)
}

func (s *Store) DeleteAuction(id *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete([]byte(auctionKey(id)), nil)
}

// AllAuctions prefix-scans every active auction record.
func (s *Store) AllAuctions() ([]Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Auction
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixAuc)), nil)
	defer iter.Release()
	for iter.Next() {
		var a Auction
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			log.Warn("skipping auction key %q: decode error: %v", string(iter.Key()), err)
			continue
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// GetBlockTimestamp returns (0, false) if block is not cached.
func (s *Store) GetBlockTimestamp(block uint64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get([]byte(timestampKey(block)), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get timestamp: %w", err)
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, fmt.Errorf("store: decode timestamp: %w", err)
	}
	return v, true, nil
}

// PutBlockTimestamp is idempotent: the same block always maps to the
// same chain timestamp, so concurrent writers never disagree.
func (s *Store) PutBlockTimestamp(block uint64, unixSecs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(timestampKey(block), unixSecs)
}

// PruneTimestamps deletes every cached timestamp for blocks older than
// currentBlock-MaxTimestampEntries, bounding the cache's memory footprint.
func (s *Store) PruneTimestamps(currentBlock uint64) error {
	if currentBlock <= MaxTimestampEntries {
		return nil
	}
	cutoff := currentBlock - MaxTimestampEntries

	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixTime)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		key := string(iter.Key())
		blockStr := key[len(prefixTime):]
		var block uint64
		if _, err := fmt.Sscanf(blockStr, "%d", &block); err != nil {
			continue
		}
		if block < cutoff {
			batch.Delete(iter.Key())
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("store: prune timestamps: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch, nil)
}

func (s *Store) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw, nil)
}
