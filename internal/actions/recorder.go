package actions

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
)

// Recorder is the persistence surface the liquidation loop and reset
// scheduler write through — implemented by internal/recorder's
// gorm-backed store, or left as NoopRecorder when no database is
// configured.
type Recorder interface {
	RecordNAVSnapshot(addr string, tokenID *big.Int, nav *chainmath.NetNAV) error
	RecordBark(addr string, tokenID *big.Int, txHash common.Hash) error
	RecordReset(auctionID *big.Int, txHash common.Hash) error
}

type NoopRecorder struct{}

func (NoopRecorder) RecordNAVSnapshot(string, *big.Int, *chainmath.NetNAV) error { return nil }
func (NoopRecorder) RecordBark(string, *big.Int, common.Hash) error              { return nil }
func (NoopRecorder) RecordReset(*big.Int, common.Hash) error                     { return nil }
