// Package actions implements the Reactive Actions: the liquidation
// loop that scans every mirrored position for a bark-eligible NAV, and
// the reset scheduler that fires Dutch-auction resets on their computed
// delay.
package actions

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/navcalc"
	"github.com/blackframe-labs/levkeeper/internal/store"
	"github.com/blackframe-labs/levkeeper/pkg/contractclient"
	"github.com/blackframe-labs/levkeeper/pkg/txlistener"
)

var log = logx.New("actions.liquidation")

// LiquidationLoop periodically reads the oracle price, recomputes every
// position's net NAV and submits a bark() transaction for every position
// under the liquidation threshold.
type LiquidationLoop struct {
	store              *store.Store
	oracle             contractclient.ContractClient
	liquidationManager contractclient.ContractClient
	signer             *ecdsa.PrivateKey
	keeper             common.Address
	interval           time.Duration
	recorder           Recorder
	listener           *txlistener.TxListener
}

func NewLiquidationLoop(
	s *store.Store,
	oracle, liquidationManager contractclient.ContractClient,
	signer *ecdsa.PrivateKey,
	keeper common.Address,
	interval time.Duration,
	recorder Recorder,
	listener *txlistener.TxListener,
) *LiquidationLoop {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &LiquidationLoop{
		store:              s,
		oracle:             oracle,
		liquidationManager: liquidationManager,
		signer:             signer,
		keeper:             keeper,
		interval:           interval,
		recorder:           recorder,
		listener:           listener,
	}
}

// Run ticks every configured interval until ctx is cancelled, running
// one scan per tick. A single iteration's failure never aborts the loop.
func (l *LiquidationLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.runOnce(ctx); err != nil {
				log.Error("liquidation scan failed: %v", err)
			}
		}
	}
}

func (l *LiquidationLoop) runOnce(ctx context.Context) error {
	price, err := l.readOraclePrice(ctx)
	if err != nil {
		return fmt.Errorf("read oracle price: %w", err)
	}

	positions, err := l.store.AllPositions()
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	params, err := l.store.GetSystemParams()
	if err != nil {
		return fmt.Errorf("read system params: %w", err)
	}

	results := navcalc.ComputeAll(positions, price, params.AnnualInterestRate, time.Now())
	log.Debug("liquidation scan: %d positions, price=%s", len(results), price)

	for _, r := range results {
		if err := l.recorder.RecordNAVSnapshot(r.Addr, r.TokenID, r.NAV); err != nil {
			log.Warn("failed to record NAV snapshot for %s/%s: %v", r.Addr, r.TokenID, err)
		}

		if r.NAV.NetNAV.Cmp(params.LiquidationThreshold) >= 0 {
			continue
		}

		l.bark(ctx, r.Addr, r.TokenID)
	}
	return nil
}

// readOraclePrice calls latestRoundData() and returns |answer| as a WAD
// value; a negative feed reading (stale or faulted oracle) is taken in
// absolute value rather than rejected.
func (l *LiquidationLoop) readOraclePrice(ctx context.Context) (*big.Int, error) {
	outputs, err := l.oracle.Call(nil, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("unexpected latestRoundData output shape: %d values", len(outputs))
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("latestRoundData: answer field is not *big.Int")
	}
	return new(big.Int).Abs(answer), nil
}

// bark submits the liquidation transaction for one position. Failures
// are logged, not returned — per the error table, a submit failure is
// not retried within this cycle; the next scan re-detects the position.
func (l *LiquidationLoop) bark(ctx context.Context, addr string, tokenID *big.Int) {
	txHash, err := l.liquidationManager.Send(ctx, l.signer, "bark", common.HexToAddress(addr), tokenID, l.keeper)
	if err != nil {
		log.Error("bark(%s, %s) failed: %v", addr, tokenID, err)
		return
	}
	log.Info("bark submitted: user=%s tokenId=%s tx=%s", addr, tokenID, txHash.Hex())
	if err := l.recorder.RecordBark(addr, tokenID, txHash); err != nil {
		log.Warn("failed to record bark for %s/%s: %v", addr, tokenID, err)
	}

	if l.listener != nil {
		go l.confirmBark(addr, tokenID, txHash)
	}
}

// confirmBark waits for the bark transaction's receipt and logs a
// revert distinctly from a plain submit failure, per the error table's
// "transaction submit" row — this never retries, it only observes.
func (l *LiquidationLoop) confirmBark(addr string, tokenID *big.Int, txHash common.Hash) {
	receipt, err := l.listener.WaitForTransaction(txHash)
	if err != nil {
		log.Warn("bark tx %s receipt not confirmed: %v", txHash.Hex(), err)
		return
	}
	if receipt.Status == 0 {
		log.Error("bark(%s, %s) reverted: tx=%s", addr, tokenID, txHash.Hex())
	}
}
