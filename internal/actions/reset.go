package actions

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/store"
	"github.com/blackframe-labs/levkeeper/pkg/contractclient"
	"github.com/blackframe-labs/levkeeper/pkg/txlistener"
)

var resetLog = logx.New("actions.reset")

// ResetScheduler is the Reset Scheduler: one shared, mutex-guarded
// map of pending single-shot timers keyed by auction ID. The map lives
// on the scheduler itself and is never reconstructed inside a fired
// timer's callback — each fire looks up and deletes its own entry from
// this one map, which is what keeps OnAuctionRemoved's cancellation
// able to actually find and stop a pending timer.
type ResetScheduler struct {
	mu             sync.Mutex
	timers         map[string]*time.Timer
	store          *store.Store
	auctionManager contractclient.ContractClient
	signer         *ecdsa.PrivateKey
	keeper         common.Address
	recorder       Recorder
	listener       *txlistener.TxListener
}

func NewResetScheduler(
	s *store.Store,
	auctionManager contractclient.ContractClient,
	signer *ecdsa.PrivateKey,
	keeper common.Address,
	recorder Recorder,
	listener *txlistener.TxListener,
) *ResetScheduler {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &ResetScheduler{
		timers:         make(map[string]*time.Timer),
		store:          s,
		auctionManager: auctionManager,
		signer:         signer,
		keeper:         keeper,
		recorder:       recorder,
		listener:       listener,
	}
}

// OnAuctionStarted schedules a reset timer for a newly observed auction.
func (r *ResetScheduler) OnAuctionStarted(a store.Auction) {
	r.schedule(a)
}

// OnAuctionReset replaces any existing timer for the auction with a new
// one derived from the auction's new starting price.
func (r *ResetScheduler) OnAuctionReset(a store.Auction) {
	r.schedule(a)
}

// OnAuctionRemoved cancels the pending timer, if any, before the caller
// deletes the auction record.
func (r *ResetScheduler) OnAuctionRemoved(auctionID *big.Int) {
	r.cancel(auctionID.String())
}

// Stop cancels every pending timer; called on shutdown.
func (r *ResetScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}

func (r *ResetScheduler) schedule(a store.Auction) {
	key := a.AuctionID.String()
	r.cancel(key)

	params, err := r.store.GetSystemParams()
	if err != nil {
		resetLog.Error("schedule auction %s: read system params: %v", key, err)
		return
	}

	delaySecs, err := chainmath.ResetDelay(a.StartingPrice, params.PriceDropThreshold, params.ResetTime)
	if err != nil {
		resetLog.Error("schedule auction %s: reset delay: %v", key, err)
		return
	}

	if delaySecs <= 0 {
		resetLog.Info("auction %s: immediate reset (delay=0)", key)
		go r.fire(a.AuctionID)
		return
	}

	resetLog.Info("auction %s: reset scheduled in %ds", key, delaySecs)
	timer := time.AfterFunc(time.Duration(delaySecs)*time.Second, func() {
		r.fire(a.AuctionID)
	})

	r.mu.Lock()
	r.timers[key] = timer
	r.mu.Unlock()
}

func (r *ResetScheduler) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}

// fire is the timer callback: it removes its own entry from the shared
// map, re-checks the auction still exists, and submits resetAuction if
// so. A removed auction makes this a no-op.
func (r *ResetScheduler) fire(auctionID *big.Int) {
	key := auctionID.String()
	r.mu.Lock()
	delete(r.timers, key)
	r.mu.Unlock()

	existing, err := r.store.GetAuction(auctionID)
	if err != nil {
		resetLog.Error("fire auction %s: read auction: %v", key, err)
		return
	}
	if existing == nil {
		resetLog.Debug("fire auction %s: already removed, no-op", key)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	txHash, err := r.auctionManager.Send(ctx, r.signer, "resetAuction", auctionID, r.keeper)
	if err != nil {
		resetLog.Error("resetAuction(%s) failed: %v", key, err)
		return
	}
	resetLog.Info("resetAuction submitted: auctionId=%s tx=%s", key, txHash.Hex())
	if err := r.recorder.RecordReset(auctionID, txHash); err != nil {
		resetLog.Warn("failed to record reset for auction %s: %v", key, err)
	}

	if r.listener != nil {
		go r.confirmReset(key, txHash)
	}
}

func (r *ResetScheduler) confirmReset(key string, txHash common.Hash) {
	receipt, err := r.listener.WaitForTransaction(txHash)
	if err != nil {
		resetLog.Warn("resetAuction tx %s receipt not confirmed: %v", txHash.Hex(), err)
		return
	}
	if receipt.Status == 0 {
		resetLog.Error("resetAuction(%s) reverted: tx=%s", key, txHash.Hex())
	}
}
