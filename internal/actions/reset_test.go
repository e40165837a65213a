package actions

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/blackframe-labs/levkeeper/internal/store"
)

func newTestResetScheduler(t *testing.T) (*ResetScheduler, *store.Store, *fakeContractClient) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	auctionManager := &fakeContractClient{sendHash: common.HexToHash("0xdef")}
	sched := NewResetScheduler(s, auctionManager, nil, common.Address{}, nil, nil)
	t.Cleanup(sched.Stop)
	return sched, s, auctionManager
}

func TestOnAuctionStartedFiresImmediatelyWhenDelayIsZero(t *testing.T) {
	sched, s, auctionManager := newTestResetScheduler(t)

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.ResetTime = 3600
		p.PriceDropThreshold = big.NewInt(1e18) // WAD: target == starting price -> delay 0
	}))

	a := store.Auction{AuctionID: big.NewInt(1), StartingPrice: big.NewInt(1000)}
	require.NoError(t, s.PutAuction(a))

	sched.OnAuctionStarted(a)

	require.Eventually(t, func() bool {
		return len(auctionManager.sends) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "resetAuction", auctionManager.sends[0].method)
}

func TestOnAuctionStartedSchedulesFutureTimer(t *testing.T) {
	sched, s, auctionManager := newTestResetScheduler(t)

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.ResetTime = 3600
		p.PriceDropThreshold = big.NewInt(5e17) // 50% drop: positive delay
	}))

	a := store.Auction{AuctionID: big.NewInt(2), StartingPrice: big.NewInt(1000)}
	require.NoError(t, s.PutAuction(a))

	sched.OnAuctionStarted(a)

	sched.mu.Lock()
	_, scheduled := sched.timers["2"]
	sched.mu.Unlock()
	require.True(t, scheduled)
	require.Empty(t, auctionManager.sends)
}

func TestOnAuctionRemovedCancelsPendingTimer(t *testing.T) {
	sched, s, _ := newTestResetScheduler(t)

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.ResetTime = 3600
		p.PriceDropThreshold = big.NewInt(5e17)
	}))

	a := store.Auction{AuctionID: big.NewInt(3), StartingPrice: big.NewInt(1000)}
	require.NoError(t, s.PutAuction(a))
	sched.OnAuctionStarted(a)

	sched.mu.Lock()
	_, scheduled := sched.timers["3"]
	sched.mu.Unlock()
	require.True(t, scheduled)

	sched.OnAuctionRemoved(big.NewInt(3))

	sched.mu.Lock()
	_, stillScheduled := sched.timers["3"]
	sched.mu.Unlock()
	require.False(t, stillScheduled)
}

func TestOnAuctionResetReplacesExistingTimer(t *testing.T) {
	sched, s, _ := newTestResetScheduler(t)

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.ResetTime = 3600
		p.PriceDropThreshold = big.NewInt(5e17)
	}))

	a := store.Auction{AuctionID: big.NewInt(4), StartingPrice: big.NewInt(1000)}
	require.NoError(t, s.PutAuction(a))
	sched.OnAuctionStarted(a)

	sched.mu.Lock()
	firstTimer := sched.timers["4"]
	sched.mu.Unlock()

	a.StartingPrice = big.NewInt(2000)
	sched.OnAuctionReset(a)

	sched.mu.Lock()
	secondTimer := sched.timers["4"]
	sched.mu.Unlock()

	require.NotSame(t, firstTimer, secondTimer)
}

func TestFireIsNoopWhenAuctionAlreadyRemoved(t *testing.T) {
	sched, _, auctionManager := newTestResetScheduler(t)
	sched.fire(big.NewInt(999))
	require.Empty(t, auctionManager.sends)
}
