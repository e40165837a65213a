// Package apply implements the Event Applier: the per-event-kind
// transition from a decoded log to a Mirror Store mutation. Application
// is idempotent for every kind except PositionIncreased and
// InterestCollected — the Ingestion Pipeline's de-duplication cache is
// what makes those at-most-once in practice.
package apply

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/decode"
	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/store"
)

var log = logx.New("apply")

// ContractRoles names which configured contract address corresponds to
// which parameter-whitelist role, so ParameterChanged/LiquidationConfigInfo
// dispatch can tell the liquidation manager from the auction manager.
type ContractRoles struct {
	LiquidationManager common.Address
	AuctionManager     common.Address
}

// AuctionNotifier is implemented by the Reset Scheduler; the
// applier calls it on every auction lifecycle event so the scheduler's
// single shared timer map stays in sync with the mirror.
type AuctionNotifier interface {
	OnAuctionStarted(a store.Auction)
	OnAuctionReset(a store.Auction)
	OnAuctionRemoved(auctionID *big.Int)
}

// NoopNotifier discards every notification; useful for historical
// replay contexts where no reset scheduler is listening yet.
type NoopNotifier struct{}

func (NoopNotifier) OnAuctionStarted(store.Auction)     {}
func (NoopNotifier) OnAuctionReset(store.Auction)       {}
func (NoopNotifier) OnAuctionRemoved(*big.Int)          {}

// Applier wires the Mirror Store, contract-role table and auction
// notifier together.
type Applier struct {
	store    *store.Store
	roles    ContractRoles
	notifier AuctionNotifier
}

func New(s *store.Store, roles ContractRoles, notifier AuctionNotifier) *Applier {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Applier{store: s, roles: roles, notifier: notifier}
}

var liquidationManagerParams = map[string]bool{
	"adjustmentThreshold": true,
	"liquidationThreshold": true,
	"penalty":             true,
}

var auctionManagerParams = map[string]bool{
	"priceMultiplier":     true,
	"resetTime":           true,
	"minAuctionAmount":    true,
	"priceDropThreshold":  true,
	"percentageReward":    true,
	"fixedReward":         true,
	"circuitBreaker":      true, // observed, not persisted
}

// Apply dispatches a decoded event (as returned by decode.Decoder.Decode)
// to the matching store transition. Unknown event types are an error —
// the decoder never returns one — so a non-nil error here is a defect,
// not a chain-data problem.
func (a *Applier) Apply(ev interface{}) error {
	switch e := ev.(type) {
	case *decode.InterestRateChanged:
		return a.applyInterestRateChanged(e)
	case *decode.PositionIncreased:
		return a.applyPositionIncreased(e)
	case *decode.InterestCollected:
		return a.applyInterestCollected(e)
	case *decode.Mint:
		return a.applyMint(e)
	case *decode.ParameterChanged:
		return a.applyParameterChanged(e)
	case *decode.LiquidationConfigInfo:
		return a.applyLiquidationConfigInfo(e)
	case *decode.NetValueAdjusted:
		return a.applyNetValueAdjusted(e)
	case *decode.AuctionStarted:
		return a.applyAuctionStarted(e)
	case *decode.AuctionReset:
		return a.applyAuctionReset(e)
	case *decode.AuctionRemoved:
		return a.applyAuctionRemoved(e)
	default:
		return fmt.Errorf("apply: unhandled event type %T", ev)
	}
}

func (a *Applier) applyInterestRateChanged(e *decode.InterestRateChanged) error {
	return a.store.UpdateSystemParams(func(p *store.SystemParams) {
		p.AnnualInterestRate = e.New.Int64()
	})
}

func (a *Applier) applyPositionIncreased(e *decode.PositionIncreased) error {
	addr := e.User.Hex()
	existing, err := a.store.GetPosition(addr, e.TokenID)
	if err != nil {
		return fmt.Errorf("apply PositionIncreased: %w", err)
	}
	p := store.UserPosition{
		Amount:        e.TotalAmount,
		TotalInterest: e.TotalInterest,
		Timestamp:     time.Now().Unix(),
	}
	if existing != nil {
		p.Leverage = existing.Leverage
		p.MintPrice = existing.MintPrice
	} else {
		p.Leverage = chainmath.Conservative
		p.MintPrice = big.NewInt(0)
	}
	if p.Amount.Sign() <= 0 {
		return a.store.DeletePosition(addr, e.TokenID)
	}
	return a.store.PutPosition(addr, e.TokenID, p)
}

func (a *Applier) applyInterestCollected(e *decode.InterestCollected) error {
	addr := e.User.Hex()
	existing, err := a.store.GetPosition(addr, e.TokenID)
	if err != nil {
		return fmt.Errorf("apply InterestCollected: %w", err)
	}
	if existing == nil {
		log.Warn("InterestCollected for unknown position %s/%s, ignoring", addr, e.TokenID)
		return nil
	}
	newAmount := new(big.Int).Sub(existing.Amount, e.DeductAmount)
	newInterest := new(big.Int).Sub(existing.TotalInterest, e.Interest)
	if newInterest.Sign() < 0 {
		newInterest = big.NewInt(0)
	}
	if newAmount.Sign() <= 0 {
		return a.store.DeletePosition(addr, e.TokenID)
	}
	return a.store.PutPosition(addr, e.TokenID, store.UserPosition{
		Amount:        newAmount,
		TotalInterest: newInterest,
		Leverage:      existing.Leverage,
		MintPrice:     existing.MintPrice,
		Timestamp:     time.Now().Unix(),
	})
}

func (a *Applier) applyMint(e *decode.Mint) error {
	addr := e.User.Hex()
	existing, err := a.store.GetPosition(addr, e.TokenID)
	if err != nil {
		return fmt.Errorf("apply Mint: %w", err)
	}
	if existing != nil {
		existing.Leverage = e.Leverage
		existing.MintPrice = e.MintPrice
		return a.store.PutPosition(addr, e.TokenID, *existing)
	}
	if e.LAmount.Sign() <= 0 {
		log.Warn("Mint with non-positive lAmount for %s/%s, ignoring", addr, e.TokenID)
		return nil
	}
	return a.store.PutPosition(addr, e.TokenID, store.UserPosition{
		Amount:        e.LAmount,
		TotalInterest: big.NewInt(0),
		Leverage:      e.Leverage,
		MintPrice:     e.MintPrice,
		Timestamp:     time.Now().Unix(),
	})
}

func (a *Applier) applyNetValueAdjusted(e *decode.NetValueAdjusted) error {
	addr := e.User.Hex()
	existing, err := a.store.GetPosition(addr, e.ToTokenID)
	if err != nil {
		return fmt.Errorf("apply NetValueAdjusted: %w", err)
	}
	if existing != nil {
		existing.Leverage = e.Leverage
		existing.MintPrice = e.NewMintPrice
		return a.store.PutPosition(addr, e.ToTokenID, *existing)
	}
	if e.AdjustAmount.Sign() <= 0 {
		log.Warn("NetValueAdjusted with non-positive adjustAmount for %s/%s, ignoring", addr, e.ToTokenID)
		return nil
	}
	return a.store.PutPosition(addr, e.ToTokenID, store.UserPosition{
		Amount:        e.AdjustAmount,
		TotalInterest: big.NewInt(0),
		Leverage:      e.Leverage,
		MintPrice:     e.NewMintPrice,
		Timestamp:     time.Now().Unix(),
	})
}

func (a *Applier) applyParameterChanged(e *decode.ParameterChanged) error {
	switch e.ContractAddress {
	case a.roles.LiquidationManager:
		if !liquidationManagerParams[e.Name] {
			log.Warn("ParameterChanged(%s) not in liquidation manager whitelist, ignoring", e.Name)
			return nil
		}
		return a.store.UpdateSystemParams(func(p *store.SystemParams) {
			switch e.Name {
			case "adjustmentThreshold":
				p.AdjustmentThreshold = e.Value
			case "liquidationThreshold":
				p.LiquidationThreshold = e.Value
			case "penalty":
				p.Penalty = e.Value
			}
		})
	case a.roles.AuctionManager:
		if !auctionManagerParams[e.Name] {
			log.Warn("ParameterChanged(%s) not in auction manager whitelist, ignoring", e.Name)
			return nil
		}
		if e.Name == "circuitBreaker" {
			log.Info("circuitBreaker observed (value=%s), not persisted", e.Value)
			return nil
		}
		return a.store.UpdateSystemParams(func(p *store.SystemParams) {
			switch e.Name {
			case "priceMultiplier":
				p.PriceMultiplier = e.Value
			case "resetTime":
				p.ResetTime = e.Value.Int64()
			case "minAuctionAmount":
				p.MinAuctionAmount = e.Value
			case "priceDropThreshold":
				p.PriceDropThreshold = e.Value
			case "percentageReward":
				p.PercentageReward = e.Value
			case "fixedReward":
				p.FixedReward = e.Value
			}
		})
	default:
		log.Warn("ParameterChanged from unrecognised contract %s, ignoring", e.ContractAddress.Hex())
		return nil
	}
}

func (a *Applier) applyLiquidationConfigInfo(e *decode.LiquidationConfigInfo) error {
	err := a.store.UpdateSystemParams(func(p *store.SystemParams) {
		p.AdjustmentThreshold = e.AdjustmentThreshold
		p.LiquidationThreshold = e.LiquidationThreshold
		p.Penalty = e.Penalty
	})
	if err != nil {
		return err
	}
	log.Info("LiquidationConfigInfo enabled=%v observed, not persisted", e.Enabled)
	return nil
}

func (a *Applier) applyAuctionStarted(e *decode.AuctionStarted) error {
	auction := store.Auction{
		AuctionID:        e.AuctionID,
		StartingPrice:    e.StartingPrice,
		UnderlyingAmount: e.UnderlyingAmount,
		OriginalOwner:    e.OriginalOwner.Hex(),
		TokenID:          e.TokenID,
		Triggerer:        e.Triggerer.Hex(),
		RewardAmount:     e.RewardAmount,
		StartTime:        time.Now().Unix(),
	}
	if err := a.store.PutAuction(auction); err != nil {
		return fmt.Errorf("apply AuctionStarted: %w", err)
	}
	a.notifier.OnAuctionStarted(auction)
	return nil
}

func (a *Applier) applyAuctionReset(e *decode.AuctionReset) error {
	existing, err := a.store.GetAuction(e.AuctionID)
	if err != nil {
		return fmt.Errorf("apply AuctionReset: %w", err)
	}
	if existing == nil {
		log.Warn("AuctionReset for unknown auction %s, ignoring", e.AuctionID)
		return nil
	}
	existing.StartingPrice = e.NewStartingPrice
	existing.StartTime = time.Now().Unix()
	if err := a.store.PutAuction(*existing); err != nil {
		return fmt.Errorf("apply AuctionReset: %w", err)
	}
	a.notifier.OnAuctionReset(*existing)
	return nil
}

func (a *Applier) applyAuctionRemoved(e *decode.AuctionRemoved) error {
	a.notifier.OnAuctionRemoved(e.AuctionID)
	if err := a.store.DeleteAuction(e.AuctionID); err != nil {
		return fmt.Errorf("apply AuctionRemoved: %w", err)
	}
	return nil
}
