// Package navcalc exposes NAV computation as a standalone, independently
// testable calculator consumed by the liquidation loop.
package navcalc

import (
	"math/big"
	"time"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/logx"
	"github.com/blackframe-labs/levkeeper/internal/store"
)

var log = logx.New("navcalc")

// Result pairs one position's identity with its computed NAV figures.
type Result struct {
	Addr     string
	TokenID  *big.Int
	Position store.UserPosition
	NAV      *chainmath.NetNAV
}

// ComputeAll runs the per-position NAV computation over every mirrored
// position, skipping positions with a zero mint price (never minted, or
// mid-mint). now is injected rather than read via time.Now so callers
// can make the computation deterministic in tests.
func ComputeAll(positions []store.PositionRef, currentPrice *big.Int, rateBps int64, now time.Time) []Result {
	out := make([]Result, 0, len(positions))
	for _, ref := range positions {
		if ref.Position.MintPrice == nil || ref.Position.MintPrice.Sign() == 0 {
			continue
		}
		elapsed := now.Unix() - ref.Position.Timestamp
		if elapsed < 0 {
			elapsed = 0
		}
		nav, err := chainmath.ComputeNetNAV(
			ref.Position.Leverage,
			ref.Position.Amount,
			ref.Position.MintPrice,
			currentPrice,
			ref.Position.TotalInterest,
			rateBps,
			elapsed,
		)
		if err != nil {
			log.Warn("skipping NAV computation for %s/%s: %v", ref.Addr, ref.TokenID, err)
			continue
		}
		out = append(out, Result{
			Addr:     ref.Addr,
			TokenID:  ref.TokenID,
			Position: ref.Position,
			NAV:      nav,
		})
	}
	return out
}
