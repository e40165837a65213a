// Package decode implements the Log Decoder: a pure function from a
// raw chain log to a typed event record, classified by topics[0] alone
// and projected field-by-field per the protocol's ABI layouts. The
// emitting contract's address is not consulted during classification;
// it is carried in Meta for the Event Applier to dispatch on.
package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
)

// Kind names the decoded event's type; stable across contracts (the
// same Kind — e.g. ParameterChanged — can be emitted by more than one
// contract address, and the Event Applier dispatches on ContractAddress
// to pick the right parameter whitelist).
type Kind string

const (
	KindInterestRateChanged   Kind = "InterestRateChanged"
	KindPositionIncreased     Kind = "PositionIncreased"
	KindInterestCollected     Kind = "InterestCollected"
	KindMint                  Kind = "Mint"
	KindParameterChanged      Kind = "ParameterChanged"
	KindLiquidationConfigInfo Kind = "LiquidationConfigInfo"
	KindNetValueAdjusted      Kind = "NetValueAdjusted"
	KindAuctionStarted        Kind = "AuctionStarted"
	KindAuctionReset          Kind = "AuctionReset"
	KindAuctionRemoved        Kind = "AuctionRemoved"
)

// EventID is the de-duplication and ordering key: (block, tx index,
// log index) uniquely identifies one log across the chain's history.
type EventID struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
}

// Meta is embedded in every decoded event: its identity, origin and
// the EventID used by C4's de-duplication cache.
type Meta struct {
	ID              EventID
	ContractAddress common.Address
}

type InterestRateChanged struct {
	Meta
	Old, New *big.Int
}

type PositionIncreased struct {
	Meta
	User                         common.Address
	TokenID                      *big.Int
	Delta, TotalAmount, TotalInterest *big.Int
}

type InterestCollected struct {
	Meta
	User                common.Address
	TokenID             *big.Int
	DeductAmount, Interest *big.Int
}

type Mint struct {
	Meta
	User             common.Address
	TokenID          *big.Int
	UnderlyingAmount *big.Int
	Leverage         chainmath.LeverageType
	MintPrice        *big.Int
	SAmount          *big.Int
	LAmount          *big.Int
}

type ParameterChanged struct {
	Meta
	RawName [32]byte
	Name    string // decoded, truncated at first NUL/space
	Value   *big.Int
}

type LiquidationConfigInfo struct {
	Meta
	AdjustmentThreshold, LiquidationThreshold, Penalty *big.Int
	Enabled                                             bool
}

// NetValueAdjusted moves a position from one tokenId (FromTokenID) to
// another (ToTokenID) under the same user — both indexed as uint256,
// not addresses, despite the visual symmetry with User in the topic list.
type NetValueAdjusted struct {
	Meta
	User                     common.Address
	FromTokenID, ToTokenID   *big.Int
	Leverage                 chainmath.LeverageType
	NewMintPrice             *big.Int
	AdjustAmount             *big.Int
	UnderlyingAmount         *big.Int
}

type AuctionStarted struct {
	Meta
	AuctionID        *big.Int
	TokenID          *big.Int
	Triggerer        common.Address
	StartingPrice    *big.Int
	UnderlyingAmount *big.Int
	OriginalOwner    common.Address
	RewardAmount     *big.Int
}

type AuctionReset struct {
	Meta
	AuctionID        *big.Int
	NewStartingPrice *big.Int
}

type AuctionRemoved struct {
	Meta
	AuctionID *big.Int
}
