package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/logx"
)

var log = logx.New("decode")

// canonical Solidity event signature strings, keccak'd once at
// construction time into the classification table.
var signatureStrings = map[Kind]string{
	KindInterestRateChanged:   "InterestRateChanged(uint256,uint256)",
	KindPositionIncreased:     "PositionIncreased(address,uint256,uint256,uint256,uint256)",
	KindInterestCollected:     "InterestCollected(address,uint256,uint256,uint256)",
	KindMint:                  "Mint(address,uint256,uint256,uint8,uint256,uint256,uint256)",
	KindParameterChanged:      "ParameterChanged(bytes32,uint256)",
	KindLiquidationConfigInfo: "LiquidationConfigInfo(uint256,uint256,uint256,bool)",
	KindNetValueAdjusted:      "NetValueAdjusted(address,uint256,uint256,uint8,uint256,uint256,uint256)",
	KindAuctionStarted:        "AuctionStarted(uint256,uint256,uint256,address,uint256,address,uint256)",
	KindAuctionReset:          "AuctionReset(uint256,uint256,uint256,address,uint256,address,uint256)",
	KindAuctionRemoved:        "AuctionRemoved(uint256)",
}

// Decoder classifies and projects logs against the precomputed
// signature table. It holds no mutable state and is safe for
// concurrent use.
type Decoder struct {
	byTopic map[common.Hash]Kind
}

// New precomputes the keccak256 signature hashes once.
func New() *Decoder {
	byTopic := make(map[common.Hash]Kind, len(signatureStrings))
	for kind, sig := range signatureStrings {
		byTopic[crypto.Keccak256Hash([]byte(sig))] = kind
	}
	return &Decoder{byTopic: byTopic}
}

// ErrSkip marks a decode failure that must be logged and skipped, never
// halting ingestion.
type ErrSkip struct{ reason string }

func (e *ErrSkip) Error() string { return "decode: skip: " + e.reason }

func skip(format string, args ...interface{}) error {
	reason := fmt.Sprintf(format, args...)
	log.Warn("decode failure, skipping log: %s", reason)
	return &ErrSkip{reason: reason}
}

// Classify returns the event Kind for a log's topics[0], or "" if unknown.
func (d *Decoder) Classify(l types.Log) (Kind, bool) {
	if len(l.Topics) == 0 {
		return "", false
	}
	k, ok := d.byTopic[l.Topics[0]]
	return k, ok
}

// Decode classifies l and projects its fields into the matching typed
// event. A log with fewer topics or data than the event requires
// returns an *ErrSkip — the caller must log and continue, never halt.
func (d *Decoder) Decode(l types.Log) (interface{}, error) {
	kind, ok := d.Classify(l)
	if !ok {
		sig := "<no topics>"
		if len(l.Topics) > 0 {
			sig = l.Topics[0].Hex()
		}
		return nil, skip("unknown event signature %s", sig)
	}

	meta := Meta{
		ID: EventID{
			BlockNumber: l.BlockNumber,
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
		},
		ContractAddress: l.Address,
	}

	switch kind {
	case KindInterestRateChanged:
		if len(l.Topics) < 3 {
			return nil, skip("InterestRateChanged: want 3 topics, got %d", len(l.Topics))
		}
		return &InterestRateChanged{
			Meta: meta,
			Old:  topicToUint(l.Topics[1]),
			New:  topicToUint(l.Topics[2]),
		}, nil

	case KindPositionIncreased:
		if len(l.Topics) < 3 {
			return nil, skip("PositionIncreased: want 3 topics, got %d", len(l.Topics))
		}
		delta, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("PositionIncreased: delta: %v", err)
		}
		total, err := readUint(l.Data, 32)
		if err != nil {
			return nil, skip("PositionIncreased: totalAmount: %v", err)
		}
		interest, err := readUint(l.Data, 64)
		if err != nil {
			return nil, skip("PositionIncreased: totalInterest: %v", err)
		}
		return &PositionIncreased{
			Meta:          meta,
			User:          topicToAddress(l.Topics[1]),
			TokenID:       topicToUint(l.Topics[2]),
			Delta:         delta,
			TotalAmount:   total,
			TotalInterest: interest,
		}, nil

	case KindInterestCollected:
		if len(l.Topics) < 3 {
			return nil, skip("InterestCollected: want 3 topics, got %d", len(l.Topics))
		}
		deduct, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("InterestCollected: deductAmount: %v", err)
		}
		interest, err := readUint(l.Data, 32)
		if err != nil {
			return nil, skip("InterestCollected: interestAmount: %v", err)
		}
		return &InterestCollected{
			Meta:         meta,
			User:         topicToAddress(l.Topics[1]),
			TokenID:      topicToUint(l.Topics[2]),
			DeductAmount: deduct,
			Interest:     interest,
		}, nil

	case KindMint:
		if len(l.Topics) < 2 {
			return nil, skip("Mint: want 2 topics, got %d", len(l.Topics))
		}
		tokenID, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("Mint: tokenId: %v", err)
		}
		underlying, err := readUint(l.Data, 32)
		if err != nil {
			return nil, skip("Mint: underlyingAmt: %v", err)
		}
		levCode, err := readByte(l.Data, 64)
		if err != nil {
			return nil, skip("Mint: leverage: %v", err)
		}
		leverage, err := chainmath.ParseLeverageType(levCode)
		if err != nil {
			return nil, skip("Mint: %v", err)
		}
		mintPrice, err := readUint(l.Data, 65)
		if err != nil {
			return nil, skip("Mint: mintPrice: %v", err)
		}
		sAmount, err := readUint(l.Data, 97)
		if err != nil {
			return nil, skip("Mint: sAmount: %v", err)
		}
		lAmount, err := readUint(l.Data, 129)
		if err != nil {
			return nil, skip("Mint: lAmount: %v", err)
		}
		return &Mint{
			Meta:             meta,
			User:             topicToAddress(l.Topics[1]),
			TokenID:          tokenID,
			UnderlyingAmount: underlying,
			Leverage:         leverage,
			MintPrice:        mintPrice,
			SAmount:          sAmount,
			LAmount:          lAmount,
		}, nil

	case KindParameterChanged:
		if len(l.Topics) < 2 {
			return nil, skip("ParameterChanged: want 2 topics, got %d", len(l.Topics))
		}
		value, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("ParameterChanged: value: %v", err)
		}
		raw := [32]byte(l.Topics[1])
		return &ParameterChanged{
			Meta:    meta,
			RawName: raw,
			Name:    DecodeBytes32String(raw),
			Value:   value,
		}, nil

	case KindLiquidationConfigInfo:
		adj, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("LiquidationConfigInfo: adj: %v", err)
		}
		liq, err := readUint(l.Data, 32)
		if err != nil {
			return nil, skip("LiquidationConfigInfo: liq: %v", err)
		}
		penalty, err := readUint(l.Data, 64)
		if err != nil {
			return nil, skip("LiquidationConfigInfo: penalty: %v", err)
		}
		enabled, err := readBool(l.Data, 96)
		if err != nil {
			return nil, skip("LiquidationConfigInfo: enabled: %v", err)
		}
		return &LiquidationConfigInfo{
			Meta:                meta,
			AdjustmentThreshold: adj,
			LiquidationThreshold: liq,
			Penalty:             penalty,
			Enabled:             enabled,
		}, nil

	case KindNetValueAdjusted:
		if len(l.Topics) < 4 {
			return nil, skip("NetValueAdjusted: want 4 topics, got %d", len(l.Topics))
		}
		levCode, err := readByte(l.Data, 0)
		if err != nil {
			return nil, skip("NetValueAdjusted: leverage: %v", err)
		}
		leverage, err := chainmath.ParseLeverageType(levCode)
		if err != nil {
			return nil, skip("NetValueAdjusted: %v", err)
		}
		newMintPrice, err := readUint(l.Data, 1)
		if err != nil {
			return nil, skip("NetValueAdjusted: newMintPrice: %v", err)
		}
		adjustAmount, err := readUint(l.Data, 33)
		if err != nil {
			return nil, skip("NetValueAdjusted: adjustAmount: %v", err)
		}
		underlyingAmount, err := readUint(l.Data, 65)
		if err != nil {
			return nil, skip("NetValueAdjusted: underlyingAmount: %v", err)
		}
		return &NetValueAdjusted{
			Meta:             meta,
			User:             topicToAddress(l.Topics[1]),
			FromTokenID:      topicToUint(l.Topics[2]),
			ToTokenID:        topicToUint(l.Topics[3]),
			Leverage:         leverage,
			NewMintPrice:     newMintPrice,
			AdjustAmount:     adjustAmount,
			UnderlyingAmount: underlyingAmount,
		}, nil

	case KindAuctionStarted:
		if len(l.Topics) < 4 {
			return nil, skip("AuctionStarted: want 4 topics, got %d", len(l.Topics))
		}
		startingPrice, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("AuctionStarted: startingPrice: %v", err)
		}
		underlying, err := readUint(l.Data, 32)
		if err != nil {
			return nil, skip("AuctionStarted: underlyingAmt: %v", err)
		}
		owner, err := readAddressData(l.Data, 76)
		if err != nil {
			return nil, skip("AuctionStarted: originalOwner: %v", err)
		}
		reward, err := readUint(l.Data, 96)
		if err != nil {
			return nil, skip("AuctionStarted: rewardAmount: %v", err)
		}
		return &AuctionStarted{
			Meta:             meta,
			AuctionID:        topicToUint(l.Topics[1]),
			TokenID:          topicToUint(l.Topics[2]),
			Triggerer:        topicToAddress(l.Topics[3]),
			StartingPrice:    startingPrice,
			UnderlyingAmount: underlying,
			OriginalOwner:    owner,
			RewardAmount:     reward,
		}, nil

	case KindAuctionReset:
		// shares AuctionStarted's full parameter layout (auctionId,
		// tokenId and triggerer indexed), so a genuine log always
		// carries 4 topics even though only auctionId is projected here.
		if len(l.Topics) < 4 {
			return nil, skip("AuctionReset: want 4 topics, got %d", len(l.Topics))
		}
		newStarting, err := readUint(l.Data, 0)
		if err != nil {
			return nil, skip("AuctionReset: newStartingPrice: %v", err)
		}
		return &AuctionReset{
			Meta:             meta,
			AuctionID:        topicToUint(l.Topics[1]),
			NewStartingPrice: newStarting,
		}, nil

	case KindAuctionRemoved:
		if len(l.Topics) < 2 {
			return nil, skip("AuctionRemoved: want 2 topics, got %d", len(l.Topics))
		}
		return &AuctionRemoved{
			Meta:      meta,
			AuctionID: topicToUint(l.Topics[1]),
		}, nil
	}

	return nil, skip("unhandled kind %s", kind)
}

func topicToUint(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}

// topicToAddress extracts the low 20 bytes of a 32-byte indexed topic.
func topicToAddress(h common.Hash) common.Address {
	return common.BytesToAddress(h.Bytes())
}

func readUint(data []byte, offset int) (*big.Int, error) {
	if offset < 0 || offset+32 > len(data) {
		return nil, fmt.Errorf("want 32 bytes at offset %d, have %d total", offset, len(data))
	}
	return new(big.Int).SetBytes(data[offset : offset+32]), nil
}

func readByte(data []byte, offset int) (uint8, error) {
	if offset < 0 || offset >= len(data) {
		return 0, fmt.Errorf("want 1 byte at offset %d, have %d total", offset, len(data))
	}
	return data[offset], nil
}

func readBool(data []byte, offset int) (bool, error) {
	b, err := readUint(data, offset)
	if err != nil {
		return false, err
	}
	return b.Sign() != 0, nil
}

// readAddressData extracts a right-aligned address from a 32-byte data
// word. offset is the byte offset of the address's first byte, so the
// word itself occupies [offset-12, offset+20).
func readAddressData(data []byte, offset int) (common.Address, error) {
	if offset < 0 || offset+20 > len(data) {
		return common.Address{}, fmt.Errorf("want 20 bytes at offset %d, have %d total", offset, len(data))
	}
	return common.BytesToAddress(data[offset : offset+20]), nil
}

// DecodeBytes32String truncates a zero-padded bytes32 parameter name at
// the first NUL or space byte and interprets the prefix as UTF-8.
func DecodeBytes32String(raw [32]byte) string {
	end := len(raw)
	for i, b := range raw {
		if b == 0 || b == ' ' {
			end = i
			break
		}
	}
	return string(raw[:end])
}
