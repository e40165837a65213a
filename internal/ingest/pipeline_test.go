package ingest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/blackframe-labs/levkeeper/internal/apply"
	"github.com/blackframe-labs/levkeeper/internal/decode"
	"github.com/blackframe-labs/levkeeper/internal/store"
)

func sortLogsSigHash(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

func TestSortLogsOrdersByTxThenLogIndex(t *testing.T) {
	logs := []types.Log{
		{TxIndex: 2, Index: 0},
		{TxIndex: 1, Index: 5},
		{TxIndex: 1, Index: 1},
	}
	sortLogs(logs)

	require.Equal(t, uint(1), logs[0].TxIndex)
	require.Equal(t, uint(1), logs[0].Index)
	require.Equal(t, uint(1), logs[1].TxIndex)
	require.Equal(t, uint(5), logs[1].Index)
	require.Equal(t, uint(2), logs[2].TxIndex)
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	applier := apply.New(s, apply.ContractRoles{}, nil)
	decoder := decode.New()

	return &Pipeline{
		store:   s,
		decoder: decoder,
		applier: applier,
		dedup:   NewDedup(),
		cfg:     Config{},
	}, s
}

func TestProcessLogDecodesAndAppliesAndRecordsDedup(t *testing.T) {
	p, s := newTestPipeline(t)

	l := types.Log{
		Topics: []common.Hash{
			sortLogsSigHash("InterestRateChanged(uint256,uint256)"),
			common.BigToHash(big.NewInt(100)),
			common.BigToHash(big.NewInt(250)),
		},
		BlockNumber: 10,
		TxIndex:     0,
		Index:       0,
	}

	p.processLog(l, p.dedup)

	params, err := s.GetSystemParams()
	require.NoError(t, err)
	require.Equal(t, int64(250), params.AnnualInterestRate)

	id := decode.EventID{BlockNumber: 10, TxIndex: 0, LogIndex: 0}
	require.True(t, p.dedup.Seen(id))
}

func TestProcessLogSkipsAlreadySeenEvent(t *testing.T) {
	p, s := newTestPipeline(t)

	l := types.Log{
		Topics: []common.Hash{
			sortLogsSigHash("InterestRateChanged(uint256,uint256)"),
			common.BigToHash(big.NewInt(100)),
			common.BigToHash(big.NewInt(250)),
		},
		BlockNumber: 5,
	}
	id := decode.EventID{BlockNumber: 5, TxIndex: 0, LogIndex: 0}
	p.dedup.Record(id)

	p.processLog(l, p.dedup)

	// the applier must never have run: rate stays at its default, not 250.
	params, err := s.GetSystemParams()
	require.NoError(t, err)
	require.NotEqual(t, int64(250), params.AnnualInterestRate)
}

func TestProcessLogWithNilDedupStillApplies(t *testing.T) {
	p, s := newTestPipeline(t)

	l := types.Log{
		Topics: []common.Hash{
			sortLogsSigHash("InterestRateChanged(uint256,uint256)"),
			common.BigToHash(big.NewInt(1)),
			common.BigToHash(big.NewInt(777)),
		},
	}

	p.processLog(l, nil)

	params, err := s.GetSystemParams()
	require.NoError(t, err)
	require.Equal(t, int64(777), params.AnnualInterestRate)
}

func TestProcessLogUnknownSignatureIsNoop(t *testing.T) {
	p, s := newTestPipeline(t)

	before, err := s.GetSystemParams()
	require.NoError(t, err)

	l := types.Log{
		Topics: []common.Hash{sortLogsSigHash("TotallyUnknownEvent(uint256)")},
	}
	p.processLog(l, p.dedup)

	after, err := s.GetSystemParams()
	require.NoError(t, err)
	require.Equal(t, before.AnnualInterestRate, after.AnnualInterestRate)
}
