package actions

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/blackframe-labs/levkeeper/internal/chainmath"
	"github.com/blackframe-labs/levkeeper/internal/store"
	"github.com/blackframe-labs/levkeeper/pkg/contractclient"
)

// fakeContractClient is a minimal in-memory stand-in for
// contractclient.ContractClient, letting tests assert on calls/sends
// without a live RPC connection.
type fakeContractClient struct {
	mu        sync.Mutex
	callFn    func(method string, args ...interface{}) ([]interface{}, error)
	sends     []sendCall
	sendErr   error
	sendHash  common.Hash
	addr      common.Address
}

type sendCall struct {
	method string
	args   []interface{}
}

func (f *fakeContractClient) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	return f.callFn(method, args...)
}

func (f *fakeContractClient) Send(ctx context.Context, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{method: method, args: args})
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return f.sendHash, nil
}

func (f *fakeContractClient) TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error) {
	return nil, nil
}
func (f *fakeContractClient) DecodeTransaction(data []byte) (*contractclient.DecodedCall, error) {
	return nil, nil
}
func (f *fakeContractClient) ContractAddress() common.Address { return f.addr }
func (f *fakeContractClient) Abi() *abi.ABI                   { return nil }

func TestReadOraclePriceTakesAbsoluteValue(t *testing.T) {
	oracle := &fakeContractClient{
		callFn: func(method string, args ...interface{}) ([]interface{}, error) {
			return []interface{}{
				big.NewInt(1), // roundId
				big.NewInt(-12345),
				big.NewInt(0),
				big.NewInt(0),
				big.NewInt(1),
			}, nil
		},
	}
	loop := &LiquidationLoop{}
	loop.oracle = oracle

	price, err := loop.readOraclePrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12345), price.Int64())
}

func TestReadOraclePriceRejectsShortOutput(t *testing.T) {
	oracle := &fakeContractClient{
		callFn: func(method string, args ...interface{}) ([]interface{}, error) {
			return []interface{}{big.NewInt(1)}, nil
		},
	}
	loop := &LiquidationLoop{oracle: oracle}
	_, err := loop.readOraclePrice(context.Background())
	require.Error(t, err)
}

func TestRunOnceBarksPositionsBelowThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.LiquidationThreshold = big.NewInt(1e18) // WAD: 1.0
	}))

	user := "0x1111111111111111111111111111111111111111"
	require.NoError(t, s.PutPosition(user, big.NewInt(1), store.UserPosition{
		Amount:        big.NewInt(1000),
		TotalInterest: big.NewInt(0),
		Leverage:      chainmath.Conservative,
		MintPrice:     big.NewInt(1e9),
		Timestamp:     0,
	}))

	oracle := &fakeContractClient{
		callFn: func(method string, args ...interface{}) ([]interface{}, error) {
			// current price far below mint price: NAV collapses under threshold
			return []interface{}{big.NewInt(0), big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(0)}, nil
		},
	}
	liqManager := &fakeContractClient{sendHash: common.HexToHash("0xabc")}

	loop := NewLiquidationLoop(s, oracle, liqManager, nil, common.Address{}, 0, nil, nil)
	err = loop.runOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, liqManager.sends, 1)
	require.Equal(t, "bark", liqManager.sends[0].method)
}

func TestRunOnceSkipsPositionsAboveThreshold(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpdateSystemParams(func(p *store.SystemParams) {
		p.LiquidationThreshold = big.NewInt(0) // nothing can fall below zero
	}))

	user := "0x2222222222222222222222222222222222222222"
	require.NoError(t, s.PutPosition(user, big.NewInt(1), store.UserPosition{
		Amount:        big.NewInt(1000),
		TotalInterest: big.NewInt(0),
		Leverage:      chainmath.Conservative,
		MintPrice:     big.NewInt(1e9),
		Timestamp:     0,
	}))

	oracle := &fakeContractClient{
		callFn: func(method string, args ...interface{}) ([]interface{}, error) {
			return []interface{}{big.NewInt(0), big.NewInt(1e9), big.NewInt(0), big.NewInt(0), big.NewInt(0)}, nil
		},
	}
	liqManager := &fakeContractClient{}

	loop := NewLiquidationLoop(s, oracle, liqManager, nil, common.Address{}, 0, nil, nil)
	require.NoError(t, loop.runOnce(context.Background()))
	require.Empty(t, liqManager.sends)
}
