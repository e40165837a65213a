package contractclient

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const liquidationManagerABIJSON = `[
	{"type":"function","name":"bark","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"kpr","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"resetAuction","stateMutability":"nonpayable",
	 "inputs":[{"name":"auctionId","type":"uint256"},{"name":"triggerer","type":"address"}],
	 "outputs":[]}
]`

func mustParseABI(t *testing.T, raw string) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return &parsed
}

// TestDecodeTransaction packs a bark() call through the bound ABI and
// checks that DecodeTransaction recovers the method name and arguments
// from raw calldata alone — no live RPC endpoint involved.
func TestDecodeTransaction(t *testing.T) {
	contractABI := mustParseABI(t, liquidationManagerABIJSON)
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	keeper := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenID := big.NewInt(42)

	packed, err := contractABI.Pack("bark", user, tokenID, keeper)
	require.NoError(t, err)

	c := &client{abi: contractABI, address: common.HexToAddress("0x3333333333333333333333333333333333333333")}

	decoded, err := c.DecodeTransaction(packed)
	require.NoError(t, err)
	require.Equal(t, "bark", decoded.MethodName)
	require.Equal(t, user, decoded.Inputs["user"])
	require.Equal(t, keeper, decoded.Inputs["kpr"])
	require.Equal(t, 0, tokenID.Cmp(decoded.Inputs["tokenId"].(*big.Int)))
}

func TestDecodeTransactionShortCalldata(t *testing.T) {
	c := &client{abi: mustParseABI(t, liquidationManagerABIJSON)}
	_, err := c.DecodeTransaction([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDecodeTransactionUnknownSelector(t *testing.T) {
	c := &client{abi: mustParseABI(t, liquidationManagerABIJSON)}
	_, err := c.DecodeTransaction([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	require.Error(t, err)
}
