// Package contractclient generalizes the call/send pattern against a
// single ABI-bound contract into a client usable against any of the
// keeper's four monitored contracts plus the price oracle.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractClient is the surface the keeper's reactive actions (bark,
// resetAuction) and oracle reads go through.
type ContractClient interface {
	Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(ctx context.Context, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedCall, error)
	ContractAddress() common.Address
	Abi() *abi.ABI
}

// DecodedCall is the result of matching raw calldata against the bound
// ABI's method set.
type DecodedCall struct {
	MethodName string                 `json:"methodName"`
	Inputs     map[string]interface{} `json:"inputs"`
}

type client struct {
	eth     *ethclient.Client
	address common.Address
	abi     *abi.ABI
}

// New binds an ethclient connection to one contract address and ABI.
func New(eth *ethclient.Client, address common.Address, contractABI *abi.ABI) ContractClient {
	return &client{eth: eth, address: address, abi: contractABI}
}

func (c *client) ContractAddress() common.Address { return c.address }
func (c *client) Abi() *abi.ABI                    { return c.abi }

// Call performs a read-only eth_call against method, decoding the
// returned values against the ABI's output types.
func (c *client) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if from != nil {
		msg.From = *from
	}

	raw, err := c.eth.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	outputs, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return outputs, nil
}

// Send signs and submits a state-changing transaction calling method,
// using pk to derive the sender and sign the transaction, and an
// automatically estimated gas limit.
func (c *client) Send(ctx context.Context, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	from := crypto.PubkeyToAddress(pk.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.address,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: estimate gas %s: %w", method, err)
	}

	chainID, err := c.eth.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: chain id: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.NewEIP155Signer(chainID)
	signedTx, err := types.SignTx(tx, signer, pk)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: send %s: %w", method, err)
	}
	return signedTx.Hash(), nil
}

// TransactionData fetches the calldata of a previously submitted transaction.
func (c *client) TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", txHash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodeTransaction matches calldata's 4-byte selector against the
// bound ABI's method set and unpacks its arguments by name.
func (c *client) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("contractclient: calldata too short (%d bytes)", len(data))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("contractclient: unknown selector %x: %w", data[:4], err)
	}
	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("contractclient: unpack args for %s: %w", method.Name, err)
	}
	return &DecodedCall{MethodName: method.Name, Inputs: args}, nil
}

// MarshalIndent is a convenience for callers/tests logging a DecodedCall.
func (d *DecodedCall) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
