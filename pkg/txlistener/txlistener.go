// Package txlistener waits for transaction receipts, polling
// eth_getTransactionReceipt until the receipt appears or a configured
// timeout elapses.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt is the subset of a transaction receipt the keeper's action
// loops need to judge success and report gas cost.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64 // 1 success, 0 reverted
}

// TxListener polls for a transaction's receipt until it appears or the
// configured timeout elapses.
type TxListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

type Option func(*TxListener)

func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// New builds a TxListener with defaults (2s poll, 5m timeout) overridable
// via Option.
func New(client *ethclient.Client, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: 2 * time.Second,
		timeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls eth_getTransactionReceipt until the receipt
// is mined or the listener's timeout elapses.
func (l *TxListener) WaitForTransaction(txHash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Status:      receipt.Status,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("txlistener: receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("txlistener: timed out waiting for %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}
