/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
)

var logger = log.New("vc-anchor/chain")

const (
	// DefaultGasBufferPercent added on top of the estimated gas limit.
	DefaultGasBufferPercent = 30
	// DefaultConfirmationTimeout bounds the wait for a receipt.
	DefaultConfirmationTimeout = 120 * time.Second

	explorerTxPath = "/tx/"
)

// TransactorOption configures a Transactor.
type TransactorOption func(*Transactor)

// WithGasBuffer sets the gas limit buffer percentage.
func WithGasBuffer(percent uint64) TransactorOption {
	return func(t *Transactor) {
		t.gasBufferPercent = percent
	}
}

// WithExplorer sets the block explorer base URL used in transaction references.
func WithExplorer(baseURL string) TransactorOption {
	return func(t *Transactor) {
		t.explorerURL = strings.TrimRight(baseURL, "/")
	}
}

// WithChainID skips querying the node for its chain id.
func WithChainID(id *big.Int) TransactorOption {
	return func(t *Transactor) {
		t.chainID = id
	}
}

// Transactor signs and submits contract transactions from the issuer account.
type Transactor struct {
	backend          Backend
	opts             *bind.TransactOpts
	chainID          *big.Int
	gasBufferPercent uint64
	explorerURL      string

	// serializes nonce assignment
	mu sync.Mutex
}

// ParsePrivateKey parses a hex encoded secp256k1 key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid issuer private key : %w", err)
	}

	return key, nil
}

// NewTransactor returns a transactor for key on the backend's network.
func NewTransactor(ctx context.Context, backend Backend, key *ecdsa.PrivateKey,
	opts ...TransactorOption) (*Transactor, error) {
	if key == nil {
		return nil, anchorerr.Missing("issuer private key")
	}

	t := &Transactor{
		backend:          backend,
		gasBufferPercent: DefaultGasBufferPercent,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, anchorerr.Remote("chain", 0, fmt.Errorf("chain id : %w", err))
		}

		t.chainID = id
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(key, t.chainID)
	if err != nil {
		return nil, err
	}

	t.opts = txOpts

	return t, nil
}

// From returns the issuer account address.
func (t *Transactor) From() common.Address {
	return t.opts.From
}

// ExplorerTxURL returns the explorer reference of a transaction.
func (t *Transactor) ExplorerTxURL(txHash string) string {
	if t.explorerURL == "" {
		return ""
	}

	return t.explorerURL + explorerTxPath + txHash
}

// Call executes a read-only contract method and returns its unpacked outputs.
func (t *Transactor) Call(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string,
	args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s : %w", method, err)
	}

	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{From: t.From(), To: &contract, Data: data}, nil)
	if err != nil {
		return nil, anchorerr.Remote("chain", 0, fmt.Errorf("call %s : %w", method, err))
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s : %w", method, err)
	}

	return values, nil
}

// Estimate returns the gas estimate of a method executed by from. A revert surfaces as an error.
func (t *Transactor) Estimate(ctx context.Context, from, contract common.Address, contractABI *abi.ABI,
	method string, args ...interface{}) (uint64, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("pack %s : %w", method, err)
	}

	return t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data})
}

// Send estimates, buffers, signs and submits a contract transaction.
func (t *Transactor) Send(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string,
	args ...interface{}) (*types.Transaction, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s : %w", method, err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.From(), To: &contract, Data: data})
	if err != nil {
		return nil, anchorerr.Reverted("", "", fmt.Errorf("%s rejected during gas estimation : %w", method, err))
	}

	gas += gas * t.gasBufferPercent / 100

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.From())
	if err != nil {
		return nil, anchorerr.Remote("chain", 0, fmt.Errorf("pending nonce : %w", err))
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, anchorerr.Remote("chain", 0, fmt.Errorf("gas price : %w", err))
	}

	tx, err := t.opts.Signer(t.From(), types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}))
	if err != nil {
		return nil, fmt.Errorf("sign %s transaction : %w", method, err)
	}

	if err := t.backend.SendTransaction(ctx, tx); err != nil {
		return nil, anchorerr.Remote("chain", 0, fmt.Errorf("send %s transaction : %w", method, err))
	}

	logger.Infof("submitted %s transaction %s (gas limit %d)", method, tx.Hash().Hex(), gas)

	return tx, nil
}

// Wait blocks until the transaction is mined or the timeout elapses.
// A mined but failed transaction is returned together with a TransactionReverted error.
func (t *Transactor) Wait(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt,
	error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := tx.Hash().Hex()

	receipt, err := bind.WaitMined(waitCtx, t.backend, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, anchorerr.ConfirmationTimeout(hash, t.ExplorerTxURL(hash))
		}

		return nil, anchorerr.Remote("chain", 0, fmt.Errorf("wait for %s : %w", hash, err))
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, anchorerr.Reverted(hash, t.ExplorerTxURL(hash), fmt.Errorf("transaction failed in block %s",
			receipt.BlockNumber))
	}

	return receipt, nil
}

// Receipt looks up a receipt; ok is false while the transaction is still pending.
func (t *Transactor) Receipt(ctx context.Context, txHash string) (*types.Receipt, bool, error) {
	receipt, err := t.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, anchorerr.Remote("chain", 0, fmt.Errorf("receipt %s : %w", txHash, err))
	}

	return receipt, true, nil
}
