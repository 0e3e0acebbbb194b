/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chaintest provides an in-memory chain backend executing the registry contracts.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/trustbloc/vc-anchor/pkg/chain"
)

const (
	// EstimatedGas returned by EstimateGas for every successful call.
	EstimatedGas = 100000
)

// nolint:gochecknoglobals
var (
	// DIDRegistryAddress address the DID registry is served at.
	DIDRegistryAddress = common.HexToAddress("0x00000000000000000000000000000000000D1D00")
	// SBTRegistryAddress address the token contract is served at.
	SBTRegistryAddress = common.HexToAddress("0x00000000000000000000000000000000005B7000")
	// ChainID of the simulated network.
	ChainID = big.NewInt(1337)
)

type didEntry struct {
	did          string
	metadataURI  string
	wallets      []string
	chains       []string
	registeredAt int64
	owner        common.Address
}

type heldTx struct {
	from   common.Address
	tx     *types.Transaction
	failed bool
}

type token struct {
	owner  common.Address
	did    string
	uri    string
	hashes [][32]byte
}

// Backend is a chain.Backend executing the DID registry and soulbound token contracts in memory.
type Backend struct {
	mu sync.Mutex

	didABI *abi.ABI
	sbtABI *abi.ABI

	dids     map[string]*didEntry
	verified map[string]bool
	tokens   map[string]*token
	holders  map[common.Address]*big.Int
	supply   int64

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	held     []heldTx
	block    int64

	// Sent holds every submitted transaction.
	Sent []*types.Transaction
	// HoldReceipts leaves submitted transactions unmined until Mine is called.
	HoldReceipts bool
	// FailNextTx mines the next transaction with a failed status and no state change.
	FailNextTx bool
	// FailCalls makes every view call fail.
	FailCalls bool
	// OmitMintEvents drops SBTMinted logs from receipts.
	OmitMintEvents bool
	// Transferable lets transferFrom succeed.
	Transferable bool
	// RejectChains makes the DID registry skip proofs of these chains.
	RejectChains map[string]bool
	// Now returns the block timestamp.
	Now func() time.Time
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		didABI:       chain.DIDRegistryContractABI(),
		sbtABI:       chain.SBTRegistryContractABI(),
		dids:         make(map[string]*didEntry),
		verified:     make(map[string]bool),
		tokens:       make(map[string]*token),
		holders:      make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		receipts:     make(map[common.Hash]*types.Receipt),
		RejectChains: make(map[string]bool),
		Now:          time.Now,
	}
}

// Mine executes held transactions and publishes their receipts.
func (b *Backend) Mine() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range b.held {
		b.mineTx(h.from, h.tx, h.failed)
	}

	b.held = nil
}

// SentCount returns the number of submitted transactions.
func (b *Backend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.Sent)
}

// CallContract executes a view call.
func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailCalls {
		return nil, errors.New("connection refused")
	}

	out, _, err := b.exec(call.From, call.To, call.Data, false)

	return out, err
}

// CodeAt reports code at the registry addresses.
func (b *Backend) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	if contract == DIDRegistryAddress || contract == SBTRegistryAddress {
		return []byte{0x60}, nil
	}

	return nil, nil
}

// EstimateGas simulates the call and fails when it reverts.
func (b *Backend) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, _, err := b.exec(call.From, call.To, call.Data, false); err != nil {
		return 0, err
	}

	return EstimatedGas, nil
}

// PendingNonceAt returns the next nonce of account.
func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.nonces[account], nil
}

// SuggestGasPrice returns one gwei.
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

// ChainID returns the simulated chain id.
func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(ChainID), nil
}

// SendTransaction executes a signed transaction and records its receipt.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender : %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if tx.Nonce() != b.nonces[from] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), b.nonces[from])
	}

	b.nonces[from]++
	b.Sent = append(b.Sent, tx)

	failed := b.FailNextTx
	b.FailNextTx = false

	if b.HoldReceipts {
		b.held = append(b.held, heldTx{from: from, tx: tx, failed: failed})

		return nil
	}

	b.mineTx(from, tx, failed)

	return nil
}

func (b *Backend) mineTx(from common.Address, tx *types.Transaction, failed bool) {
	b.block++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            tx.Hash(),
		GasUsed:           EstimatedGas,
		CumulativeGasUsed: EstimatedGas,
		BlockNumber:       big.NewInt(b.block),
	}

	if failed {
		receipt.Status = types.ReceiptStatusFailed
	} else if _, logs, err := b.exec(from, tx.To(), tx.Data(), true); err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		for i, l := range logs {
			l.TxHash = tx.Hash()
			l.BlockNumber = uint64(b.block)
			l.Index = uint(i)
		}

		receipt.Logs = logs
	}

	b.receipts[tx.Hash()] = receipt
}

// TransactionReceipt returns a mined receipt or ethereum.NotFound.
func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}

	return r, nil
}

func revert(reason string) error {
	return errors.New("execution reverted: " + reason)
}

func (b *Backend) exec(from common.Address, to *common.Address, data []byte, commit bool) ([]byte, []*types.Log,
	error) {
	if to == nil || len(data) < 4 {
		return nil, nil, revert("invalid call")
	}

	var contractABI *abi.ABI

	switch *to {
	case DIDRegistryAddress:
		contractABI = b.didABI
	case SBTRegistryAddress:
		contractABI = b.sbtABI
	default:
		return nil, nil, nil
	}

	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("unknown selector")
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, revert("malformed calldata")
	}

	var (
		out  []interface{}
		logs []*types.Log
	)

	if *to == DIDRegistryAddress {
		out, logs, err = b.execDIDRegistry(from, method.Name, args, commit)
	} else {
		out, logs, err = b.execSBTRegistry(method.Name, args, commit)
	}

	if err != nil {
		return nil, nil, err
	}

	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s outputs : %w", method.Name, err)
	}

	return packed, logs, nil
}

// nolint:funlen,gocyclo,forcetypeassert
func (b *Backend) execDIDRegistry(from common.Address, method string, args []interface{},
	commit bool) ([]interface{}, []*types.Log, error) {
	switch method {
	case "getDIDRecord":
		e, ok := b.dids[args[0].(string)]
		if !ok {
			return []interface{}{"", "", []string{}, []string{}, big.NewInt(0), false, common.Address{}}, nil, nil
		}

		return []interface{}{
			e.did, e.metadataURI, e.wallets, e.chains, big.NewInt(e.registeredAt), true, e.owner,
		}, nil, nil
	case "didToOwner":
		if e, ok := b.dids[args[0].(string)]; ok {
			return []interface{}{e.owner}, nil, nil
		}

		return []interface{}{common.Address{}}, nil, nil
	case "isWalletVerifiedForDID":
		return []interface{}{b.verified[verifiedKey(args[0].(string), args[1].(string), args[2].(string))]}, nil, nil
	case "registerDID":
		did, uri := args[0].(string), args[1].(string)
		chains, wallets := args[2].([]string), args[3].([]string)
		messages, sigs := args[4].([]string), args[5].([][]byte)

		if _, ok := b.dids[did]; ok {
			return nil, nil, revert("DID already registered")
		}

		if len(chains) == 0 || len(chains) != len(wallets) || len(chains) != len(messages) ||
			len(chains) != len(sigs) {
			return nil, nil, revert("proof arrays length mismatch")
		}

		entry := &didEntry{did: did, metadataURI: uri, registeredAt: b.Now().Unix(), owner: from}

		var logs []*types.Log

		proofEvent := b.didABI.Events["WalletProofVerified"]

		for i := range chains {
			if b.RejectChains[chains[i]] || len(sigs[i]) == 0 || !strings.HasSuffix(messages[i], did) {
				continue
			}

			entry.chains = append(entry.chains, chains[i])
			entry.wallets = append(entry.wallets, wallets[i])

			if commit {
				b.verified[verifiedKey(did, chains[i], wallets[i])] = true
			}

			logs = append(logs, b.eventLog(DIDRegistryAddress, proofEvent, nil, did, chains[i], wallets[i]))
		}

		if len(entry.chains) == 0 {
			return nil, nil, revert("no valid wallet proofs")
		}

		registered := b.didABI.Events["DIDRegistered"]
		logs = append(logs, b.eventLog(DIDRegistryAddress, registered,
			[]common.Hash{common.BytesToHash(from.Bytes())}, did, uri))

		if commit {
			b.dids[did] = entry
		}

		return nil, logs, nil
	default:
		return nil, nil, revert("unsupported method " + method)
	}
}

// nolint:funlen,gocyclo,forcetypeassert
func (b *Backend) execSBTRegistry(method string, args []interface{}, commit bool) ([]interface{}, []*types.Log,
	error) {
	tokenArg := func() (*token, error) {
		t, ok := b.tokens[args[0].(*big.Int).String()]
		if !ok {
			return nil, revert("SBT: nonexistent token")
		}

		return t, nil
	}

	switch method {
	case "holderToken":
		if id, ok := b.holders[args[0].(common.Address)]; ok {
			return []interface{}{new(big.Int).Set(id)}, nil, nil
		}

		return []interface{}{big.NewInt(0)}, nil, nil
	case "totalSupply":
		return []interface{}{big.NewInt(b.supply)}, nil, nil
	case "ownerOf", "tokenURI", "tokenDID", "getLatestVC", "getAllVCHashes":
		t, err := tokenArg()
		if err != nil {
			return nil, nil, err
		}

		switch method {
		case "ownerOf":
			return []interface{}{t.owner}, nil, nil
		case "tokenURI":
			return []interface{}{t.uri}, nil, nil
		case "tokenDID":
			return []interface{}{t.did}, nil, nil
		case "getLatestVC":
			return []interface{}{t.hashes[len(t.hashes)-1]}, nil, nil
		default:
			return []interface{}{append([][32]byte(nil), t.hashes...)}, nil, nil
		}
	case "mintSBT":
		owner, did, uri, hash := args[0].(common.Address), args[1].(string), args[2].(string), args[3].([32]byte)

		if _, ok := b.holders[owner]; ok {
			return nil, nil, revert("SBT: owner already holds a token")
		}

		id := big.NewInt(b.supply + 1)

		var logs []*types.Log

		if !b.OmitMintEvents {
			logs = append(logs, b.eventLog(SBTRegistryAddress, b.sbtABI.Events["SBTMinted"],
				[]common.Hash{common.BytesToHash(owner.Bytes()), common.BigToHash(id)}, did))
		}

		logs = append(logs, b.eventLog(SBTRegistryAddress, b.sbtABI.Events["VCRegistered"],
			[]common.Hash{common.BigToHash(id)}, hash))

		if commit {
			b.supply++
			b.holders[owner] = id
			b.tokens[id.String()] = &token{owner: owner, did: did, uri: uri, hashes: [][32]byte{hash}}
		}

		return []interface{}{id}, logs, nil
	case "registerVC":
		t, err := tokenArg()
		if err != nil {
			return nil, nil, err
		}

		id, hash := args[0].(*big.Int), args[1].([32]byte)

		if commit {
			t.hashes = append(t.hashes, hash)
		}

		return nil, []*types.Log{b.eventLog(SBTRegistryAddress, b.sbtABI.Events["VCRegistered"],
			[]common.Hash{common.BigToHash(id)}, hash)}, nil
	case "transferFrom":
		from, to, id := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)

		t, ok := b.tokens[id.String()]
		if !ok || t.owner != from {
			return nil, nil, revert("SBT: caller is not token owner")
		}

		if !b.Transferable {
			return nil, nil, revert("SBT: token is soulbound")
		}

		if commit {
			t.owner = to
			delete(b.holders, from)
			b.holders[to] = id
		}

		return nil, nil, nil
	default:
		return nil, nil, revert("unsupported method " + method)
	}
}

func (b *Backend) eventLog(address common.Address, event abi.Event, indexed []common.Hash,
	data ...interface{}) *types.Log {
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("pack %s event : %s", event.Name, err))
	}

	return &types.Log{
		Address:     address,
		Topics:      append([]common.Hash{event.ID}, indexed...),
		Data:        packed,
		BlockNumber: uint64(b.block),
	}
}

func verifiedKey(did, chainSymbol, wallet string) string {
	return did + "|" + chainSymbol + "|" + wallet
}
