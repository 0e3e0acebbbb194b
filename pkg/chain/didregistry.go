/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WalletProofEvent is a proof accepted by the DID registry.
type WalletProofEvent struct {
	DID    string `json:"did"`
	Chain  string `json:"chain"`
	Wallet string `json:"wallet"`
}

// ProofArgs are the parallel proof arrays of a registration.
type ProofArgs struct {
	Chains     []string
	Wallets    []string
	Messages   []string
	Signatures [][]byte
}

// DIDRegistry binds the DID registry contract.
type DIDRegistry struct {
	t       *Transactor
	address common.Address
}

// NewDIDRegistry returns a binding for the registry at address.
func NewDIDRegistry(t *Transactor, address common.Address) *DIDRegistry {
	return &DIDRegistry{t: t, address: address}
}

// Address of the contract.
func (r *DIDRegistry) Address() common.Address {
	return r.address
}

// Transactor used by the binding.
func (r *DIDRegistry) Transactor() *Transactor {
	return r.t
}

// GetDIDRecord returns the registry entry of did; unregistered DIDs yield an inactive record.
func (r *DIDRegistry) GetDIDRecord(ctx context.Context, did string) (*DIDRecord, error) {
	out, err := r.t.Call(ctx, r.address, &didRegistryABI, "getDIDRecord", did)
	if err != nil {
		return nil, err
	}

	registeredAt := out[4].(*big.Int) // nolint:errcheck,forcetypeassert

	rec := &DIDRecord{
		DID:         out[0].(string),   // nolint:forcetypeassert
		MetadataURI: out[1].(string),   // nolint:forcetypeassert
		Wallets:     out[2].([]string), // nolint:forcetypeassert
		Chains:      out[3].([]string), // nolint:forcetypeassert
		Active:      out[5].(bool),     // nolint:forcetypeassert
		Owner:       out[6].(common.Address).Hex(),
	}

	if registeredAt.Sign() > 0 {
		rec.RegisteredAt = time.Unix(registeredAt.Int64(), 0).UTC()
	}

	return rec, nil
}

// DIDToOwner returns the account that registered did.
func (r *DIDRegistry) DIDToOwner(ctx context.Context, did string) (common.Address, error) {
	out, err := r.t.Call(ctx, r.address, &didRegistryABI, "didToOwner", did)
	if err != nil {
		return common.Address{}, err
	}

	return out[0].(common.Address), nil // nolint:forcetypeassert
}

// IsWalletVerified reports whether the registry accepted a proof for the wallet.
func (r *DIDRegistry) IsWalletVerified(ctx context.Context, did, chainSymbol, wallet string) (bool, error) {
	out, err := r.t.Call(ctx, r.address, &didRegistryABI, "isWalletVerifiedForDID", did, chainSymbol, wallet)
	if err != nil {
		return false, err
	}

	return out[0].(bool), nil // nolint:forcetypeassert
}

// RegisterDID submits the registration with every proof in a single transaction.
func (r *DIDRegistry) RegisterDID(ctx context.Context, did, metadataURI string, proofs *ProofArgs) (*types.Transaction,
	error) {
	n := len(proofs.Chains)
	if len(proofs.Wallets) != n || len(proofs.Messages) != n || len(proofs.Signatures) != n {
		return nil, fmt.Errorf("proof arrays have mismatched lengths")
	}

	return r.t.Send(ctx, r.address, &didRegistryABI, "registerDID", did, metadataURI,
		proofs.Chains, proofs.Wallets, proofs.Messages, proofs.Signatures)
}

// ParseWalletProofVerified extracts accepted proofs from a registration receipt.
func (r *DIDRegistry) ParseWalletProofVerified(receipt *types.Receipt) ([]WalletProofEvent, error) {
	event := didRegistryABI.Events["WalletProofVerified"]

	var events []WalletProofEvent

	for _, l := range receipt.Logs {
		if l.Address != r.address || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}

		values, err := event.Inputs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack WalletProofVerified : %w", err)
		}

		events = append(events, WalletProofEvent{
			DID:    values[0].(string), // nolint:forcetypeassert
			Chain:  values[1].(string), // nolint:forcetypeassert
			Wallet: values[2].(string), // nolint:forcetypeassert
		})
	}

	return events, nil
}
