/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/trustbloc/vc-anchor/pkg/canonical"
)

// SBTRegistry binds the soulbound token contract.
type SBTRegistry struct {
	t       *Transactor
	address common.Address
}

// NewSBTRegistry returns a binding for the token contract at address.
func NewSBTRegistry(t *Transactor, address common.Address) *SBTRegistry {
	return &SBTRegistry{t: t, address: address}
}

// Address of the contract.
func (r *SBTRegistry) Address() common.Address {
	return r.address
}

// Transactor used by the binding.
func (r *SBTRegistry) Transactor() *Transactor {
	return r.t
}

// HolderToken returns the token bound to owner, zero when none.
func (r *SBTRegistry) HolderToken(ctx context.Context, owner common.Address) (*big.Int, error) {
	return r.callUint(ctx, "holderToken", owner)
}

// TotalSupply returns the number of minted tokens.
func (r *SBTRegistry) TotalSupply(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "totalSupply")
}

// OwnerOf returns the holder of a token.
func (r *SBTRegistry) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := r.t.Call(ctx, r.address, &sbtRegistryABI, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}

	return out[0].(common.Address), nil // nolint:forcetypeassert
}

// TokenURI returns the metadata URI of a token.
func (r *SBTRegistry) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	return r.callString(ctx, "tokenURI", tokenID)
}

// TokenDID returns the DID bound to a token.
func (r *SBTRegistry) TokenDID(ctx context.Context, tokenID *big.Int) (string, error) {
	return r.callString(ctx, "tokenDID", tokenID)
}

// LatestVC returns the most recently registered credential digest of a token.
func (r *SBTRegistry) LatestVC(ctx context.Context, tokenID *big.Int) (canonical.Digest, error) {
	out, err := r.t.Call(ctx, r.address, &sbtRegistryABI, "getLatestVC", tokenID)
	if err != nil {
		return canonical.Digest{}, err
	}

	return out[0].([32]byte), nil // nolint:forcetypeassert
}

// AllVCHashes returns every credential digest registered for a token, oldest first.
func (r *SBTRegistry) AllVCHashes(ctx context.Context, tokenID *big.Int) ([]canonical.Digest, error) {
	out, err := r.t.Call(ctx, r.address, &sbtRegistryABI, "getAllVCHashes", tokenID)
	if err != nil {
		return nil, err
	}

	raw := out[0].([][32]byte) // nolint:forcetypeassert
	hashes := make([]canonical.Digest, len(raw))

	for i := range raw {
		hashes[i] = raw[i]
	}

	return hashes, nil
}

// MintSBT submits a mint of a new token bound to owner.
func (r *SBTRegistry) MintSBT(ctx context.Context, owner common.Address, did, uri string,
	vcHash canonical.Digest) (*types.Transaction, error) {
	return r.t.Send(ctx, r.address, &sbtRegistryABI, "mintSBT", owner, did, uri, vcHash.Bytes32())
}

// RegisterVC appends a credential digest to an existing token.
func (r *SBTRegistry) RegisterVC(ctx context.Context, tokenID *big.Int, vcHash canonical.Digest) (*types.Transaction,
	error) {
	return r.t.Send(ctx, r.address, &sbtRegistryABI, "registerVC", tokenID, vcHash.Bytes32())
}

// EstimateTransfer estimates a transfer of the token by its holder. Soulbound tokens revert.
func (r *SBTRegistry) EstimateTransfer(ctx context.Context, from, to common.Address, tokenID *big.Int) (uint64,
	error) {
	return r.t.Estimate(ctx, from, r.address, &sbtRegistryABI, "transferFrom", from, to, tokenID)
}

// ParseMinted returns the token id from the SBTMinted event of a receipt.
func (r *SBTRegistry) ParseMinted(receipt *types.Receipt) (*big.Int, bool) {
	event := sbtRegistryABI.Events["SBTMinted"]

	for _, l := range receipt.Logs {
		if l.Address == r.address && len(l.Topics) == 3 && l.Topics[0] == event.ID {
			return new(big.Int).SetBytes(l.Topics[2].Bytes()), true
		}
	}

	return nil, false
}

// ParseVCRegistered returns the token id and digest from the VCRegistered event of a receipt.
func (r *SBTRegistry) ParseVCRegistered(receipt *types.Receipt) (*big.Int, canonical.Digest, bool) {
	event := sbtRegistryABI.Events["VCRegistered"]

	for _, l := range receipt.Logs {
		if l.Address != r.address || len(l.Topics) != 2 || l.Topics[0] != event.ID {
			continue
		}

		values, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(values) != 1 {
			logger.Warnf("malformed VCRegistered event in %s", receipt.TxHash.Hex())

			continue
		}

		return new(big.Int).SetBytes(l.Topics[1].Bytes()), values[0].([32]byte), true // nolint:forcetypeassert
	}

	return nil, canonical.Digest{}, false
}

// Record reads the full token state of owner. It returns nil when owner holds no token.
func (r *SBTRegistry) Record(ctx context.Context, owner common.Address) (*SBTRecord, error) {
	tokenID, err := r.HolderToken(ctx, owner)
	if err != nil {
		return nil, err
	}

	if tokenID.Sign() == 0 {
		return nil, nil
	}

	return r.RecordForToken(ctx, tokenID)
}

// RecordForToken reads the full state of a token.
func (r *SBTRegistry) RecordForToken(ctx context.Context, tokenID *big.Int) (*SBTRecord, error) {
	owner, err := r.OwnerOf(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	did, err := r.TokenDID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	uri, err := r.TokenURI(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	latest, err := r.LatestVC(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	all, err := r.AllVCHashes(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	return &SBTRecord{
		Owner:        owner.Hex(),
		TokenID:      tokenID.String(),
		DID:          did,
		TokenURI:     uri,
		LatestVCHash: latest,
		VCHashes:     all,
	}, nil
}

func (r *SBTRegistry) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.t.Call(ctx, r.address, &sbtRegistryABI, method, args...)
	if err != nil {
		return nil, err
	}

	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}

	return v, nil
}

func (r *SBTRegistry) callString(ctx context.Context, method string, args ...interface{}) (string, error) {
	out, err := r.t.Call(ctx, r.address, &sbtRegistryABI, method, args...)
	if err != nil {
		return "", err
	}

	return out[0].(string), nil // nolint:forcetypeassert
}
