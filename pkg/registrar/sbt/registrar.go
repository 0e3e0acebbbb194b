/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sbt binds credential digests to an owner's soulbound token, minting the token on first issuance.
package sbt

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/registrar"
)

var logger = log.New("vc-anchor/registrar/sbt")

const ipfsScheme = "ipfs://"

// IssueRequest binds a credential digest to owner.
type IssueRequest struct {
	Owner       string           `json:"owner"`
	DID         string           `json:"did"`
	MetadataURI string           `json:"metadataURI"`
	VCHash      canonical.Digest `json:"vcHash"`
}

// Result of an issuance.
type Result struct {
	TokenID  string           `json:"tokenId,omitempty"`
	TxHash   string           `json:"txHash,omitempty"`
	Explorer string           `json:"explorer,omitempty"`
	Minted   bool             `json:"minted,omitempty"`
	Pending  bool             `json:"pending,omitempty"`
	Purpose  chain.Purpose    `json:"purpose,omitempty"`
	Record   *chain.SBTRecord `json:"record,omitempty"`
	// AlreadyBound is set when the owner held a token before this issuance.
	AlreadyBound bool `json:"alreadyBound,omitempty"`
}

// Option configures the registrar.
type Option func(*Registrar)

// WithConfirmationTimeout bounds the wait for a receipt.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(r *Registrar) {
		r.timeout = d
	}
}

// Registrar mints soulbound tokens and registers credential digests on them.
type Registrar struct {
	registry *chain.SBTRegistry
	store    artifact.Store
	timeout  time.Duration
	now      func() time.Time
}

// New returns a registrar persisting pending transactions in store.
func New(registry *chain.SBTRegistry, store artifact.Store, opts ...Option) *Registrar {
	r := &Registrar{
		registry: registry,
		store:    store,
		timeout:  chain.DefaultConfirmationTimeout,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Issue mints a token for a new owner or appends the digest to the owner's token.
// An unconfirmed transaction is recorded and reported as pending, not as an error.
func (r *Registrar) Issue(ctx context.Context, req *IssueRequest) (*Result, error) {
	owner, err := validate(req)
	if err != nil {
		return nil, err
	}

	pending, err := registrar.FindPending(ctx, r.store, req.DID, chain.PurposeMint, chain.PurposeRegisterVC)
	if err != nil {
		return nil, err
	}

	if pending != nil {
		logger.Warnf("%s transaction %s of %s awaits reconciliation", pending.Purpose, pending.TxHash, req.DID)

		return &Result{TxHash: pending.TxHash, Explorer: pending.Explorer, Pending: true, Purpose: pending.Purpose}, nil
	}

	minting, err := registrar.FindPending(ctx, r.store, registrar.OwnerKey(owner.Hex()), chain.PurposeMint)
	if err != nil {
		return nil, err
	}

	if minting != nil {
		return nil, anchorerr.AlreadyRegistered(fmt.Errorf("%w: mint %s for %s of owner %s awaits reconciliation",
			anchorerr.ErrMintPending, minting.TxHash, minting.Subject, owner.Hex()))
	}

	return r.bind(ctx, req, owner, true)
}

// bind registers the digest on the owner's token, minting one when allowed. Without mint it returns
// nil when the owner holds no token.
// nolint:funlen,gocyclo
func (r *Registrar) bind(ctx context.Context, req *IssueRequest, owner common.Address, mint bool) (*Result, error) {
	tokenID, err := r.registry.HolderToken(ctx, owner)
	if err != nil {
		return nil, err
	}

	var (
		tx      *types.Transaction
		purpose chain.Purpose
		bound   = tokenID.Sign() > 0
	)

	switch {
	case bound:
		latest, latestErr := r.registry.LatestVC(ctx, tokenID)
		if latestErr != nil {
			return nil, latestErr
		}

		if latest == req.VCHash {
			logger.Infof("token %s of %s already carries %s", tokenID, owner.Hex(), req.VCHash)

			record, recordErr := r.registry.RecordForToken(ctx, tokenID)
			if recordErr != nil {
				return nil, recordErr
			}

			return &Result{TokenID: tokenID.String(), AlreadyBound: true, Record: record}, nil
		}

		purpose = chain.PurposeRegisterVC
		logger.Infof("%s already holds token %s, registering new credential", owner.Hex(), tokenID)

		tx, err = r.registry.RegisterVC(ctx, tokenID, req.VCHash)
	case mint:
		purpose = chain.PurposeMint

		tx, err = r.registry.MintSBT(ctx, owner, req.DID, req.MetadataURI, req.VCHash)
		if anchorerr.Is(err, anchorerr.KindTransactionReverted) {
			return r.rebind(ctx, req, owner, err)
		}
	default:
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	hash := tx.Hash().Hex()
	explorer := r.registry.Transactor().ExplorerTxURL(hash)

	receipt, err := r.registry.Transactor().Wait(ctx, tx, r.timeout)
	if anchorerr.Is(err, anchorerr.KindConfirmationTimeout) {
		if err := r.track(ctx, &chain.PendingTx{
			TxHash:      hash,
			SubmittedAt: r.now().UTC(),
			Status:      chain.TxPending,
			Purpose:     purpose,
			Subject:     req.DID,
			Owner:       owner.Hex(),
			Explorer:    explorer,
			VCHash:      req.VCHash,
		}); err != nil {
			return nil, fmt.Errorf("persist pending %s %s : %w", purpose, hash, err)
		}

		logger.Warnf("%s transaction %s not confirmed in %s, recorded as pending", purpose, hash, r.timeout)

		return &Result{TxHash: hash, Explorer: explorer, Pending: true, Purpose: purpose, AlreadyBound: bound}, nil
	}

	if err != nil {
		if receipt == nil {
			return nil, err
		}

		failure := mintFailed(hash, explorer, purpose)
		if purpose == chain.PurposeMint {
			return r.rebind(ctx, req, owner, failure)
		}

		return nil, failure
	}

	res, err := r.finalize(ctx, purpose, tokenID, hash, explorer, receipt)
	if err != nil {
		return nil, err
	}

	res.AlreadyBound = bound

	return res, nil
}

// rebind binds the digest to a token the owner received from a competing mint. It returns cause
// when the owner still holds no token.
func (r *Registrar) rebind(ctx context.Context, req *IssueRequest, owner common.Address, cause error) (*Result,
	error) {
	res, err := r.bind(ctx, req, owner, false)
	if err != nil {
		return nil, err
	}

	if res == nil {
		return nil, cause
	}

	logger.Warnf("mint for %s of %s was rejected, %s bound to existing token %s", req.DID, owner.Hex(),
		req.VCHash, res.TokenID)

	res.AlreadyBound = true

	return res, nil
}

// Recover settles the pending mint or registration of subject. It returns nil when nothing is pending.
// The pending record is kept until the outcome is settled.
func (r *Registrar) Recover(ctx context.Context, subject string) (*Result, error) {
	pending, err := registrar.FindPending(ctx, r.store, subject, chain.PurposeMint, chain.PurposeRegisterVC)
	if err != nil || pending == nil {
		return nil, err
	}

	receipt, mined, err := r.registry.Transactor().Receipt(ctx, pending.TxHash)
	if err != nil {
		return nil, err
	}

	if !mined {
		logger.Infof("%s transaction %s of %s is still pending", pending.Purpose, pending.TxHash, subject)

		return &Result{TxHash: pending.TxHash, Explorer: pending.Explorer, Pending: true, Purpose: pending.Purpose}, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Errorf("%s transaction %s of %s failed", pending.Purpose, pending.TxHash, subject)

		return r.settleFailed(ctx, pending)
	}

	tokenID := big.NewInt(0)

	if pending.Purpose == chain.PurposeRegisterVC {
		id, _, ok := r.registry.ParseVCRegistered(receipt)
		if ok {
			tokenID = id
		} else if tokenID, err = r.registry.HolderToken(ctx, common.HexToAddress(pending.Owner)); err != nil {
			return nil, err
		}
	}

	res, err := r.finalize(ctx, pending.Purpose, tokenID, pending.TxHash, pending.Explorer, receipt)
	if err != nil {
		return nil, err
	}

	if err := r.clear(ctx, pending); err != nil {
		return nil, err
	}

	return res, nil
}

func (r *Registrar) settleFailed(ctx context.Context, pending *chain.PendingTx) (*Result, error) {
	if err := registrar.MarkFailed(ctx, r.store, pending); err != nil {
		return nil, err
	}

	var (
		res *Result
		err = mintFailed(pending.TxHash, pending.Explorer, pending.Purpose)
	)

	if pending.Purpose == chain.PurposeMint {
		owner := common.HexToAddress(pending.Owner)

		res, err = r.rebind(ctx, &IssueRequest{Owner: pending.Owner, DID: pending.Subject, VCHash: pending.VCHash},
			owner, err)
		if err != nil && !anchorerr.Is(err, anchorerr.KindTransactionReverted) {
			return nil, err
		}
	}

	if clearErr := r.clear(ctx, pending); clearErr != nil {
		return nil, clearErr
	}

	return res, err
}

func (r *Registrar) track(ctx context.Context, tx *chain.PendingTx) error {
	if err := registrar.AddPending(ctx, r.store, tx); err != nil {
		return err
	}

	if tx.Purpose != chain.PurposeMint {
		return nil
	}

	indexed := *tx
	indexed.Subject = registrar.OwnerKey(tx.Owner)

	return registrar.AddPending(ctx, r.store, &indexed)
}

func (r *Registrar) clear(ctx context.Context, tx *chain.PendingTx) error {
	if tx.Purpose == chain.PurposeMint {
		if err := registrar.RemovePending(ctx, r.store, registrar.OwnerKey(tx.Owner), tx.TxHash); err != nil {
			return err
		}
	}

	return registrar.RemovePending(ctx, r.store, tx.Subject, tx.TxHash)
}

// Status returns the token state of owner, nil when owner holds no token.
func (r *Registrar) Status(ctx context.Context, owner string) (*chain.SBTRecord, error) {
	if !common.IsHexAddress(owner) {
		return nil, anchorerr.Validation(fmt.Errorf("invalid owner address %q", owner))
	}

	return r.registry.Record(ctx, common.HexToAddress(owner))
}

func (r *Registrar) finalize(ctx context.Context, purpose chain.Purpose, tokenID *big.Int, hash, explorer string,
	receipt *types.Receipt) (*Result, error) {
	minted := purpose == chain.PurposeMint

	if minted {
		id, ok := r.registry.ParseMinted(receipt)
		if !ok {
			supply, err := r.registry.TotalSupply(ctx)
			if err != nil {
				return nil, err
			}

			logger.Warnf("no SBTMinted event in %s, using total supply %s as token id", hash, supply)

			id = supply
		}

		tokenID = id
	}

	record, err := r.registry.RecordForToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	record.TxHash = hash
	record.Explorer = explorer

	logger.Infof("%s of token %s confirmed in %s", purpose, tokenID, hash)

	return &Result{
		TokenID:  tokenID.String(),
		TxHash:   hash,
		Explorer: explorer,
		Minted:   minted,
		Purpose:  purpose,
		Record:   record,
	}, nil
}

func validate(req *IssueRequest) (common.Address, error) {
	switch {
	case req == nil || req.Owner == "":
		return common.Address{}, anchorerr.Missing("owner wallet")
	case req.DID == "":
		return common.Address{}, anchorerr.Missing("did")
	case req.VCHash.IsZero():
		return common.Address{}, anchorerr.Missing("credential hash")
	case !strings.HasPrefix(req.MetadataURI, ipfsScheme):
		return common.Address{}, anchorerr.Validation(fmt.Errorf("metadata uri %q is not an ipfs uri", req.MetadataURI))
	case !common.IsHexAddress(req.Owner):
		return common.Address{}, anchorerr.Validation(fmt.Errorf("invalid owner address %q", req.Owner))
	}

	return common.HexToAddress(req.Owner), nil
}

func mintFailed(hash, explorer string, purpose chain.Purpose) error {
	return anchorerr.Reverted(hash, explorer, fmt.Errorf("%w: %s transaction failed", anchorerr.ErrMintFailed, purpose))
}
