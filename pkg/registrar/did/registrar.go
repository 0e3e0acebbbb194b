/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package did registers a DID with its wallet ownership proofs on the DID registry contract.
package did

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/registrar"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

var logger = log.New("vc-anchor/registrar/did")

// Result of a registration.
type Result struct {
	DID               string                   `json:"did"`
	TxHash            string                   `json:"txHash,omitempty"`
	Explorer          string                   `json:"explorer,omitempty"`
	AlreadyRegistered bool                     `json:"alreadyRegistered,omitempty"`
	Pending           bool                     `json:"pending,omitempty"`
	SubmittedProofs   int                      `json:"submittedProofs,omitempty"`
	Verified          []chain.WalletProofEvent `json:"verified,omitempty"`
	Record            *chain.DIDRecord         `json:"record,omitempty"`
}

// Option configures the registrar.
type Option func(*Registrar)

// WithConfirmationTimeout bounds the wait for the registration receipt.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(r *Registrar) {
		r.timeout = d
	}
}

// Registrar registers DIDs.
type Registrar struct {
	registry *chain.DIDRegistry
	store    artifact.Store
	timeout  time.Duration
	now      func() time.Time
}

// New returns a registrar persisting pending transactions in store.
func New(registry *chain.DIDRegistry, store artifact.Store, opts ...Option) *Registrar {
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

// Register anchors the DID with every proof in one transaction. An active registration is left
// untouched and reported as AlreadyRegistered.
func (r *Registrar) Register(ctx context.Context, did string, metadata *vc.ContentAddress,
	proofs []vc.WalletProof) (*Result, error) {
	if did == "" {
		return nil, anchorerr.Missing("did")
	}

	if metadata == nil || metadata.CID == "" {
		return nil, anchorerr.Missing("metadata pointer")
	}

	existing, err := r.registry.GetDIDRecord(ctx, did)
	if err != nil {
		return nil, err
	}

	if existing.Active {
		logger.Infof("%s already registered by %s, skipping", did, existing.Owner)

		return &Result{DID: did, AlreadyRegistered: true, Record: existing}, nil
	}

	if len(proofs) == 0 {
		return nil, anchorerr.Validation(fmt.Errorf("%w: registration of %s needs at least one wallet proof",
			anchorerr.ErrNoProofsGenerated, did))
	}

	args, err := proofArgs(did, proofs)
	if err != nil {
		return nil, err
	}

	if pending, err := registrar.FindPending(ctx, r.store, did, chain.PurposeRegister); err != nil {
		return nil, err
	} else if pending != nil {
		logger.Warnf("registration of %s awaits reconciliation of %s", did, pending.TxHash)

		return &Result{DID: did, Pending: true, TxHash: pending.TxHash, Explorer: pending.Explorer}, nil
	}

	tx, err := r.registry.RegisterDID(ctx, did, metadata.URI(), args)
	if anchorerr.Is(err, anchorerr.KindTransactionReverted) {
		return r.registeredConcurrently(ctx, did, err)
	}

	if err != nil {
		return nil, err
	}

	hash := tx.Hash().Hex()
	explorer := r.registry.Transactor().ExplorerTxURL(hash)

	receipt, err := r.registry.Transactor().Wait(ctx, tx, r.timeout)
	if anchorerr.Is(err, anchorerr.KindConfirmationTimeout) {
		if err := registrar.AddPending(ctx, r.store, &chain.PendingTx{
			TxHash:      hash,
			SubmittedAt: r.now().UTC(),
			Status:      chain.TxPending,
			Purpose:     chain.PurposeRegister,
			Subject:     did,
			Explorer:    explorer,
		}); err != nil {
			return nil, fmt.Errorf("persist pending registration %s : %w", hash, err)
		}

		logger.Warnf("registration of %s not confirmed yet, tx %s recorded as pending", did, hash)

		return &Result{DID: did, TxHash: hash, Explorer: explorer, Pending: true, SubmittedProofs: len(args.Chains)}, nil
	}

	if err != nil {
		if receipt != nil {
			return r.registeredConcurrently(ctx, did, err)
		}

		return nil, err
	}

	res, err := r.finalize(did, hash, explorer, receipt)
	if err != nil {
		return nil, err
	}

	res.SubmittedProofs = len(args.Chains)

	if len(res.Verified) != res.SubmittedProofs {
		logger.Warnf("%s: registry verified %d of %d wallet proofs", did, len(res.Verified), res.SubmittedProofs)
	}

	return res, nil
}

// Recover settles a pending registration of did. It returns nil when nothing is pending.
// The pending record is kept until the outcome is settled.
func (r *Registrar) Recover(ctx context.Context, did string) (*Result, error) {
	pending, err := registrar.FindPending(ctx, r.store, did, chain.PurposeRegister)
	if err != nil || pending == nil {
		return nil, err
	}

	receipt, mined, err := r.registry.Transactor().Receipt(ctx, pending.TxHash)
	if err != nil {
		return nil, err
	}

	if !mined {
		logger.Infof("registration %s of %s is still pending", pending.TxHash, did)

		return &Result{DID: did, TxHash: pending.TxHash, Explorer: pending.Explorer, Pending: true}, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return r.settleFailed(ctx, pending)
	}

	res, err := r.finalize(did, pending.TxHash, pending.Explorer, receipt)
	if err != nil {
		return nil, err
	}

	record, err := r.registry.GetDIDRecord(ctx, did)
	if err != nil {
		return nil, err
	}

	res.Record = record

	if err := registrar.RemovePending(ctx, r.store, did, pending.TxHash); err != nil {
		return nil, err
	}

	return res, nil
}

func (r *Registrar) settleFailed(ctx context.Context, pending *chain.PendingTx) (*Result, error) {
	logger.Errorf("registration %s of %s failed", pending.TxHash, pending.Subject)

	if err := registrar.MarkFailed(ctx, r.store, pending); err != nil {
		return nil, err
	}

	res, err := r.registeredConcurrently(ctx, pending.Subject, anchorerr.Reverted(pending.TxHash, pending.Explorer,
		fmt.Errorf("registration of %s failed on chain", pending.Subject)))
	if err != nil && !anchorerr.Is(err, anchorerr.KindTransactionReverted) {
		return nil, err
	}

	if clearErr := registrar.RemovePending(ctx, r.store, pending.Subject, pending.TxHash); clearErr != nil {
		return nil, clearErr
	}

	return res, err
}

// registeredConcurrently reports the active record of did after its registration was rejected.
// It returns cause when did is still unregistered.
func (r *Registrar) registeredConcurrently(ctx context.Context, did string, cause error) (*Result, error) {
	record, err := r.registry.GetDIDRecord(ctx, did)
	if err != nil {
		return nil, err
	}

	if !record.Active {
		return nil, cause
	}

	logger.Warnf("%s was registered concurrently by %s", did, record.Owner)

	return &Result{DID: did, AlreadyRegistered: true, Record: record}, nil
}

func (r *Registrar) finalize(did, hash, explorer string, receipt *types.Receipt) (*Result, error) {
	events, err := r.registry.ParseWalletProofVerified(receipt)
	if err != nil {
		return nil, err
	}

	logger.Infof("registered %s in tx %s with %d verified wallets", did, hash, len(events))

	return &Result{DID: did, TxHash: hash, Explorer: explorer, Verified: events}, nil
}

func proofArgs(did string, proofs []vc.WalletProof) (*chain.ProofArgs, error) {
	args := &chain.ProofArgs{}
	seen := make(map[string]struct{}, len(proofs))

	for _, p := range proofs {
		k := strings.ToUpper(p.Chain) + "|" + p.Address
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}

		if p.Message != vc.ProofMessage(did) {
			return nil, anchorerr.Validation(fmt.Errorf("%s proof signs %q, not the ownership message of %s",
				p.Chain, p.Message, did))
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
		if err != nil || len(sig) == 0 {
			return nil, anchorerr.Validation(fmt.Errorf("%s proof has an invalid signature", p.Chain))
		}

		args.Chains = append(args.Chains, p.Chain)
		args.Wallets = append(args.Wallets, p.Address)
		args.Messages = append(args.Messages, p.Message)
		args.Signatures = append(args.Signatures, sig)
	}

	return args, nil
}
