/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package registrar tracks transactions submitted by the DID and token registrars that were not
// observed to confirm.
package registrar

import (
	"context"
	"errors"
	"strings"

	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/chain"
)

const ownerKeyPrefix = "owner:"

// LoadPending returns every pending transaction of subject.
func LoadPending(ctx context.Context, store artifact.Store, subject string) ([]chain.PendingTx, error) {
	var pending []chain.PendingTx

	err := store.Get(ctx, subject, artifact.PendingTx, &pending)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return pending, nil
}

// FindPending returns the first pending transaction of subject with one of the purposes.
func FindPending(ctx context.Context, store artifact.Store, subject string,
	purposes ...chain.Purpose) (*chain.PendingTx, error) {
	pending, err := LoadPending(ctx, store, subject)
	if err != nil {
		return nil, err
	}

	for i := range pending {
		for _, p := range purposes {
			if pending[i].Purpose == p {
				return &pending[i], nil
			}
		}
	}

	return nil, nil
}

// AddPending records a pending transaction, replacing any entry with the same hash.
func AddPending(ctx context.Context, store artifact.Store, tx *chain.PendingTx) error {
	pending, err := LoadPending(ctx, store, tx.Subject)
	if err != nil {
		return err
	}

	pending = without(pending, tx.TxHash)
	pending = append(pending, *tx)

	return store.Put(ctx, tx.Subject, artifact.PendingTx, pending)
}

// MarkFailed records that the pending transaction confirmed with a failure status.
func MarkFailed(ctx context.Context, store artifact.Store, tx *chain.PendingTx) error {
	failed := *tx
	failed.Status = chain.TxFailed

	return AddPending(ctx, store, &failed)
}

// OwnerKey is the subject under which the pending mints of an owner wallet are indexed.
func OwnerKey(owner string) string {
	return ownerKeyPrefix + strings.ToLower(owner)
}

// RemovePending clears a settled transaction.
func RemovePending(ctx context.Context, store artifact.Store, subject, txHash string) error {
	pending, err := LoadPending(ctx, store, subject)
	if err != nil {
		return err
	}

	pending = without(pending, txHash)

	if len(pending) == 0 {
		return store.Delete(ctx, subject, artifact.PendingTx)
	}

	return store.Put(ctx, subject, artifact.PendingTx, pending)
}

func without(pending []chain.PendingTx, txHash string) []chain.PendingTx {
	out := pending[:0]

	for _, p := range pending {
		if !strings.EqualFold(p.TxHash, txHash) {
			out = append(out, p)
		}
	}

	return out
}
