/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package registrar

import (
	"context"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/chain"
)

func TestPending(t *testing.T) {
	store, err := artifact.NewSPIStore(mem.NewProvider())
	require.NoError(t, err)

	ctx := context.Background()
	subject := "did:example:123"

	pending, err := LoadPending(ctx, store, subject)
	require.NoError(t, err)
	require.Empty(t, pending)

	mint := &chain.PendingTx{TxHash: "0xAA", Purpose: chain.PurposeMint, Subject: subject, Status: chain.TxPending,
		SubmittedAt: time.Now().UTC()}
	register := &chain.PendingTx{TxHash: "0xbb", Purpose: chain.PurposeRegister, Subject: subject,
		Status: chain.TxPending}

	require.NoError(t, AddPending(ctx, store, mint))
	require.NoError(t, AddPending(ctx, store, register))
	require.NoError(t, AddPending(ctx, store, mint))

	pending, err = LoadPending(ctx, store, subject)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	found, err := FindPending(ctx, store, subject, chain.PurposeMint, chain.PurposeRegisterVC)
	require.NoError(t, err)
	require.Equal(t, "0xAA", found.TxHash)

	require.NoError(t, RemovePending(ctx, store, subject, "0xaa"))

	found, err = FindPending(ctx, store, subject, chain.PurposeMint)
	require.NoError(t, err)
	require.Nil(t, found)

	require.NoError(t, RemovePending(ctx, store, subject, "0xbb"))

	_, err = store.GetRaw(ctx, subject, artifact.PendingTx)
	require.ErrorIs(t, err, artifact.ErrNotFound)
}
