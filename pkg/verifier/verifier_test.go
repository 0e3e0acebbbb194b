/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/chain/chaintest"
	"github.com/trustbloc/vc-anchor/pkg/metrics"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

const (
	testDID   = "did:example:123"
	testOwner = "0x1000000000000000000000000000000000000001"
	testCID   = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

type fixture struct {
	backend *chaintest.Backend
	tr      *chain.Transactor
	sbt     *chain.SBTRegistry
	dids    *chain.DIDRegistry
	cred    *vc.Credential
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := chaintest.New()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tr, err := chain.NewTransactor(context.Background(), backend, key)
	require.NoError(t, err)

	cred, err := vc.NewBuilder("did:example:issuer", "ETH").Build(&vc.BuildRequest{
		SubjectDID:      testDID,
		Wallets:         map[string]string{"ETH": testOwner, "SOL": "sol1"},
		MetadataPointer: "ipfs://meta",
		ImagePointer:    "ipfs://image",
	})
	require.NoError(t, err)

	cred, err = cred.WithProof(&vc.Proof{
		Type: "HmacSha256Signature2024", Created: "2024-01-01T00:00:00Z", VerificationMethod: testDID + "#123",
		ProofPurpose: vc.AssertionMethod, ProofValue: "c2ln",
	})
	require.NoError(t, err)

	return &fixture{
		backend: backend,
		tr:      tr,
		sbt:     chain.NewSBTRegistry(tr, chaintest.SBTRegistryAddress),
		dids:    chain.NewDIDRegistry(tr, chaintest.DIDRegistryAddress),
		cred:    cred,
	}
}

func (f *fixture) mint(t *testing.T, did string, digest canonical.Digest) {
	t.Helper()

	tx, err := f.sbt.MintSBT(context.Background(), common.HexToAddress("0x2000000000000000000000000000000000000002"), "unused", "ipfs://x",
		canonical.HashBytes([]byte("unrelated")))
	require.NoError(t, err)

	_, err = f.tr.Wait(context.Background(), tx, time.Second)
	require.NoError(t, err)

	tx, err = f.sbt.MintSBT(context.Background(), common.HexToAddress(testOwner), did, "ipfs://"+testCID, digest)
	require.NoError(t, err)

	_, err = f.tr.Wait(context.Background(), tx, time.Second)
	require.NoError(t, err)
}

func (f *fixture) digest(t *testing.T) canonical.Digest {
	t.Helper()

	d, err := f.cred.Digest()
	require.NoError(t, err)

	return d
}

func findings(r *Report) map[string]Finding {
	out := make(map[string]Finding)

	for _, f := range r.Findings {
		out[f.Check] = f
	}

	return out
}

func TestVerify(t *testing.T) {
	t.Run("test anchored credential passes every check", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, f.digest(t))

		msg := vc.ProofMessage(testDID)

		tx, err := f.dids.RegisterDID(context.Background(), testDID, "ipfs://meta", &chain.ProofArgs{
			Chains: []string{"ETH"}, Wallets: []string{testOwner}, Messages: []string{msg}, Signatures: [][]byte{{1}},
		})
		require.NoError(t, err)

		_, err = f.tr.Wait(context.Background(), tx, time.Second)
		require.NoError(t, err)

		doc, err := json.Marshal(f.cred)
		require.NoError(t, err)

		v := New(f.sbt, WithDIDRegistry(f.dids), WithFetcher(&mockFetcher{docs: map[string][]byte{testCID: doc}}),
			WithMetrics(metrics.New(prometheus.NewRegistry())))

		report, err := v.Verify(context.Background(), &Input{Credential: f.cred, ContentID: testCID})
		require.NoError(t, err)
		require.True(t, report.OK(), "%+v", report.Failed())
		require.Equal(t, "2", report.TokenID)

		byCheck := findings(report)
		for _, c := range []string{CheckToken, CheckVCHash, CheckOwner, CheckSoulbound, CheckConsistency,
			CheckContent, CheckDIDRecord} {
			require.True(t, byCheck[c].Passed, c)
		}

		require.Contains(t, byCheck[CheckSoulbound].Detail, "soulbound")

		var wallets []Finding

		for _, finding := range report.Findings {
			if finding.Check == CheckWalletVerified {
				wallets = append(wallets, finding)
			}
		}

		require.Len(t, wallets, 2)
		require.True(t, wallets[0].Passed)
		require.False(t, wallets[1].Passed)
		require.Equal(t, SeverityInfo, wallets[1].Severity)
	})

	t.Run("test digest mismatch is critical", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, canonical.HashBytes([]byte("other")))

		report, err := New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.False(t, report.OK())
		require.True(t, report.Critical())
		require.False(t, findings(report)[CheckVCHash].Passed)
	})

	t.Run("test superseded credential is a warning", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, f.digest(t))

		tx, err := f.sbt.RegisterVC(context.Background(), big.NewInt(2), canonical.HashBytes([]byte("newer")))
		require.NoError(t, err)

		_, err = f.tr.Wait(context.Background(), tx, time.Second)
		require.NoError(t, err)

		report, err := New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.False(t, report.OK())
		require.False(t, report.Critical())
		require.Equal(t, SeverityWarning, findings(report)[CheckVCHash].Severity)
	})

	t.Run("test transferable token is critical", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, f.digest(t))
		f.backend.Transferable = true

		report, err := New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.True(t, report.Critical())
		require.False(t, findings(report)[CheckSoulbound].Passed)
	})

	t.Run("test token bound to another DID", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, "did:example:456", f.digest(t))

		report, err := New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.False(t, findings(report)[CheckConsistency].Passed)
		require.Contains(t, findings(report)[CheckConsistency].Detail, "did:example:456")
	})

	t.Run("test owner without token", func(t *testing.T) {
		f := newFixture(t)

		report, err := New(f.sbt, WithDIDRegistry(f.dids)).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.True(t, report.Critical())
		require.False(t, findings(report)[CheckToken].Passed)
		require.False(t, findings(report)[CheckDIDRecord].Passed)
		require.Empty(t, report.TokenID)
	})

	t.Run("test published content", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, f.digest(t))

		tampered := f.cred.Unsigned()
		tampered.Subject.ImagePointer = "ipfs://other"

		doc, err := json.Marshal(tampered)
		require.NoError(t, err)

		report, err := New(f.sbt, WithFetcher(&mockFetcher{docs: map[string][]byte{testCID: doc}})).
			Verify(context.Background(), &Input{Credential: f.cred, ContentID: testCID})
		require.NoError(t, err)
		require.False(t, findings(report)[CheckContent].Passed)
		require.Equal(t, SeverityCritical, findings(report)[CheckContent].Severity)

		report, err = New(f.sbt, WithFetcher(&mockFetcher{err: errors.New("gateway down")})).
			Verify(context.Background(), &Input{Credential: f.cred, ContentID: testCID})
		require.NoError(t, err)
		require.Equal(t, SeverityWarning, findings(report)[CheckContent].Severity)
		require.False(t, report.Critical())
	})

	t.Run("test credential is not mutated", func(t *testing.T) {
		f := newFixture(t)
		f.mint(t, testDID, f.digest(t))

		before := f.digest(t)

		_, err := New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred})
		require.NoError(t, err)
		require.Equal(t, before, f.digest(t))
	})

	t.Run("test invalid input", func(t *testing.T) {
		f := newFixture(t)

		_, err := New(f.sbt).Verify(context.Background(), nil)
		require.True(t, errors.Is(err, anchorerr.ErrMissingRequiredField))

		_, err = New(f.sbt).Verify(context.Background(), &Input{Credential: f.cred, Owner: "nope"})
		require.True(t, anchorerr.Is(err, anchorerr.KindValidation))
	})
}

type mockFetcher struct {
	docs map[string][]byte
	err  error
}

func (m *mockFetcher) Fetch(_ context.Context, contentID string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}

	doc, ok := m.docs[contentID]
	if !ok {
		return nil, errors.New("not found")
	}

	return doc, nil
}
