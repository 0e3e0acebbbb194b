/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wiring

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/vc-anchor/pkg/proof"
	"github.com/trustbloc/vc-anchor/pkg/vc"
	"github.com/trustbloc/vc-anchor/pkg/vc/signer"
)

const issuerKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestGetParameters(t *testing.T) {
	t.Run("test valid args", func(t *testing.T) {
		cmd := newCmd(validArgs(t)...)
		require.NoError(t, cmd.Execute())

		p, err := GetParameters(cmd)
		require.NoError(t, err)
		require.Equal(t, "did:example:issuer", p.IssuerDID)
		require.Equal(t, defaultPrimaryChain, p.PrimaryChain)
		require.Len(t, p.Chains, 2)
		require.Equal(t, "1337", p.ChainID.String())
		require.Equal(t, proof.DefaultPollInterval, p.PollInterval)
		require.Equal(t, 2*time.Second, p.ConfirmationTimeout)
		require.Equal(t, uint64(20), p.GasBuffer)
		require.False(t, p.TLS.SystemCertPool)
	})

	t.Run("test missing issuer did", func(t *testing.T) {
		cmd := newCmd(without(validArgs(t), IssuerDIDFlagName)...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "Neither issuer-did (command line flag) nor ANCHOR_REST_ISSUER_DID"+
			" (environment variable) have been set.")
	})

	t.Run("test no credential signer", func(t *testing.T) {
		cmd := newCmd(without(validArgs(t), HMACKeyFlagName)...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "either hmac-key or vc-service-url must be set")
	})

	t.Run("test invalid log level", func(t *testing.T) {
		cmd := newCmd(append(validArgs(t), "--"+logLevelFlagName, "loud")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to parse log level")
	})

	t.Run("test invalid registry address", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), DIDRegistryFlagName),
			"--"+DIDRegistryFlagName, "registry")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "invalid did-registry-address: registry")
	})

	t.Run("test invalid chain id", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), ChainIDFlagName), "--"+ChainIDFlagName, "main")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "invalid chain-id: main")
	})

	t.Run("test invalid duration", func(t *testing.T) {
		cmd := newCmd(append(validArgs(t), "--"+pollIntervalFlagName, "soon")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to parse poll-interval soon")
	})

	t.Run("test invalid tls system cert pool", func(t *testing.T) {
		cmd := newCmd(append(validArgs(t), "--"+tlsSystemCertPoolFlagName, "maybe")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.Error(t, err)
	})
}

func TestParseChains(t *testing.T) {
	t.Run("test success", func(t *testing.T) {
		chains, err := ParseChains([]string{"eth=ETH", "SOL=SOL_TEST:raw-digest"})
		require.NoError(t, err)
		require.Equal(t, []proof.ChainConfig{
			{Symbol: "ETH", AssetID: "ETH"},
			{Symbol: "SOL", AssetID: "SOL_TEST", Scheme: vc.SchemeRawDigest},
		}, chains)
	})

	t.Run("test malformed", func(t *testing.T) {
		_, err := ParseChains([]string{"ETH"})
		require.EqualError(t, err, "invalid chain 'ETH', expected SYMBOL=ASSET_ID[:scheme]")
	})

	t.Run("test unknown scheme", func(t *testing.T) {
		_, err := ParseChains([]string{"ETH=ETH:ecdsa"})
		require.EqualError(t, err, "invalid signing scheme 'ecdsa' for chain ETH")
	})

	t.Run("test duplicate", func(t *testing.T) {
		_, err := ParseChains([]string{"ETH=ETH", "eth=ETH_TEST"})
		require.EqualError(t, err, "chain ETH configured twice")
	})
}

func TestNewServices(t *testing.T) {
	t.Run("test success", func(t *testing.T) {
		cmd := newCmd(validArgs(t)...)
		require.NoError(t, cmd.Execute())

		p, err := GetParameters(cmd)
		require.NoError(t, err)

		s, err := NewServices(Context(cmd), p)
		require.NoError(t, err)
		require.NotNil(t, s.Pipeline)
		require.NotNil(t, s.Registry)
		require.NotNil(t, s.Pipeline.Store())
	})

	t.Run("test unsupported store", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), DatasourceNameFlagName),
			"--"+DatasourceNameFlagName, "couchdb://localhost")...)
		require.NoError(t, cmd.Execute())

		p, err := GetParameters(cmd)
		require.NoError(t, err)

		_, err = NewServices(Context(cmd), p)
		require.EqualError(t, err, "failed to open artifact store : unsupported storage driver: couchdb")
	})

	t.Run("test missing custody key file", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), CustodyKeyFileFlagName),
			"--"+CustodyKeyFileFlagName, filepath.Join(t.TempDir(), "missing.pem"))...)
		require.NoError(t, cmd.Execute())

		p, err := GetParameters(cmd)
		require.NoError(t, err)

		_, err = NewServices(Context(cmd), p)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to read custody key file")
	})

	t.Run("test invalid issuer key", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), PrivateKeyFlagName), "--"+PrivateKeyFlagName, "0x01")...)
		require.NoError(t, cmd.Execute())

		p, err := GetParameters(cmd)
		require.NoError(t, err)

		_, err = NewServices(Context(cmd), p)
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid issuer private key")
	})
}

func TestNewSigner(t *testing.T) {
	t.Run("test deterministic fallback", func(t *testing.T) {
		s, err := newSigner(Context(&cobra.Command{}), &Parameters{HMACKey: "secret"}, nil)
		require.NoError(t, err)
		require.Equal(t, signer.StrategyDeterministic, s.Strategy())
	})

	t.Run("test no signer", func(t *testing.T) {
		_, err := newSigner(Context(&cobra.Command{}), &Parameters{}, nil)
		require.EqualError(t, err, "no credential signer available")
	})
}

func newCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{
		Use:  "test",
		RunE: func(*cobra.Command, []string) error { return nil },
	}

	CreateFlags(cmd)
	cmd.SetArgs(args)

	return cmd
}

func validArgs(t *testing.T) []string {
	t.Helper()

	return []string{
		"--" + DatasourceNameFlagName, "mem://test",
		"--" + IssuerDIDFlagName, "did:example:issuer",
		"--" + HMACKeyFlagName, "secret",
		"--" + IPFSURLFlagName, "http://localhost:5001",
		"--" + CustodyURLFlagName, "http://localhost:8081",
		"--" + CustodyAPIKeyFlagName, "api-key",
		"--" + CustodyKeyFileFlagName, custodyKeyFile(t),
		"--" + CustodyVaultFlagName, "0",
		"--" + ChainsFlagName, "ETH=ETH_TEST",
		"--" + ChainsFlagName, "SOL=SOL_TEST:raw-digest",
		"--" + RPCURLFlagName, "http://localhost:8545",
		"--" + ChainIDFlagName, "1337",
		"--" + DIDRegistryFlagName, "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"--" + SBTRegistryFlagName, "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		"--" + PrivateKeyFlagName, issuerKey,
		"--" + gasBufferFlagName, "20",
		"--" + confirmationTimeoutFlagName, "2s",
	}
}

func without(args []string, flagName string) []string {
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i += 2 {
		if args[i] == "--"+flagName {
			continue
		}

		out = append(out, args[i], args[i+1])
	}

	return out
}

func custodyKeyFile(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "custody.pem")

	require.NoError(t, os.WriteFile(file, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	return file
}

func TestGetParametersURLs(t *testing.T) {
	t.Run("test invalid pinning api url", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), IPFSURLFlagName), "--"+IPFSURLFlagName, "localhost:5001")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "ipfs-api-url must be an http(s) url: localhost:5001")
	})

	t.Run("test invalid gateway", func(t *testing.T) {
		cmd := newCmd(append(validArgs(t), "--"+ipfsGatewaysFlagName, "ipfs.io")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "ipfs-gateways must be an http(s) url: ipfs.io")
	})

	t.Run("test invalid custody url", func(t *testing.T) {
		cmd := newCmd(append(without(validArgs(t), CustodyURLFlagName), "--"+CustodyURLFlagName, "custody")...)
		require.NoError(t, cmd.Execute())

		_, err := GetParameters(cmd)
		require.EqualError(t, err, "custody-url must be an http(s) url: custody")
	})
}
