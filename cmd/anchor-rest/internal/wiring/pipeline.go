/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wiring

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	tlsutils "github.com/trustbloc/edge-core/pkg/utils/tls"

	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/custody"
	"github.com/trustbloc/vc-anchor/pkg/ipfs"
	"github.com/trustbloc/vc-anchor/pkg/metrics"
	"github.com/trustbloc/vc-anchor/pkg/pipeline"
	"github.com/trustbloc/vc-anchor/pkg/proof"
	"github.com/trustbloc/vc-anchor/pkg/registrar/did"
	"github.com/trustbloc/vc-anchor/pkg/registrar/sbt"
	"github.com/trustbloc/vc-anchor/pkg/vc/signer"
	"github.com/trustbloc/vc-anchor/pkg/verifier"
)

const storePrefix = "anchor"

// Services is the assembled pipeline with its supporting handles.
type Services struct {
	Pipeline *pipeline.Pipeline
	Registry *prometheus.Registry
	TLS      *tls.Config
}

// NewServices connects every collaborator described by params and assembles the pipeline.
// nolint:funlen
func NewServices(ctx context.Context, params *Parameters) (*Services, error) {
	rootCAs, err := tlsutils.GetCertPool(params.TLS.SystemCertPool, params.TLS.CACerts)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{RootCAs: rootCAs, MinVersion: tls.VersionTLS12}

	store, err := artifact.Open(params.DSN, storePrefix, params.DSNTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store : %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	credSigner, err := newSigner(ctx, params, tlsConfig)
	if err != nil {
		return nil, err
	}

	publisher := ipfs.New(params.IPFSURL, params.IPFSJWT, tlsConfig, ipfs.WithGateways(params.IPFSGateways...))

	collector, err := newCollector(params, tlsConfig, m)
	if err != nil {
		return nil, err
	}

	didRegistry, sbtRegistry, err := newRegistries(ctx, params)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(&pipeline.Config{
		IssuerDID:    params.IssuerDID,
		IssuerName:   params.IssuerName,
		PrimaryChain: params.PrimaryChain,
		Chains:       params.Chains,
		Store:        store,
		Signer:       credSigner,
		Publisher:    publisher,
		Collector:    collector,
		DIDRegistrar: did.New(didRegistry, store, did.WithConfirmationTimeout(params.ConfirmationTimeout)),
		SBTRegistrar: sbt.New(sbtRegistry, store, sbt.WithConfirmationTimeout(params.ConfirmationTimeout)),
		Verifier: verifier.New(sbtRegistry,
			verifier.WithDIDRegistry(didRegistry),
			verifier.WithFetcher(publisher),
			verifier.WithMetrics(m),
		),
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}

	return &Services{Pipeline: p, Registry: registry, TLS: tlsConfig}, nil
}

func newSigner(ctx context.Context, params *Parameters, tlsConfig *tls.Config) (signer.Signer, error) {
	var fallback signer.Signer

	if params.HMACKey != "" {
		h, err := signer.NewHMACSigner([]byte(params.HMACKey))
		if err != nil {
			return nil, err
		}

		fallback = h
	}

	if params.VCServiceURL == "" {
		return signer.Select(ctx, nil, fallback)
	}

	remote := signer.NewRemoteSigner(params.VCServiceURL, params.VCServiceProfile, params.VCServiceToken, tlsConfig)

	return signer.Select(ctx, remote, fallback)
}

func newCollector(params *Parameters, tlsConfig *tls.Config, m *metrics.Metrics) (*proof.Collector, error) {
	pemBytes, err := os.ReadFile(filepath.Clean(params.CustodyKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read custody key file : %w", err)
	}

	key, err := custody.ParseSigningKey(pemBytes)
	if err != nil {
		return nil, err
	}

	client, err := custody.New(params.CustodyURL, params.CustodyAPIKey, key, tlsConfig)
	if err != nil {
		return nil, err
	}

	return proof.NewCollector(client, params.CustodyVaultID,
		proof.WithPolling(params.PollInterval, params.PollAttempts),
		proof.WithMetrics(m),
	), nil
}

func newRegistries(ctx context.Context, params *Parameters) (*chain.DIDRegistry, *chain.SBTRegistry, error) {
	client, err := chain.Dial(ctx, params.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	key, err := chain.ParsePrivateKey(params.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	opts := []chain.TransactorOption{
		chain.WithGasBuffer(params.GasBuffer),
		chain.WithExplorer(params.ExplorerURL),
	}

	if params.ChainID != nil {
		opts = append(opts, chain.WithChainID(params.ChainID))
	}

	tr, err := chain.NewTransactor(ctx, client, key, opts...)
	if err != nil {
		return nil, nil, err
	}

	logger.Infof("submitting registry transactions from %s", tr.From().Hex())

	return chain.NewDIDRegistry(tr, params.DIDRegistry), chain.NewSBTRegistry(tr, params.SBTRegistry), nil
}

// Context returns the command context, or a background context when the command runs without one.
func Context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
