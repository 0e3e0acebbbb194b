/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proof collects wallet ownership signatures from the custodial signer, one chain at a time
// and all chains concurrently.
package proof

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/trustbloc/edge-core/pkg/log"
	"golang.org/x/sync/errgroup"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/custody"
	"github.com/trustbloc/vc-anchor/pkg/metrics"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

var logger = log.New("vc-anchor/proof")

const (
	// DefaultPollInterval between job status queries.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts job status queries before a chain times out.
	DefaultMaxAttempts = 60
)

var errJobPending = errors.New("signing job not completed")

// SigningService submits and tracks custodial signing jobs.
type SigningService interface {
	SubmitSigningJob(ctx context.Context, job *custody.Job) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*custody.JobStatus, error)
}

// ChainConfig binds a chain symbol to its custodial asset.
type ChainConfig struct {
	Symbol  string `json:"symbol"`
	AssetID string `json:"assetId"`
	// Scheme overrides the chain family default.
	Scheme string `json:"scheme,omitempty"`
}

// ChainFailure records why a chain produced no proof.
type ChainFailure struct {
	Chain   string `json:"chain"`
	Address string `json:"address,omitempty"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	// FallbackReason is set when the alternate scheme was also tried.
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// Bundle is the set of wallet proofs for one DID.
type Bundle struct {
	DID       string           `json:"did"`
	Proofs    []vc.WalletProof `json:"proofs"`
	Failures  []ChainFailure   `json:"failures,omitempty"`
	Skipped   []ChainFailure   `json:"skipped,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Chains returns the chain symbols that produced proofs, in bundle order.
func (b *Bundle) Chains() []string {
	chains := make([]string, 0, len(b.Proofs))

	for i := range b.Proofs {
		chains = append(chains, b.Proofs[i].Chain)
	}

	return chains
}

// Option configures the collector.
type Option func(*Collector)

// WithPolling overrides the job status poll interval and attempt budget.
func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Collector) {
		c.pollInterval = interval
		c.maxAttempts = maxAttempts

		if c.maxAttempts < 1 {
			c.maxAttempts = 1
		}
	}
}

// WithMetrics records per chain outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// Collector gathers wallet proofs.
type Collector struct {
	service      SigningService
	vaultID      string
	pollInterval time.Duration
	maxAttempts  int
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewCollector returns a collector signing from the given vault account.
func NewCollector(service SigningService, vaultID string, opts ...Option) *Collector {
	c := &Collector{
		service:      service,
		vaultID:      vaultID,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type chainResult struct {
	proof   *vc.WalletProof
	failure *ChainFailure
	skipped *ChainFailure
}

// Collect signs the ownership message for every configured chain holding a wallet address.
// A failing chain never affects the others; only when no chain succeeds is an error returned.
func (c *Collector) Collect(ctx context.Context, did string, wallets map[string]string,
	chains []ChainConfig) (*Bundle, error) {
	if did == "" {
		return nil, anchorerr.Missing("did")
	}

	chains = uniqueChains(chains)
	message := vc.ProofMessage(did)
	results := make([]chainResult, len(chains))

	g, gctx := errgroup.WithContext(ctx)

	for i := range chains {
		i, cfg := i, chains[i]

		g.Go(func() error {
			res, err := c.collectChain(gctx, cfg, lookupWallet(wallets, cfg.Symbol), message)
			if err != nil {
				return err
			}

			results[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle := &Bundle{DID: did, CreatedAt: c.now().UTC()}

	for _, r := range results {
		switch {
		case r.proof != nil:
			bundle.Proofs = append(bundle.Proofs, *r.proof)
		case r.failure != nil:
			bundle.Failures = append(bundle.Failures, *r.failure)
		case r.skipped != nil:
			bundle.Skipped = append(bundle.Skipped, *r.skipped)
		}
	}

	logger.Infof("collected %d wallet proofs for %s (%d failed, %d skipped)",
		len(bundle.Proofs), did, len(bundle.Failures), len(bundle.Skipped))

	if len(bundle.Proofs) == 0 {
		return bundle, anchorerr.Validation(fmt.Errorf("%w for %s: %s",
			anchorerr.ErrNoProofsGenerated, did, summarize(bundle)))
	}

	return bundle, nil
}

// uniqueChains keeps the first configuration of each chain symbol.
func uniqueChains(chains []ChainConfig) []ChainConfig {
	seen := make(map[string]struct{}, len(chains))
	out := make([]ChainConfig, 0, len(chains))

	for _, cfg := range chains {
		symbol := strings.ToUpper(cfg.Symbol)
		if _, dup := seen[symbol]; dup {
			logger.Warnf("chain %s configured more than once, ignoring asset %s", symbol, cfg.AssetID)

			continue
		}

		seen[symbol] = struct{}{}
		out = append(out, cfg)
	}

	return out
}

// collectChain returns an error only when the context is done.
func (c *Collector) collectChain(ctx context.Context, cfg ChainConfig, address, message string) (chainResult,
	error) {
	symbol := strings.ToUpper(cfg.Symbol)

	if address == "" || cfg.AssetID == "" {
		reason := "no wallet address"
		if cfg.AssetID == "" {
			reason = "no custodial asset configured"
		}

		logger.Infof("skipping %s: %s", symbol, reason)
		c.metrics.ProofOutcome(symbol, metrics.OutcomeSkipped)

		return chainResult{skipped: &ChainFailure{Chain: symbol, Address: address, Kind: "Skipped", Reason: reason}}, nil
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = DefaultScheme(symbol)
	}

	sig, err := c.sign(ctx, symbol, cfg.AssetID, scheme, message)

	var failure *ChainFailure

	var terminal *terminalError

	if err != nil && errors.As(err, &terminal) {
		failure = &ChainFailure{Chain: symbol, Address: address, Kind: kindOf(err), Reason: err.Error()}

		fallback := alternate(scheme)

		logger.Warnf("%s %s signing ended with %s, retrying with %s", symbol, scheme, terminal.status, fallback)

		scheme = fallback
		sig, err = c.sign(ctx, symbol, cfg.AssetID, scheme, message)
	}

	if ctx.Err() != nil {
		return chainResult{}, ctx.Err()
	}

	if err != nil {
		c.metrics.ProofOutcome(symbol, metrics.OutcomeFailure)

		if failure != nil {
			failure.FallbackReason = err.Error()

			return chainResult{failure: failure}, nil
		}

		logger.Warnf("%s wallet proof failed : %s", symbol, err)

		return chainResult{failure: &ChainFailure{
			Chain: symbol, Address: address, Kind: kindOf(err), Reason: err.Error(),
		}}, nil
	}

	c.metrics.ProofOutcome(symbol, metrics.OutcomeSuccess)

	return chainResult{proof: &vc.WalletProof{
		Chain:         symbol,
		Address:       address,
		Message:       message,
		Signature:     sig,
		SigningScheme: scheme,
	}}, nil
}

type terminalError struct {
	jobID  string
	status string
	detail string
}

func (e *terminalError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("signing job %s ended with status %s (%s)", e.jobID, e.status, e.detail)
	}

	return fmt.Sprintf("signing job %s ended with status %s", e.jobID, e.status)
}

func (c *Collector) sign(ctx context.Context, symbol, assetID, scheme, message string) (string, error) {
	jobID, err := c.service.SubmitSigningJob(ctx, &custody.Job{
		AssetID:   assetID,
		VaultID:   c.vaultID,
		Operation: operation(scheme),
		Payload:   Payload(symbol, scheme, message),
		Note:      message,
	})
	if err != nil {
		return "", err
	}

	var completed *custody.JobStatus

	poll := func() error {
		status, err := c.service.GetJobStatus(ctx, jobID)
		if err != nil {
			logger.Debugf("%s job %s status query failed : %s", symbol, jobID, err)

			return err
		}

		switch {
		case status.Status == custody.StatusCompleted:
			completed = status

			return nil
		case custody.IsTerminalFailure(status.Status):
			return backoff.Permanent(&terminalError{jobID: jobID, status: status.Status, detail: status.SubStatus})
		default:
			return errJobPending
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.pollInterval), uint64(c.maxAttempts-1)), ctx)

	if err := backoff.Retry(poll, b); err != nil {
		var terminal *terminalError
		if errors.As(err, &terminal) || ctx.Err() != nil {
			return "", err
		}

		return "", anchorerr.SigningTimeout(symbol, c.maxAttempts)
	}

	return extractSignature(scheme, completed)
}

func lookupWallet(wallets map[string]string, symbol string) string {
	for k, v := range wallets {
		if strings.EqualFold(k, symbol) {
			return strings.TrimSpace(v)
		}
	}

	return ""
}

func kindOf(err error) string {
	if e, ok := anchorerr.As(err); ok {
		return e.Kind.String()
	}

	var terminal *terminalError
	if errors.As(err, &terminal) {
		return terminal.status
	}

	return anchorerr.KindRemoteService.String()
}

func summarize(b *Bundle) string {
	var parts []string

	for _, f := range append(append([]ChainFailure(nil), b.Failures...), b.Skipped...) {
		parts = append(parts, f.Chain+": "+f.Reason)
	}

	if len(parts) == 0 {
		return "no chains configured"
	}

	return strings.Join(parts, "; ")
}
