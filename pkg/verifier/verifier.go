/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package verifier cross-checks a credential against its on-chain anchors without changing any state.
package verifier

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/metrics"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

var logger = log.New("vc-anchor/verifier")

// Severity of a failed check.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Check names.
const (
	CheckToken          = "token"
	CheckVCHash         = "vc_hash"
	CheckOwner          = "owner"
	CheckSoulbound      = "soulbound"
	CheckConsistency    = "consistency"
	CheckContent        = "content"
	CheckDIDRecord      = "did_registration"
	CheckWalletVerified = "wallet_verified"
)

// nolint:gochecknoglobals
var probeRecipient = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Finding is the result of one check.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Detail   string   `json:"detail,omitempty"`
}

// Report lists every check performed for a subject.
type Report struct {
	Subject   string           `json:"subject"`
	Owner     string           `json:"owner"`
	TokenID   string           `json:"tokenId,omitempty"`
	Digest    canonical.Digest `json:"digest"`
	Findings  []Finding        `json:"findings"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// OK reports whether every warning and critical check passed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failed warning and critical findings.
func (r *Report) Failed() []Finding {
	var failed []Finding

	for _, f := range r.Findings {
		if !f.Passed && f.Severity != SeverityInfo {
			failed = append(failed, f)
		}
	}

	return failed
}

// Critical reports whether a critical check failed.
func (r *Report) Critical() bool {
	for _, f := range r.Findings {
		if !f.Passed && f.Severity == SeverityCritical {
			return true
		}
	}

	return false
}

func (r *Report) add(check string, severity Severity, passed bool, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{
		Check:    check,
		Severity: severity,
		Passed:   passed,
		Detail:   fmt.Sprintf(format, args...),
	})
}

// Fetcher reads published content.
type Fetcher interface {
	Fetch(ctx context.Context, contentID string) ([]byte, error)
}

// Input to a verification.
type Input struct {
	Credential *vc.Credential
	// ContentID of the published credential; the content check is skipped when empty.
	ContentID string
	// Owner overrides the credential's primary wallet.
	Owner string
}

// Option configures the verifier.
type Option func(*Verifier)

// WithDIDRegistry adds the DID registration checks.
func WithDIDRegistry(r *chain.DIDRegistry) Option {
	return func(v *Verifier) {
		v.didRegistry = r
	}
}

// WithFetcher adds the published content check.
func WithFetcher(f Fetcher) Option {
	return func(v *Verifier) {
		v.fetcher = f
	}
}

// WithMetrics records findings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// Verifier checks anchored credentials.
type Verifier struct {
	sbt         *chain.SBTRegistry
	didRegistry *chain.DIDRegistry
	fetcher     Fetcher
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New returns a verifier reading the token contract.
func New(sbt *chain.SBTRegistry, opts ...Option) *Verifier {
	v := &Verifier{sbt: sbt, now: time.Now}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Verify runs every check. Failed checks are reported as findings; an error means the checks
// could not be performed.
func (v *Verifier) Verify(ctx context.Context, in *Input) (*Report, error) {
	if in == nil || in.Credential == nil {
		return nil, anchorerr.Missing("credential")
	}

	cred := in.Credential

	owner := in.Owner
	if owner == "" {
		owner = cred.PrimaryWallet()
	}

	if !common.IsHexAddress(owner) {
		return nil, anchorerr.Validation(fmt.Errorf("invalid owner address %q", owner))
	}

	digest, err := cred.Digest()
	if err != nil {
		return nil, anchorerr.Validation(err)
	}

	report := &Report{
		Subject:   cred.SubjectIdentifier(),
		Owner:     common.HexToAddress(owner).Hex(),
		Digest:    digest,
		CheckedAt: v.now().UTC(),
	}

	if err := v.checkToken(ctx, report, common.HexToAddress(owner)); err != nil {
		return nil, err
	}

	if err := v.checkContent(ctx, report, in.ContentID); err != nil {
		return nil, err
	}

	if err := v.checkDID(ctx, report, cred); err != nil {
		return nil, err
	}

	for _, f := range report.Findings {
		v.metrics.VerifierFinding(f.Check, string(f.Severity), f.Passed)
	}

	if report.OK() {
		logger.Infof("%s verified against token %s", report.Subject, report.TokenID)
	} else {
		logger.Warnf("%s verification found %d failed checks", report.Subject, len(report.Failed()))
	}

	return report, nil
}

// nolint:funlen
func (v *Verifier) checkToken(ctx context.Context, report *Report, owner common.Address) error {
	tokenID, err := v.sbt.HolderToken(ctx, owner)
	if err != nil {
		return err
	}

	if tokenID.Sign() == 0 {
		report.add(CheckToken, SeverityCritical, false, "%s holds no token", owner.Hex())

		return nil
	}

	report.TokenID = tokenID.String()
	report.add(CheckToken, SeverityCritical, true, "token %s", tokenID)

	latest, err := v.sbt.LatestVC(ctx, tokenID)
	if err != nil {
		return err
	}

	history, err := v.sbt.AllVCHashes(ctx, tokenID)
	if err != nil {
		return err
	}

	switch {
	case latest == report.Digest:
		report.add(CheckVCHash, SeverityCritical, true, "latest anchored digest matches %s", report.Digest)
	case contains(history, report.Digest):
		report.add(CheckVCHash, SeverityWarning, false, "credential %s was superseded by %s", report.Digest, latest)
	default:
		report.add(CheckVCHash, SeverityCritical, false, "local digest %s does not match anchored %s",
			report.Digest, latest)
	}

	tokenOwner, err := v.sbt.OwnerOf(ctx, tokenID)
	if err != nil {
		return err
	}

	report.add(CheckOwner, SeverityCritical, tokenOwner == owner, "token owner %s, expected %s",
		tokenOwner.Hex(), owner.Hex())

	if _, err := v.sbt.EstimateTransfer(ctx, owner, probeRecipient, tokenID); err != nil {
		report.add(CheckSoulbound, SeverityCritical, true, "transfer rejected: %s", err)
	} else {
		report.add(CheckSoulbound, SeverityCritical, false, "token %s is transferable", tokenID)
	}

	tokenDID, err := v.sbt.TokenDID(ctx, tokenID)
	if err != nil {
		return err
	}

	v.checkConsistency(report, tokenID, tokenDID, latest, history)

	return nil
}

func (v *Verifier) checkConsistency(report *Report, tokenID *big.Int, tokenDID string, latest canonical.Digest,
	history []canonical.Digest) {
	var problems []string

	if tokenDID != report.Subject {
		problems = append(problems, fmt.Sprintf("token DID %s differs from subject", tokenDID))
	}

	if len(history) == 0 || history[len(history)-1] != latest {
		problems = append(problems, "latest digest is not the last registered digest")
	}

	if len(problems) == 0 {
		report.add(CheckConsistency, SeverityCritical, true, "token %s, %d registered credentials", tokenID,
			len(history))

		return
	}

	sort.Strings(problems)
	report.add(CheckConsistency, SeverityCritical, false, "%v", problems)
}

func (v *Verifier) checkContent(ctx context.Context, report *Report, contentID string) error {
	if contentID == "" || v.fetcher == nil {
		return nil
	}

	doc, err := v.fetcher.Fetch(ctx, contentID)
	if anchorerr.Is(err, anchorerr.KindValidation) {
		return err
	}

	if err != nil {
		report.add(CheckContent, SeverityWarning, false, "content %s unavailable: %s", contentID, err)

		return nil
	}

	digest, err := canonical.Hash(doc)
	if err != nil {
		report.add(CheckContent, SeverityCritical, false, "content %s is not valid json: %s", contentID, err)

		return nil
	}

	report.add(CheckContent, SeverityCritical, digest == report.Digest, "published digest %s", digest)

	return nil
}

func (v *Verifier) checkDID(ctx context.Context, report *Report, cred *vc.Credential) error {
	if v.didRegistry == nil {
		return nil
	}

	record, err := v.didRegistry.GetDIDRecord(ctx, report.Subject)
	if err != nil {
		return err
	}

	if !record.Active {
		report.add(CheckDIDRecord, SeverityWarning, false, "%s is not registered", report.Subject)

		return nil
	}

	report.add(CheckDIDRecord, SeverityWarning, true, "registered by %s", record.Owner)

	chains := make([]string, 0, len(cred.Subject.WalletAddresses.Chains))
	for c := range cred.Subject.WalletAddresses.Chains {
		chains = append(chains, c)
	}

	sort.Strings(chains)

	for _, c := range chains {
		wallet := cred.Subject.WalletAddresses.Chains[c]

		ok, err := v.didRegistry.IsWalletVerified(ctx, report.Subject, c, wallet)
		if err != nil {
			return err
		}

		report.add(CheckWalletVerified, SeverityInfo, ok, "%s wallet %s", c, wallet)
	}

	return nil
}

func contains(hashes []canonical.Digest, d canonical.Digest) bool {
	for _, h := range hashes {
		if h == d {
			return true
		}
	}

	return false
}
