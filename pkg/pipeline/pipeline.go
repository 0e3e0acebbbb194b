/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline runs the credential issuance stages for one subject and persists every stage
// output in the artifact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/chain"
	"github.com/trustbloc/vc-anchor/pkg/metrics"
	"github.com/trustbloc/vc-anchor/pkg/proof"
	didregistrar "github.com/trustbloc/vc-anchor/pkg/registrar/did"
	"github.com/trustbloc/vc-anchor/pkg/registrar/sbt"
	"github.com/trustbloc/vc-anchor/pkg/vc"
	"github.com/trustbloc/vc-anchor/pkg/vc/signer"
	"github.com/trustbloc/vc-anchor/pkg/verifier"
)

var logger = log.New("vc-anchor/pipeline")

// Stage names.
const (
	StagePublishMetadata = "publish_metadata"
	StageBuild           = "build"
	StageSign            = "sign"
	StagePublish         = "publish"
	StageCollectProofs   = "collect_proofs"
	StageRegisterDID     = "register_did"
	StageIssueSBT        = "issue_sbt"
	StageVerify          = "verify"
	StageReconcile       = "reconcile"
)

const metadataName = "KYC Verified Identity"

// Publisher pins documents to content-addressed storage.
type Publisher interface {
	Publish(ctx context.Context, cred *vc.Credential, name string) (*vc.ContentAddress, error)
	PublishJSON(ctx context.Context, doc interface{}, name string,
		keyValues map[string]string) (*vc.ContentAddress, error)
}

// ProofCollector gathers wallet ownership proofs.
type ProofCollector interface {
	Collect(ctx context.Context, did string, wallets map[string]string,
		chains []proof.ChainConfig) (*proof.Bundle, error)
}

// DIDRegistrar anchors DIDs on chain.
type DIDRegistrar interface {
	Register(ctx context.Context, did string, metadata *vc.ContentAddress,
		proofs []vc.WalletProof) (*didregistrar.Result, error)
	Recover(ctx context.Context, did string) (*didregistrar.Result, error)
}

// SBTRegistrar binds credential digests to soulbound tokens.
type SBTRegistrar interface {
	Issue(ctx context.Context, req *sbt.IssueRequest) (*sbt.Result, error)
	Recover(ctx context.Context, subject string) (*sbt.Result, error)
}

// Verifier checks off-chain artifacts against chain state.
type Verifier interface {
	Verify(ctx context.Context, in *verifier.Input) (*verifier.Report, error)
}

// Config holds every stage setting and collaborator. It is copied by New and never changed
// afterwards.
type Config struct {
	IssuerDID    string
	IssuerName   string
	PrimaryChain string
	Chains       []proof.ChainConfig

	Store        artifact.Store
	Signer       signer.Signer
	Publisher    Publisher
	Collector    ProofCollector
	DIDRegistrar DIDRegistrar
	SBTRegistrar SBTRegistrar
	Verifier     Verifier
	Metrics      *metrics.Metrics
}

// Application is the verified applicant handed over by the identity verification provider.
type Application struct {
	DID          string            `json:"did"`
	Wallets      map[string]string `json:"wallets"`
	ImagePointer string            `json:"imagePointer"`
	Attributes   vc.Attributes     `json:"attributes,omitempty"`
}

// WalletMetadata is the public document the credential's metadata pointer refers to.
type WalletMetadata struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Image        string            `json:"image"`
	DID          string            `json:"did"`
	PrimaryChain string            `json:"primaryChain"`
	Wallets      map[string]string `json:"wallets"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Publication is the metadata artifact: where the subject's documents were pinned.
type Publication struct {
	Metadata   *vc.ContentAddress `json:"metadata"`
	Credential *vc.ContentAddress `json:"credential,omitempty"`
}

// Result of a pipeline run.
type Result struct {
	Subject     string               `json:"subject"`
	Publication *Publication         `json:"publication,omitempty"`
	Credential  *vc.Credential       `json:"credential,omitempty"`
	Proofs      *proof.Bundle        `json:"proofs,omitempty"`
	DID         *didregistrar.Result `json:"didRegistration,omitempty"`
	SBT         *sbt.Result          `json:"sbt,omitempty"`
	Report      *verifier.Report     `json:"verification,omitempty"`
	Pending     bool                 `json:"pending"`
}

// ReconcileResult reports which pending transactions settled.
type ReconcileResult struct {
	Subject string               `json:"subject"`
	DID     *didregistrar.Result `json:"didRegistration,omitempty"`
	SBT     *sbt.Result          `json:"sbt,omitempty"`
	Report  *verifier.Report     `json:"verification,omitempty"`
	Pending bool                 `json:"pending"`
}

// Pipeline executes the issuance stages.
type Pipeline struct {
	cfg     Config
	builder *vc.Builder
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New validates cfg and returns a pipeline.
func New(cfg *Config, opts ...vc.BuilderOption) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config is required")
	}

	c := *cfg
	c.Chains = append([]proof.ChainConfig(nil), cfg.Chains...)
	c.PrimaryChain = strings.ToUpper(c.PrimaryChain)

	switch {
	case c.IssuerDID == "":
		return nil, anchorerr.Missing("issuer DID")
	case c.PrimaryChain == "":
		return nil, anchorerr.Missing("primary chain")
	case c.Store == nil:
		return nil, errors.New("artifact store is required")
	case c.Signer == nil, c.Publisher == nil, c.Collector == nil,
		c.DIDRegistrar == nil, c.SBTRegistrar == nil, c.Verifier == nil:
		return nil, errors.New("every pipeline collaborator is required")
	}

	builderOpts := append([]vc.BuilderOption{vc.WithIssuerName(c.IssuerName)}, opts...)

	return &Pipeline{
		cfg:     c,
		builder: vc.NewBuilder(c.IssuerDID, c.PrimaryChain, builderOpts...),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Store returns the artifact store stage outputs are written to.
func (p *Pipeline) Store() artifact.Store {
	return p.cfg.Store
}

// Run executes every stage for the application. A transaction still awaiting confirmation stops
// the run without error; Reconcile settles it later.
// nolint:funlen,gocyclo
func (p *Pipeline) Run(ctx context.Context, app *Application) (*Result, error) {
	if app == nil || app.DID == "" {
		return nil, anchorerr.Missing("subject DID")
	}

	unlock := p.lock(app.DID)
	defer unlock()

	res := &Result{Subject: app.DID}

	metadata, err := p.PublishMetadata(ctx, app)
	if err != nil {
		return res, err
	}

	res.Publication = &Publication{Metadata: metadata}

	if _, err = p.Build(ctx, app); err != nil {
		return res, err
	}

	if res.Credential, err = p.Sign(ctx, app.DID); err != nil {
		return res, err
	}

	if res.Publication, err = p.Publish(ctx, app.DID); err != nil {
		return res, err
	}

	if res.Proofs, err = p.CollectProofs(ctx, app.DID); err != nil {
		return res, err
	}

	if res.DID, err = p.RegisterDID(ctx, app.DID); err != nil {
		return res, err
	}

	if res.SBT, err = p.IssueSBT(ctx, app.DID); err != nil {
		return res, err
	}

	res.Pending = res.DID.Pending || res.SBT.Pending

	if res.SBT.Pending {
		logger.Infof("%s awaiting %s confirmation of %s, verification deferred", app.DID, res.SBT.Purpose,
			res.SBT.TxHash)

		return res, nil
	}

	res.Report, err = p.Verify(ctx, app.DID)

	return res, err
}

// PublishMetadata pins the wallet metadata document and stores its address.
func (p *Pipeline) PublishMetadata(ctx context.Context, app *Application) (*vc.ContentAddress, error) {
	var addr *vc.ContentAddress

	err := p.stage(StagePublishMetadata, func() error {
		if app == nil || app.DID == "" {
			return anchorerr.Missing("subject DID")
		}

		wallets := make(map[string]string, len(app.Wallets))
		for chain, address := range app.Wallets {
			wallets[strings.ToUpper(chain)] = address
		}

		doc := &WalletMetadata{
			Name:         metadataName,
			Description:  "Wallets bound to " + app.DID,
			Image:        app.ImagePointer,
			DID:          app.DID,
			PrimaryChain: p.cfg.PrimaryChain,
			Wallets:      wallets,
			CreatedAt:    p.now().UTC().Truncate(time.Second),
		}

		var err error

		addr, err = p.cfg.Publisher.PublishJSON(ctx, doc, "metadata-"+app.DID, map[string]string{"did": app.DID})
		if err != nil {
			return err
		}

		return p.cfg.Store.Put(ctx, app.DID, artifact.Metadata, &Publication{Metadata: addr})
	})

	return addr, err
}

// Build assembles the unsigned credential from the application and the stored metadata address.
func (p *Pipeline) Build(ctx context.Context, app *Application) (*vc.Credential, error) {
	var cred *vc.Credential

	err := p.stage(StageBuild, func() error {
		if app == nil || app.DID == "" {
			return anchorerr.Missing("subject DID")
		}

		pub, err := p.publication(ctx, app.DID)
		if err != nil {
			return err
		}

		cred, err = p.builder.Build(&vc.BuildRequest{
			SubjectDID:      app.DID,
			Wallets:         app.Wallets,
			MetadataPointer: pub.Metadata.URI(),
			ImagePointer:    app.ImagePointer,
			Attributes:      app.Attributes,
		})
		if err != nil {
			return err
		}

		return p.cfg.Store.Put(ctx, app.DID, artifact.UnsignedVC, cred)
	})

	return cred, err
}

// Sign adds a proof to the stored unsigned credential.
func (p *Pipeline) Sign(ctx context.Context, subject string) (*vc.Credential, error) {
	var signed *vc.Credential

	err := p.stage(StageSign, func() error {
		unsigned := &vc.Credential{}

		if err := p.load(ctx, subject, artifact.UnsignedVC, unsigned); err != nil {
			return err
		}

		var err error

		signed, err = signer.Sign(ctx, p.cfg.Signer, unsigned)
		if err != nil {
			return err
		}

		return p.cfg.Store.Put(ctx, subject, artifact.SignedVC, signed)
	})

	return signed, err
}

// Publish pins the signed credential and records its address next to the metadata address.
func (p *Pipeline) Publish(ctx context.Context, subject string) (*Publication, error) {
	var pub *Publication

	err := p.stage(StagePublish, func() error {
		cred, err := p.signedCredential(ctx, subject)
		if err != nil {
			return err
		}

		pub, err = p.publication(ctx, subject)
		if err != nil {
			return err
		}

		pub.Credential, err = p.cfg.Publisher.Publish(ctx, cred, "vc-"+subject)
		if err != nil {
			return err
		}

		return p.cfg.Store.Put(ctx, subject, artifact.Metadata, pub)
	})

	return pub, err
}

// CollectProofs gathers wallet proofs for every configured chain. The bundle is stored even when
// no chain produced a proof so the failures can be inspected.
func (p *Pipeline) CollectProofs(ctx context.Context, subject string) (*proof.Bundle, error) {
	var bundle *proof.Bundle

	err := p.stage(StageCollectProofs, func() error {
		cred, err := p.signedCredential(ctx, subject)
		if err != nil {
			return err
		}

		bundle, err = p.cfg.Collector.Collect(ctx, subject, cred.Subject.WalletAddresses.Chains, p.cfg.Chains)
		if bundle == nil {
			return err
		}

		if putErr := p.cfg.Store.Put(ctx, subject, artifact.ProofBundle, bundle); putErr != nil {
			return putErr
		}

		return err
	})

	return bundle, err
}

// RegisterDID anchors the subject DID with the stored proof bundle.
func (p *Pipeline) RegisterDID(ctx context.Context, subject string) (*didregistrar.Result, error) {
	var res *didregistrar.Result

	err := p.stage(StageRegisterDID, func() error {
		pub, err := p.publication(ctx, subject)
		if err != nil {
			return err
		}

		bundle := &proof.Bundle{}

		if err = p.load(ctx, subject, artifact.ProofBundle, bundle); err != nil {
			return err
		}

		res, err = p.cfg.DIDRegistrar.Register(ctx, subject, pub.Metadata, bundle.Proofs)
		if err != nil {
			return err
		}

		if res.Pending {
			p.cfg.Metrics.PendingTxAdded(string(chain.PurposeRegister))
		}

		return p.cfg.Store.Put(ctx, subject, artifact.DIDRegistration, res)
	})

	return res, err
}

// IssueSBT binds the signed credential digest to the primary wallet's soulbound token.
func (p *Pipeline) IssueSBT(ctx context.Context, subject string) (*sbt.Result, error) {
	var res *sbt.Result

	err := p.stage(StageIssueSBT, func() error {
		cred, err := p.signedCredential(ctx, subject)
		if err != nil {
			return err
		}

		pub, err := p.publication(ctx, subject)
		if err != nil {
			return err
		}

		if pub.Credential == nil {
			return anchorerr.Missing("published credential address")
		}

		digest, err := cred.Digest()
		if err != nil {
			return anchorerr.Validation(err)
		}

		res, err = p.cfg.SBTRegistrar.Issue(ctx, &sbt.IssueRequest{
			Owner:       cred.PrimaryWallet(),
			DID:         subject,
			MetadataURI: pub.Credential.URI(),
			VCHash:      digest,
		})
		if err != nil {
			return err
		}

		if res.Pending {
			p.cfg.Metrics.PendingTxAdded(string(res.Purpose))
		}

		return p.cfg.Store.Put(ctx, subject, artifact.SBTRecord, res)
	})

	return res, err
}

// Verify checks the stored signed credential against chain state and stores the report. A report
// with failed checks is returned together with a ConsistencyMismatch error.
func (p *Pipeline) Verify(ctx context.Context, subject string) (*verifier.Report, error) {
	var report *verifier.Report

	err := p.stage(StageVerify, func() error {
		cred, err := p.signedCredential(ctx, subject)
		if err != nil {
			return err
		}

		in := &verifier.Input{Credential: cred}

		pub, err := p.publication(ctx, subject)
		if err == nil && pub.Credential != nil {
			in.ContentID = pub.Credential.CID
		}

		report, err = p.cfg.Verifier.Verify(ctx, in)
		if err != nil {
			return err
		}

		if err = p.cfg.Store.Put(ctx, subject, artifact.VerificationReport, report); err != nil {
			return err
		}

		if !report.OK() {
			failed := report.Failed()
			checks := make([]string, 0, len(failed))

			for _, f := range failed {
				checks = append(checks, f.Check)
			}

			return anchorerr.Mismatch("%s failed checks: %s", subject, strings.Join(checks, ", "))
		}

		return nil
	})

	return report, err
}

// Reconcile settles the subject's pending transactions and verifies the credential once its
// token transaction confirmed.
func (p *Pipeline) Reconcile(ctx context.Context, subject string) (*ReconcileResult, error) {
	if subject == "" {
		return nil, anchorerr.Missing("subject DID")
	}

	unlock := p.lock(subject)
	defer unlock()

	res := &ReconcileResult{Subject: subject}

	err := p.stage(StageReconcile, func() error {
		return errors.Join(p.reconcileDID(ctx, res), p.reconcileSBT(ctx, res))
	})
	if err != nil {
		return res, err
	}

	if res.SBT != nil && !res.SBT.Pending {
		res.Report, err = p.Verify(ctx, subject)
	}

	return res, err
}

func (p *Pipeline) reconcileDID(ctx context.Context, res *ReconcileResult) error {
	var err error

	res.DID, err = p.cfg.DIDRegistrar.Recover(ctx, res.Subject)
	if err != nil {
		p.resolved(chain.PurposeRegister, err)

		return err
	}

	if res.DID == nil {
		return nil
	}

	if res.DID.Pending {
		res.Pending = true

		return nil
	}

	p.cfg.Metrics.PendingTxResolved(string(chain.PurposeRegister))

	return p.cfg.Store.Put(ctx, res.Subject, artifact.DIDRegistration, res.DID)
}

func (p *Pipeline) reconcileSBT(ctx context.Context, res *ReconcileResult) error {
	var err error

	res.SBT, err = p.cfg.SBTRegistrar.Recover(ctx, res.Subject)
	if err != nil {
		p.resolved(chain.PurposeMint, err)

		return err
	}

	if res.SBT == nil {
		return nil
	}

	if res.SBT.Pending {
		res.Pending = true

		return nil
	}

	p.cfg.Metrics.PendingTxResolved(string(res.SBT.Purpose))

	return p.cfg.Store.Put(ctx, res.Subject, artifact.SBTRecord, res.SBT)
}

func (p *Pipeline) resolved(purpose chain.Purpose, err error) {
	if anchorerr.Is(err, anchorerr.KindTransactionReverted) {
		p.cfg.Metrics.PendingTxResolved(string(purpose))
	}
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()

	err := fn()

	p.cfg.Metrics.StageCompleted(name, time.Since(start), err)

	if err != nil {
		logger.Errorf("stage %s failed : %s", name, err)

		return anchorerr.WithStage(err, name)
	}

	logger.Debugf("stage %s completed in %s", name, time.Since(start))

	return nil
}

func (p *Pipeline) lock(subject string) func() {
	p.mu.Lock()

	l, ok := p.locks[subject]
	if !ok {
		l = &sync.Mutex{}
		p.locks[subject] = l
	}

	p.mu.Unlock()

	l.Lock()

	return l.Unlock
}

func (p *Pipeline) load(ctx context.Context, subject string, name artifact.Name, v interface{}) error {
	if subject == "" {
		return anchorerr.Missing("subject DID")
	}

	err := p.cfg.Store.Get(ctx, subject, name, v)
	if errors.Is(err, artifact.ErrNotFound) {
		return anchorerr.Validation(fmt.Errorf("%w: %s artifact for %s", anchorerr.ErrMissingRequiredField,
			name, subject))
	}

	return err
}

func (p *Pipeline) publication(ctx context.Context, subject string) (*Publication, error) {
	pub := &Publication{}

	if err := p.load(ctx, subject, artifact.Metadata, pub); err != nil {
		return nil, err
	}

	if pub.Metadata == nil {
		return nil, anchorerr.Missing("metadata address")
	}

	return pub, nil
}

func (p *Pipeline) signedCredential(ctx context.Context, subject string) (*vc.Credential, error) {
	cred := &vc.Credential{}

	if err := p.load(ctx, subject, artifact.SignedVC, cred); err != nil {
		return nil, err
	}

	if !cred.IsSigned() {
		return nil, anchorerr.Validation(fmt.Errorf("%w: stored credential for %s is unsigned",
			anchorerr.ErrInvalidProofStructure, subject))
	}

	return cred, nil
}
