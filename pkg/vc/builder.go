/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vc

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/crypto"
)

// BuildRequest carries the verified identity data a credential is assembled from.
type BuildRequest struct {
	SubjectDID      string            `json:"did"`
	Wallets         map[string]string `json:"wallets"`
	MetadataPointer string            `json:"metadataPointer"`
	ImagePointer    string            `json:"imagePointer"`
	Attributes      Attributes        `json:"attributes"`
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the issuance clock.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithIssuerName sets the issuer display name.
func WithIssuerName(name string) BuilderOption {
	return func(b *Builder) {
		b.issuerName = name
	}
}

// Builder assembles unsigned credentials.
type Builder struct {
	issuerDID    string
	issuerName   string
	primaryChain string
	now          func() time.Time
}

// NewBuilder returns a credential builder for the given issuer and primary chain.
func NewBuilder(issuerDID, primaryChain string, opts ...BuilderOption) *Builder {
	b := &Builder{
		issuerDID:    issuerDID,
		primaryChain: strings.ToUpper(primaryChain),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build assembles an unsigned credential. It has no side effects.
func (b *Builder) Build(req *BuildRequest) (*Credential, error) {
	if req == nil || req.SubjectDID == "" {
		return nil, anchorerr.Missing("subject DID")
	}

	if _, err := crypto.ParseDID(req.SubjectDID); err != nil {
		return nil, anchorerr.Validation(err)
	}

	if b.issuerDID == "" {
		return nil, anchorerr.Missing("issuer DID")
	}

	chains := normalizeWallets(req.Wallets)

	primary := chains[b.primaryChain]
	if primary == "" {
		return nil, anchorerr.Missing("primary wallet (" + b.primaryChain + ")")
	}

	if req.MetadataPointer == "" {
		return nil, anchorerr.Missing("metadata pointer")
	}

	if req.ImagePointer == "" {
		return nil, anchorerr.Missing("image pointer")
	}

	issued := b.now().UTC().Truncate(time.Second)

	var attrs Attributes

	if len(req.Attributes) > 0 {
		attrs = make(Attributes, len(req.Attributes))
		for k, v := range req.Attributes {
			attrs[k] = v
		}
	}

	return &Credential{
		Context: []string{VerifiableCredentialContext},
		ID:      uuid.New().URN(),
		Types:   []string{VerifiableCredential, KYCCredentialType},
		Issuer: Issuer{
			ID:   b.issuerDID,
			Name: b.issuerName,
		},
		IssuanceDate:   issued,
		ExpirationDate: issued.Add(ValidityPeriod),
		Subject: CredentialSubject{
			ID: req.SubjectDID,
			WalletAddresses: WalletAddresses{
				Primary:      primary,
				PrimaryChain: b.primaryChain,
				Chains:       chains,
			},
			MetadataPointer: req.MetadataPointer,
			ImagePointer:    req.ImagePointer,
			Attributes:      attrs,
		},
	}, nil
}

func normalizeWallets(wallets map[string]string) map[string]string {
	out := make(map[string]string, len(wallets))

	for chain, addr := range wallets {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		out[strings.ToUpper(chain)] = addr
	}

	return out
}
