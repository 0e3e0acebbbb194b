/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/crypto"
)

const (
	// VerifiableCredential vc type.
	VerifiableCredential = "VerifiableCredential"

	// KYCCredentialType type of the identity verification credential.
	KYCCredentialType = "KYCVerifiedCredential"

	// VerifiableCredentialContext vc base context.
	VerifiableCredentialContext = "https://www.w3.org/2018/credentials/v1"

	// AssertionMethod the only proof purpose issued credentials carry.
	AssertionMethod = "assertionMethod"

	// ValidityPeriod credential lifetime.
	ValidityPeriod = 365 * 24 * time.Hour

	proofMessagePrefix = "DID Ownership Proof for: "
)

// Signing schemes supported by the custodial signer.
const (
	SchemeTypedMessage = "typed-message"
	SchemeRawDigest    = "raw-digest"
)

// Issuer of the credential.
type Issuer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// WalletAddresses holds the subject wallets keyed by chain symbol.
type WalletAddresses struct {
	Primary      string            `json:"primary"`
	PrimaryChain string            `json:"primaryChain"`
	Chains       map[string]string `json:"chains,omitempty"`
}

// Attributes identity verification attributes, passed through untouched.
type Attributes map[string]string

// CredentialSubject subject of the KYC credential.
type CredentialSubject struct {
	ID              string          `json:"id"`
	WalletAddresses WalletAddresses `json:"walletAddresses"`
	MetadataPointer string          `json:"metadataPointer"`
	ImagePointer    string          `json:"imagePointer"`
	Attributes      Attributes      `json:"kyc,omitempty"`
}

// Proof linked data proof over the canonical credential.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue,omitempty"`
	JWS                string `json:"jws,omitempty"`
}

// Validate checks that every mandatory proof field is present.
func (p *Proof) Validate() error {
	if p == nil {
		return anchorerr.Validation(fmt.Errorf("%w: proof is absent", anchorerr.ErrInvalidProofStructure))
	}

	missing := func(field string) error {
		return anchorerr.Validation(fmt.Errorf("%w: %s is missing", anchorerr.ErrInvalidProofStructure, field))
	}

	switch {
	case p.Type == "":
		return missing("type")
	case p.Created == "":
		return missing("created")
	case p.VerificationMethod == "":
		return missing("verificationMethod")
	case p.ProofPurpose == "":
		return missing("proofPurpose")
	case p.ProofValue == "" && p.JWS == "":
		return missing("signature value")
	}

	if p.ProofPurpose != AssertionMethod {
		return anchorerr.Validation(fmt.Errorf("%w: unexpected proofPurpose %s",
			anchorerr.ErrInvalidProofStructure, p.ProofPurpose))
	}

	if _, err := crypto.GetDIDFromVerificationMethod(p.VerificationMethod); err != nil {
		return anchorerr.Validation(fmt.Errorf("%w: %s", anchorerr.ErrInvalidProofStructure, err))
	}

	return nil
}

// Credential is the KYC verifiable credential.
type Credential struct {
	Context        []string          `json:"@context"`
	ID             string            `json:"id"`
	Types          []string          `json:"type"`
	Issuer         Issuer            `json:"issuer"`
	IssuanceDate   time.Time         `json:"issuanceDate"`
	ExpirationDate time.Time         `json:"expirationDate"`
	Subject        CredentialSubject `json:"credentialSubject"`
	Proof          *Proof            `json:"proof,omitempty"`

	// CustomFields keeps top-level members added by a remote signing service.
	CustomFields map[string]interface{} `json:"-"`
}

type credentialAlias Credential

// nolint:gochecknoglobals
var knownCredentialFields = map[string]struct{}{
	"@context": {}, "id": {}, "type": {}, "issuer": {}, "issuanceDate": {},
	"expirationDate": {}, "credentialSubject": {}, "proof": {},
}

// MarshalJSON encodes the credential together with its custom fields.
func (c Credential) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(credentialAlias(c))
	if err != nil {
		return nil, err
	}

	if len(c.CustomFields) == 0 {
		return base, nil
	}

	doc := make(map[string]interface{})

	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}

	for k, v := range c.CustomFields {
		if _, ok := knownCredentialFields[k]; !ok {
			doc[k] = v
		}
	}

	return json.Marshal(doc)
}

// UnmarshalJSON decodes the credential, collecting unknown members into CustomFields.
func (c *Credential) UnmarshalJSON(b []byte) error {
	var alias credentialAlias

	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	var doc map[string]interface{}

	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	for k := range knownCredentialFields {
		delete(doc, k)
	}

	*c = Credential(alias)

	if len(doc) > 0 {
		c.CustomFields = doc
	}

	return nil
}

// SubjectIdentifier returns the subject DID.
func (c *Credential) SubjectIdentifier() string {
	return c.Subject.ID
}

// PrimaryWallet returns the primary chain wallet address.
func (c *Credential) PrimaryWallet() string {
	return c.Subject.WalletAddresses.Primary
}

// IsSigned reports whether the credential carries a proof.
func (c *Credential) IsSigned() bool {
	return c.Proof != nil
}

// Unsigned returns a copy of the credential without its proof.
func (c *Credential) Unsigned() *Credential {
	cp := c.clone()
	cp.Proof = nil

	return cp
}

// WithProof returns a new signed credential; the receiver is left untouched.
func (c *Credential) WithProof(p *Proof) (*Credential, error) {
	if c.IsSigned() {
		return nil, anchorerr.Validation(fmt.Errorf("credential %s is already signed", c.ID))
	}

	cp := c.clone()
	proof := *p
	cp.Proof = &proof

	return cp, nil
}

// Digest returns the canonical content digest of the credential.
func (c *Credential) Digest() (canonical.Digest, error) {
	return canonical.Hash(c)
}

func (c *Credential) clone() *Credential {
	cp := *c
	cp.Context = append([]string(nil), c.Context...)
	cp.Types = append([]string(nil), c.Types...)

	if c.Subject.WalletAddresses.Chains != nil {
		cp.Subject.WalletAddresses.Chains = make(map[string]string, len(c.Subject.WalletAddresses.Chains))
		for k, v := range c.Subject.WalletAddresses.Chains {
			cp.Subject.WalletAddresses.Chains[k] = v
		}
	}

	if c.Subject.Attributes != nil {
		cp.Subject.Attributes = make(Attributes, len(c.Subject.Attributes))
		for k, v := range c.Subject.Attributes {
			cp.Subject.Attributes[k] = v
		}
	}

	if c.Proof != nil {
		proof := *c.Proof
		cp.Proof = &proof
	}

	if c.CustomFields != nil {
		cp.CustomFields = make(map[string]interface{}, len(c.CustomFields))
		for k, v := range c.CustomFields {
			cp.CustomFields[k] = v
		}
	}

	return &cp
}

// ContentAddress locates a document on the content-addressed storage network.
type ContentAddress struct {
	CID         string           `json:"cid"`
	SizeBytes   int64            `json:"sizeBytes"`
	PublishedAt time.Time        `json:"publishedAt"`
	ContentHash canonical.Digest `json:"contentHash"`
	Confirmed   bool             `json:"confirmed"`
	Gateway     string           `json:"gateway,omitempty"`
}

// URI returns the ipfs:// URI of the content.
func (a *ContentAddress) URI() string {
	return "ipfs://" + a.CID
}

// WalletProof is a wallet ownership signature for a DID.
type WalletProof struct {
	Chain         string `json:"chain"`
	Address       string `json:"address"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
	SigningScheme string `json:"signingScheme"`
}

// ProofMessage returns the fixed ownership message signed by every wallet.
func ProofMessage(did string) string {
	return proofMessagePrefix + did
}
