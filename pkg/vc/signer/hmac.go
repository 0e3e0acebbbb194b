/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/crypto"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

// HMACSignatureType proof type written by the deterministic signer.
const HMACSignatureType = "HmacSha256Signature2024"

// HMACSigner signs the canonical credential with a shared key.
type HMACSigner struct {
	key []byte
	now func() time.Time
}

// NewHMACSigner returns a deterministic signer over the given key material.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, anchorerr.Missing("signing key material")
	}

	return &HMACSigner{key: key, now: time.Now}, nil
}

// Strategy implements Signer.
func (s *HMACSigner) Strategy() Strategy {
	return StrategyDeterministic
}

// Sign implements Signer.
func (s *HMACSigner) Sign(_ context.Context, cred *vc.Credential) (*vc.Credential, error) {
	vm, err := crypto.VerificationMethodForDID(cred.SubjectIdentifier())
	if err != nil {
		return nil, anchorerr.Validation(err)
	}

	value, err := s.signature(cred)
	if err != nil {
		return nil, err
	}

	return cred.WithProof(&vc.Proof{
		Type:               HMACSignatureType,
		Created:            s.now().UTC().Format(time.RFC3339),
		VerificationMethod: vm,
		ProofPurpose:       vc.AssertionMethod,
		ProofValue:         value,
	})
}

// Verify recomputes the proof value of a signed credential.
func (s *HMACSigner) Verify(cred *vc.Credential) (bool, error) {
	if !cred.IsSigned() {
		return false, nil
	}

	expected, err := s.signature(cred.Unsigned())
	if err != nil {
		return false, err
	}

	return hmac.Equal([]byte(expected), []byte(cred.Proof.ProofValue)), nil
}

func (s *HMACSigner) signature(unsigned *vc.Credential) (string, error) {
	doc, err := canonical.Canonicalize(unsigned)
	if err != nil {
		return "", fmt.Errorf("canonicalize credential : %w", err)
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(doc)

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
