/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package signer adds proofs to credentials through a remote credential-signing service or a
// deterministic local fallback. The strategy is picked once, up front, by probing the remote.
package signer

import (
	"context"
	"fmt"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

var logger = log.New("vc-anchor/signer")

// Strategy identifies how a credential gets its proof.
type Strategy int

// Signing strategies.
const (
	StrategyRemote Strategy = iota + 1
	StrategyDeterministic
)

func (s Strategy) String() string {
	switch s {
	case StrategyRemote:
		return "remote"
	case StrategyDeterministic:
		return "deterministic"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Signer adds a proof to an unsigned credential.
type Signer interface {
	Sign(ctx context.Context, cred *vc.Credential) (*vc.Credential, error)
	Strategy() Strategy
}

type prober interface {
	Signer
	Probe(ctx context.Context) error
}

// Select returns the remote signer when it answers its capability probe, otherwise the fallback.
func Select(ctx context.Context, remote prober, fallback Signer) (Signer, error) {
	if remote != nil {
		err := remote.Probe(ctx)
		if err == nil {
			logger.Infof("using %s credential signer", remote.Strategy())

			return remote, nil
		}

		logger.Warnf("remote credential signer unavailable, falling back : %s", err)
	}

	if fallback == nil {
		return nil, fmt.Errorf("no credential signer available")
	}

	logger.Infof("using %s credential signer", fallback.Strategy())

	return fallback, nil
}

// Sign signs with s and enforces the proof post-condition for every strategy.
func Sign(ctx context.Context, s Signer, cred *vc.Credential) (*vc.Credential, error) {
	if cred == nil {
		return nil, anchorerr.Missing("credential")
	}

	if cred.IsSigned() {
		return nil, anchorerr.Validation(fmt.Errorf("credential %s is already signed", cred.ID))
	}

	var (
		signed *vc.Credential
		err    error
	)

	switch s.Strategy() {
	case StrategyRemote, StrategyDeterministic:
		signed, err = s.Sign(ctx, cred)
	default:
		return nil, fmt.Errorf("unsupported signing strategy %s", s.Strategy())
	}

	if err != nil {
		return nil, err
	}

	if err := signed.Proof.Validate(); err != nil {
		return nil, err
	}

	if signed.SubjectIdentifier() != cred.SubjectIdentifier() {
		return nil, anchorerr.Validation(fmt.Errorf("signed credential subject %s does not match %s",
			signed.SubjectIdentifier(), cred.SubjectIdentifier()))
	}

	return signed, nil
}
