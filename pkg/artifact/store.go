/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package artifact persists the outputs of each issuance stage, keyed by subject DID.
package artifact

import (
	"context"
	"errors"
	"fmt"
)

// Name of a stored artifact.
type Name string

// Artifact names.
const (
	UnsignedVC         Name = "unsigned_vc"
	SignedVC           Name = "signed_vc"
	Metadata           Name = "metadata"
	ProofBundle        Name = "proof_bundle"
	PendingTx          Name = "pending_tx"
	DIDRegistration    Name = "did_registration"
	SBTRecord          Name = "sbt_record"
	VerificationReport Name = "verification_report"
)

// nolint:gochecknoglobals
var knownNames = map[Name]struct{}{
	UnsignedVC: {}, SignedVC: {}, Metadata: {}, ProofBundle: {}, PendingTx: {},
	DIDRegistration: {}, SBTRecord: {}, VerificationReport: {},
}

// ErrNotFound the subject has no artifact of that name.
var ErrNotFound = errors.New("artifact not found")

// ParseName validates an artifact name.
func ParseName(s string) (Name, error) {
	n := Name(s)
	if _, ok := knownNames[n]; !ok {
		return "", fmt.Errorf("unknown artifact %q", s)
	}

	return n, nil
}

// Store persists JSON artifacts.
type Store interface {
	Put(ctx context.Context, subject string, name Name, v interface{}) error
	Get(ctx context.Context, subject string, name Name, v interface{}) error
	GetRaw(ctx context.Context, subject string, name Name) ([]byte, error)
	Delete(ctx context.Context, subject string, name Name) error
}

func key(subject string, name Name) string {
	return subject + "/" + string(name)
}

func validate(subject string, name Name) error {
	if subject == "" {
		return fmt.Errorf("artifact subject is required")
	}

	if _, ok := knownNames[name]; !ok {
		return fmt.Errorf("unknown artifact %q", name)
	}

	return nil
}
