/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
)

const (
	creatorParts = 2

	invalidFormatErrMsgFmt = "verificationMethod value %s should be in did#keyID format"
)

// ParseDID validates a DID URI and returns its canonical string form.
func ParseDID(id string) (*did.DID, error) {
	parsed, err := did.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DID URI [%s]: %w", id, err)
	}

	return parsed, nil
}

// DIDSuffix returns the last colon separated segment of the DID method specific identifier.
func DIDSuffix(id string) (string, error) {
	parsed, err := ParseDID(id)
	if err != nil {
		return "", err
	}

	msi := parsed.MethodSpecificID
	if i := strings.LastIndex(msi, ":"); i >= 0 {
		msi = msi[i+1:]
	}

	if msi == "" {
		return "", fmt.Errorf("did %s has an empty method specific id", id)
	}

	return msi, nil
}

// VerificationMethodForDID builds the did#suffix verification method used for credential proofs.
func VerificationMethodForDID(id string) (string, error) {
	suffix, err := DIDSuffix(id)
	if err != nil {
		return "", err
	}

	return id + "#" + suffix, nil
}

// GetDIDFromVerificationMethod fetches did from the verification method.
func GetDIDFromVerificationMethod(method string) (string, error) {
	idSplit := strings.Split(method, "#")
	if len(idSplit) != creatorParts {
		return "", fmt.Errorf(invalidFormatErrMsgFmt, method)
	}

	id, err := ParseDID(idSplit[0])
	if err != nil {
		return "", err
	}

	return id.String(), nil
}
