/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"

	"github.com/trustbloc/vc-anchor/pkg/custody"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

const (
	signatureLength = 65
	recoveryOffset  = 27
)

// nolint:gochecknoglobals
var evmFamily = map[string]struct{}{
	"ETH": {}, "MATIC": {}, "POLYGON": {}, "BSC": {}, "BNB": {}, "AVAX": {},
	"ARB": {}, "OP": {}, "BASE": {}, "FTM": {}, "CELO": {},
}

// IsEVM reports whether the chain symbol belongs to the account-based EVM family.
func IsEVM(symbol string) bool {
	_, ok := evmFamily[strings.ToUpper(symbol)]

	return ok
}

// DefaultScheme returns the signing scheme used for a chain when none is configured.
func DefaultScheme(symbol string) string {
	if IsEVM(symbol) {
		return vc.SchemeTypedMessage
	}

	return vc.SchemeRawDigest
}

func alternate(scheme string) string {
	if scheme == vc.SchemeTypedMessage {
		return vc.SchemeRawDigest
	}

	return vc.SchemeTypedMessage
}

func operation(scheme string) custody.Operation {
	if scheme == vc.SchemeTypedMessage {
		return custody.OperationTypedMessage
	}

	return custody.OperationRaw
}

// Payload returns the bytes handed to the custodial signer for the scheme.
// Typed messages carry the text; raw signing carries a 32 byte digest, the EIP-191
// message hash on EVM chains and the SHA-256 of the text elsewhere.
func Payload(symbol, scheme, message string) []byte {
	if scheme == vc.SchemeTypedMessage {
		return []byte(message)
	}

	if IsEVM(symbol) {
		return accounts.TextHash([]byte(message))
	}

	sum := sha256.Sum256([]byte(message))

	return sum[:]
}

// extractSignature returns the hex signature of a completed job.
func extractSignature(scheme string, status *custody.JobStatus) (string, error) {
	if len(status.SignedMessages) == 0 {
		return "", fmt.Errorf("job %s completed without signed messages", status.ID)
	}

	sig := status.SignedMessages[0].Signature

	if scheme == vc.SchemeTypedMessage {
		return typedSignature(sig)
	}

	if sig.FullSig != "" {
		return "0x" + strings.TrimPrefix(sig.FullSig, "0x"), nil
	}

	if sig.R == "" || sig.S == "" {
		return "", fmt.Errorf("job %s returned an empty signature", status.ID)
	}

	return "0x" + strings.TrimPrefix(sig.R, "0x") + strings.TrimPrefix(sig.S, "0x"), nil
}

func typedSignature(sig custody.Signature) (string, error) {
	if sig.R == "" || sig.S == "" || sig.V == nil {
		full, err := hex.DecodeString(strings.TrimPrefix(sig.FullSig, "0x"))
		if err != nil || len(full) != signatureLength {
			return "", fmt.Errorf("typed message signature is incomplete")
		}

		full[signatureLength-1] = normalizeV(full[signatureLength-1])

		return "0x" + hex.EncodeToString(full), nil
	}

	r, err := hex.DecodeString(strings.TrimPrefix(sig.R, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid r component : %w", err)
	}

	s, err := hex.DecodeString(strings.TrimPrefix(sig.S, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid s component : %w", err)
	}

	if len(r) > 32 || len(s) > 32 || *sig.V < 0 || *sig.V > 255 {
		return "", fmt.Errorf("typed message signature components out of range")
	}

	out := make([]byte, signatureLength)
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	out[64] = normalizeV(byte(*sig.V))

	return "0x" + hex.EncodeToString(out), nil
}

func normalizeV(v byte) byte {
	if v < recoveryOffset {
		return v + recoveryOffset
	}

	return v
}
