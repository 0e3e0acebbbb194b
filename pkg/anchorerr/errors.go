/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anchorerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

// Failure kinds.
const (
	KindValidation Kind = iota + 1
	KindRemoteService
	KindSigningTimeout
	KindConfirmationTimeout
	KindTransactionReverted
	KindAlreadyRegistered
	KindConsistencyMismatch
)

// nolint:gochecknoglobals
var kindNames = map[Kind]string{
	KindValidation:          "ValidationError",
	KindRemoteService:       "RemoteServiceError",
	KindSigningTimeout:      "SigningTimeout",
	KindConfirmationTimeout: "ConfirmationTimeout",
	KindTransactionReverted: "TransactionReverted",
	KindAlreadyRegistered:   "AlreadyRegistered",
	KindConsistencyMismatch: "ConsistencyMismatch",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	// ErrMissingRequiredField input is missing a mandatory value.
	ErrMissingRequiredField = errors.New("missing required field")
	// ErrInvalidProofStructure signed credential proof lacks a mandatory field.
	ErrInvalidProofStructure = errors.New("invalid proof structure")
	// ErrPublishRejected storage network refused the upload.
	ErrPublishRejected = errors.New("publish rejected")
	// ErrNoProofsGenerated no chain produced a wallet proof.
	ErrNoProofsGenerated = errors.New("no proofs generated")
	// ErrSigningTimeout custodial signing job did not reach a terminal state in time.
	ErrSigningTimeout = errors.New("signing timeout")
	// ErrDIDAlreadyRegistered an active DID record already exists.
	ErrDIDAlreadyRegistered = errors.New("did already registered")
	// ErrAlreadyBound owner already holds a soulbound token.
	ErrAlreadyBound = errors.New("owner already bound")
	// ErrMintPending owner has an unreconciled mint transaction.
	ErrMintPending = errors.New("mint pending")
	// ErrMintFailed mint or vc registration transaction confirmed with failure status.
	ErrMintFailed = errors.New("mint failed")
	// ErrConfirmationTimeout transaction not confirmed within the wait bound.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// Error is a classified pipeline failure carrying the context a caller needs to act on it.
type Error struct {
	Kind     Kind
	Stage    string
	Service  string
	Status   int
	TxHash   string
	Explorer string
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Kind.String())

	if e.Stage != "" {
		sb.WriteString(" [stage=" + e.Stage + "]")
	}

	if e.Service != "" {
		sb.WriteString(" [service=" + e.Service)

		if e.Status != 0 {
			sb.WriteString(fmt.Sprintf(" status=%d", e.Status))
		}

		sb.WriteString("]")
	}

	if e.TxHash != "" {
		sb.WriteString(" [tx=" + e.TxHash + "]")
	}

	if e.Explorer != "" {
		sb.WriteString(" [explorer=" + e.Explorer + "]")
	}

	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error

	return errors.As(err, &e) && e.Kind == kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error

	if errors.As(err, &e) {
		return e, true
	}

	return nil, false
}

// WithStage tags a classified error with the pipeline stage, or wraps a plain error with it.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}

	if e, ok := As(err); ok {
		if e.Stage != "" {
			return err
		}

		tagged := *e
		tagged.Stage = stage

		return &tagged
	}

	return fmt.Errorf("%s: %w", stage, err)
}

// Validation builds a ValidationError.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

// Missing builds a ValidationError for an absent required field.
func Missing(field string) *Error {
	return Validation(fmt.Errorf("%w: %s", ErrMissingRequiredField, field))
}

// Remote builds a RemoteServiceError for the named service.
func Remote(service string, status int, err error) *Error {
	return &Error{Kind: KindRemoteService, Service: service, Status: status, Err: err}
}

// SigningTimeout builds a per-chain SigningTimeout.
func SigningTimeout(chain string, attempts int) *Error {
	return &Error{
		Kind:    KindSigningTimeout,
		Service: "custody",
		Err:     fmt.Errorf("%w: chain %s after %d attempts", ErrSigningTimeout, chain, attempts),
	}
}

// ConfirmationTimeout builds a ConfirmationTimeout for a submitted transaction.
func ConfirmationTimeout(txHash, explorer string) *Error {
	return &Error{
		Kind:     KindConfirmationTimeout,
		Service:  "chain",
		TxHash:   txHash,
		Explorer: explorer,
		Err:      ErrConfirmationTimeout,
	}
}

// Reverted builds a TransactionReverted error.
func Reverted(txHash, explorer string, err error) *Error {
	return &Error{Kind: KindTransactionReverted, Service: "chain", TxHash: txHash, Explorer: explorer, Err: err}
}

// AlreadyRegistered builds an idempotent no-op error.
func AlreadyRegistered(err error) *Error {
	return &Error{Kind: KindAlreadyRegistered, Err: err}
}

// Mismatch builds a ConsistencyMismatch.
func Mismatch(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConsistencyMismatch, Err: fmt.Errorf(format, args...)}
}
