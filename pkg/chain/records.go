/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"time"

	"github.com/trustbloc/vc-anchor/pkg/canonical"
)

// Purpose of a submitted transaction.
type Purpose string

// Transaction purposes.
const (
	PurposeMint       Purpose = "mint"
	PurposeRegisterVC Purpose = "registerVC"
	PurposeRegister   Purpose = "register"
)

// TxStatus of a tracked transaction.
type TxStatus string

// Transaction statuses.
const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// PendingTx is a submitted transaction whose confirmation was not observed.
type PendingTx struct {
	TxHash      string    `json:"txHash"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      TxStatus  `json:"status"`
	Purpose     Purpose   `json:"purpose"`
	Subject     string    `json:"subject"`
	Owner       string    `json:"owner,omitempty"`
	Explorer    string    `json:"explorer,omitempty"`
	// VCHash is the credential digest the transaction anchors.
	VCHash canonical.Digest `json:"vcHash"`
}

// DIDRecord is the registry entry of a DID.
type DIDRecord struct {
	DID          string    `json:"did"`
	MetadataURI  string    `json:"metadataURI"`
	Wallets      []string  `json:"wallets"`
	Chains       []string  `json:"chains"`
	RegisteredAt time.Time `json:"registeredAt"`
	Active       bool      `json:"active"`
	Owner        string    `json:"owner"`
}

// SBTRecord is the on-chain state of an owner's soulbound token.
type SBTRecord struct {
	Owner        string             `json:"owner"`
	TokenID      string             `json:"tokenId"`
	DID          string             `json:"did"`
	TokenURI     string             `json:"tokenURI"`
	LatestVCHash canonical.Digest   `json:"latestVCHash"`
	VCHashes     []canonical.Digest `json:"vcHashes"`
	TxHash       string             `json:"txHash,omitempty"`
	Explorer     string             `json:"explorer,omitempty"`
}
