/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operation

import (
	"github.com/trustbloc/vc-anchor/pkg/pipeline"
	"github.com/trustbloc/vc-anchor/pkg/verifier"
)

// IssueRequest API request body to issue and anchor a credential.
type IssueRequest = pipeline.Application

// IssueResponse API response of issue. Partial stage outputs are included on failure.
type IssueResponse struct {
	*pipeline.Result
	Error *ErrorDetail `json:"error,omitempty"`
}

// VerifyResponse API response of verify.
type VerifyResponse struct {
	OK     bool             `json:"ok"`
	Report *verifier.Report `json:"report"`
}

// ErrorDetail classified failure of a pipeline stage.
type ErrorDetail struct {
	Kind     string `json:"kind"`
	Stage    string `json:"stage,omitempty"`
	Message  string `json:"message"`
	TxHash   string `json:"txHash,omitempty"`
	Explorer string `json:"explorer,omitempty"`
}
