/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/crypto"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

const (
	issueCredentialURLFormat = "%s/%s/credentials/issue"
	healthCheckURLFormat     = "%s/healthcheck"
	serviceName              = "credential-signer"
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// issueCredentialRequest request for issuing credential.
type issueCredentialRequest struct {
	Credential json.RawMessage `json:"credential"`
	Opts       *issueOptions   `json:"opts,omitempty"`
}

type issueOptions struct {
	VerificationMethod string `json:"verificationMethod,omitempty"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	Created            string `json:"created,omitempty"`
}

// RemoteSigner delegates canonicalization and signing to a credential-signing service.
type RemoteSigner struct {
	url          string
	profile      string
	requestToken string
	httpClient   httpClient
	now          func() time.Time
}

// NewRemoteSigner returns a signer for the service at url using the given signing profile.
func NewRemoteSigner(url, profile, requestToken string, tlsConfig *tls.Config) *RemoteSigner {
	return &RemoteSigner{
		url:          url,
		profile:      profile,
		requestToken: requestToken,
		httpClient:   &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		now:          time.Now,
	}
}

// Strategy implements Signer.
func (s *RemoteSigner) Strategy() Strategy {
	return StrategyRemote
}

// Probe checks that the signing service is reachable.
func (s *RemoteSigner) Probe(ctx context.Context) error {
	if s.url == "" {
		return fmt.Errorf("credential signing service url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(healthCheckURLFormat, s.url), nil)
	if err != nil {
		return err
	}

	_, err = s.send(req, http.StatusOK)

	return err
}

// Sign implements Signer. The service response is returned verbatim.
func (s *RemoteSigner) Sign(ctx context.Context, cred *vc.Credential) (*vc.Credential, error) {
	vm, err := crypto.VerificationMethodForDID(cred.SubjectIdentifier())
	if err != nil {
		return nil, anchorerr.Validation(err)
	}

	credBytes, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal credential : %w", err)
	}

	reqBytes, err := json.Marshal(&issueCredentialRequest{
		Credential: credBytes,
		Opts: &issueOptions{
			VerificationMethod: vm,
			ProofPurpose:       vc.AssertionMethod,
			Created:            s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(issueCredentialURLFormat, s.url, s.profile)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	data, err := s.send(req, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	signed := &vc.Credential{}

	if err := json.Unmarshal(data, signed); err != nil {
		return nil, anchorerr.Remote(serviceName, 0, fmt.Errorf("invalid signed credential : %w", err))
	}

	return signed, nil
}

func (s *RemoteSigner) send(req *http.Request, statuses ...int) ([]byte, error) {
	if s.requestToken != "" {
		req.Header.Add("Authorization", "Bearer "+s.requestToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, anchorerr.Remote(serviceName, 0, fmt.Errorf("http request : %w", err))
	}

	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			logger.Warnf("failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, anchorerr.Remote(serviceName, resp.StatusCode, fmt.Errorf("read response : %w", err))
	}

	for _, status := range statuses {
		if resp.StatusCode == status {
			return body, nil
		}
	}

	return nil, anchorerr.Remote(serviceName, resp.StatusCode,
		fmt.Errorf("http request: %d %s", resp.StatusCode, string(body)))
}
