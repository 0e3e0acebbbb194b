/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package custody is a client for the custodial key-management service that signs
// wallet ownership messages on behalf of end users.
package custody

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
)

var logger = log.New("vc-anchor/custody")

const (
	transactionsPath = "/v1/transactions"
	serviceName      = "custody"
	tokenLifetime    = 30 * time.Second

	sourceVaultAccount = "VAULT_ACCOUNT"
)

// Operation custodial signing operation.
type Operation string

// Signing operations.
const (
	OperationTypedMessage Operation = "TYPED_MESSAGE"
	OperationRaw          Operation = "RAW"
)

// Job status values reported by the custodial service.
const (
	StatusSubmitted = "SUBMITTED"
	StatusPending   = "PENDING_SIGNATURE"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusBlocked   = "BLOCKED"
)

// IsTerminalFailure reports whether status ends the job without a signature.
func IsTerminalFailure(status string) bool {
	switch status {
	case StatusFailed, StatusRejected, StatusCancelled, StatusBlocked:
		return true
	default:
		return false
	}
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Job is a signing request for one wallet.
type Job struct {
	AssetID   string
	VaultID   string
	Operation Operation
	// Payload is the message text for typed messages or the 32 byte digest for raw signing.
	Payload []byte
	Note    string
}

// Signature components of a signed message.
type Signature struct {
	FullSig string `json:"fullSig"`
	R       string `json:"r"`
	S       string `json:"s"`
	V       *int   `json:"v,omitempty"`
}

// SignedMessage entry of a completed job.
type SignedMessage struct {
	Content   string    `json:"content"`
	PublicKey string    `json:"publicKey,omitempty"`
	Signature Signature `json:"signature"`
}

// JobStatus is the state of a signing job.
type JobStatus struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	SubStatus      string          `json:"subStatus,omitempty"`
	SignedMessages []SignedMessage `json:"signedMessages,omitempty"`
}

type messageContent struct {
	Content string `json:"content"`
}

type rawMessageData struct {
	Messages []messageContent `json:"messages"`
}

type extraParameters struct {
	RawMessageData rawMessageData `json:"rawMessageData"`
}

type transferPeer struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type transactionRequest struct {
	Operation       Operation       `json:"operation"`
	AssetID         string          `json:"assetId"`
	Source          transferPeer    `json:"source"`
	Note            string          `json:"note,omitempty"`
	ExternalTxID    string          `json:"externalTxId"`
	ExtraParameters extraParameters `json:"extraParameters"`
}

type transactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type requestClaims struct {
	URI      string `json:"uri"`
	Nonce    string `json:"nonce"`
	BodyHash string `json:"bodyHash"`
	jwt.RegisteredClaims
}

// Client signs and sends custodial service requests.
type Client struct {
	baseURL    string
	apiKey     string
	signingKey *rsa.PrivateKey
	httpClient httpClient
	now        func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the http client.
func WithHTTPClient(c httpClient) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New returns a custodial service client.
func New(baseURL, apiKey string, signingKey *rsa.PrivateKey, tlsConfig *tls.Config, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, anchorerr.Missing("custody api url")
	}

	if apiKey == "" {
		return nil, anchorerr.Missing("custody api key")
	}

	if signingKey == nil {
		return nil, anchorerr.Missing("custody signing key")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		signingKey: signingKey,
		httpClient: &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ParseSigningKey parses a PEM encoded RSA private key.
func ParseSigningKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse custody signing key : %w", err)
	}

	return key, nil
}

// SubmitSigningJob submits a job and returns its identifier.
func (c *Client) SubmitSigningJob(ctx context.Context, job *Job) (string, error) {
	if job.AssetID == "" {
		return "", anchorerr.Missing("asset id")
	}

	if len(job.Payload) == 0 {
		return "", anchorerr.Missing("signing payload")
	}

	if job.Operation == OperationRaw && len(job.Payload) != sha256.Size {
		return "", anchorerr.Validation(fmt.Errorf("raw signing payload must be %d bytes, got %d",
			sha256.Size, len(job.Payload)))
	}

	reqBytes, err := json.Marshal(&transactionRequest{
		Operation:    job.Operation,
		AssetID:      job.AssetID,
		Source:       transferPeer{Type: sourceVaultAccount, ID: job.VaultID},
		Note:         job.Note,
		ExternalTxID: uuid.New().String(),
		ExtraParameters: extraParameters{
			RawMessageData: rawMessageData{Messages: []messageContent{{Content: hex.EncodeToString(job.Payload)}}},
		},
	})
	if err != nil {
		return "", err
	}

	resp := &transactionResponse{}

	if err := c.send(ctx, http.MethodPost, transactionsPath, reqBytes, resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", anchorerr.Remote(serviceName, 0, fmt.Errorf("signing job accepted without id"))
	}

	logger.Debugf("submitted %s signing job %s for asset %s", job.Operation, resp.ID, job.AssetID)

	return resp.ID, nil
}

// GetJobStatus returns the current state of a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, anchorerr.Missing("job id")
	}

	status := &JobStatus{}

	if err := c.send(ctx, http.MethodGet, transactionsPath+"/"+jobID, nil, status); err != nil {
		return nil, err
	}

	return status, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, respObj interface{}) error {
	token, err := c.token(path, body)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return anchorerr.Remote(serviceName, 0, fmt.Errorf("http request : %w", err))
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("failed to close response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return anchorerr.Remote(serviceName, resp.StatusCode, fmt.Errorf("read response : %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return anchorerr.Remote(serviceName, resp.StatusCode,
			fmt.Errorf("http request: %d %s", resp.StatusCode, string(respBody)))
	}

	if err := json.Unmarshal(respBody, respObj); err != nil {
		return anchorerr.Remote(serviceName, resp.StatusCode, fmt.Errorf("invalid response : %w", err))
	}

	return nil
}

// token signs the request path and body hash so the service can bind the token to one request.
func (c *Client) token(path string, body []byte) (string, error) {
	now := c.now()
	bodyHash := sha256.Sum256(body)

	claims := &requestClaims{
		URI:      path,
		Nonce:    uuid.New().String(),
		BodyHash: hex.EncodeToString(bodyHash[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign request token : %w", err)
	}

	return signed, nil
}
