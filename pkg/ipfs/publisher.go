/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ipfs publishes documents to a pinning service and reads them back through public gateways.
package ipfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/canonical"
	"github.com/trustbloc/vc-anchor/pkg/vc"
)

var logger = log.New("vc-anchor/ipfs")

const (
	pinJSONEndpoint       = "%s/pinning/pinJSONToIPFS"
	gatewayPathFormat     = "%s/ipfs/%s"
	serviceName           = "ipfs"
	defaultReadBackTimout = 10 * time.Second
	maxDocumentBytes      = 4 << 20
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type pinRequest struct {
	Content  json.RawMessage `json:"pinataContent"`
	Metadata pinMetadata     `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name      string            `json:"name,omitempty"`
	KeyValues map[string]string `json:"keyvalues,omitempty"`
}

type pinResponse struct {
	IpfsHash  string    `json:"IpfsHash"`
	PinSize   int64     `json:"PinSize"`
	Timestamp time.Time `json:"Timestamp"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithGateways sets the gateways used for read-back and fetch.
func WithGateways(gateways ...string) Option {
	return func(p *Publisher) {
		p.gateways = nil

		for _, g := range gateways {
			if g = strings.TrimRight(strings.TrimSpace(g), "/"); g != "" {
				p.gateways = append(p.gateways, g)
			}
		}
	}
}

// WithReadBackTimeout bounds each gateway read-back.
func WithReadBackTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.readBackTimeout = d
	}
}

// WithHTTPClient overrides the http client.
func WithHTTPClient(c httpClient) Option {
	return func(p *Publisher) {
		p.httpClient = c
	}
}

// Publisher uploads documents to the storage network.
type Publisher struct {
	apiURL          string
	jwt             string
	gateways        []string
	readBackTimeout time.Duration
	httpClient      httpClient
	now             func() time.Time
}

// New returns a publisher for the pinning API at apiURL authenticated with jwt.
func New(apiURL, jwt string, tlsConfig *tls.Config, opts ...Option) *Publisher {
	p := &Publisher{
		apiURL:          strings.TrimRight(apiURL, "/"),
		jwt:             jwt,
		readBackTimeout: defaultReadBackTimout,
		httpClient:      &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish uploads a signed credential and confirms it can be read back.
// A failed read-back leaves the address unconfirmed; it does not fail the publish.
func (p *Publisher) Publish(ctx context.Context, cred *vc.Credential, name string) (*vc.ContentAddress, error) {
	if cred == nil || !cred.IsSigned() {
		return nil, anchorerr.Validation(fmt.Errorf("only signed credentials are published"))
	}

	addr, err := p.PublishJSON(ctx, cred, name, map[string]string{"did": cred.SubjectIdentifier()})
	if err != nil {
		return nil, err
	}

	p.confirm(ctx, addr, func(doc []byte) error {
		fetched := &vc.Credential{}

		if err := json.Unmarshal(doc, fetched); err != nil {
			return fmt.Errorf("retrieved document is not a credential : %w", err)
		}

		if fetched.SubjectIdentifier() != cred.SubjectIdentifier() {
			return fmt.Errorf("retrieved subject %s does not match %s",
				fetched.SubjectIdentifier(), cred.SubjectIdentifier())
		}

		return nil
	})

	return addr, nil
}

// PublishJSON uploads any JSON document. The caller decides whether to retry on failure.
func (p *Publisher) PublishJSON(ctx context.Context, doc interface{}, name string,
	keyValues map[string]string) (*vc.ContentAddress, error) {
	content, err := json.Marshal(doc)
	if err != nil {
		return nil, anchorerr.Validation(fmt.Errorf("marshal document : %w", err))
	}

	digest, err := canonical.Hash(content)
	if err != nil {
		return nil, anchorerr.Validation(err)
	}

	reqBytes, err := json.Marshal(&pinRequest{
		Content:  content,
		Metadata: pinMetadata{Name: name, KeyValues: keyValues},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(pinJSONEndpoint, p.apiURL),
		bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, anchorerr.Remote(serviceName, 0, fmt.Errorf("http request : %w", err))
	}

	defer closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, anchorerr.Remote(serviceName, resp.StatusCode, fmt.Errorf("read response : %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, anchorerr.Remote(serviceName, resp.StatusCode,
			fmt.Errorf("%w: %d %s", anchorerr.ErrPublishRejected, resp.StatusCode, string(body)))
	}

	pinned := &pinResponse{}

	if err := json.Unmarshal(body, pinned); err != nil {
		return nil, anchorerr.Remote(serviceName, resp.StatusCode,
			fmt.Errorf("%w: invalid response : %s", anchorerr.ErrPublishRejected, err))
	}

	if _, err := cid.Decode(pinned.IpfsHash); err != nil {
		return nil, anchorerr.Remote(serviceName, resp.StatusCode,
			fmt.Errorf("%w: invalid content identifier %q : %s", anchorerr.ErrPublishRejected, pinned.IpfsHash, err))
	}

	publishedAt := pinned.Timestamp
	if publishedAt.IsZero() {
		publishedAt = p.now().UTC()
	}

	logger.Infof("published %s as %s (%d bytes)", name, pinned.IpfsHash, pinned.PinSize)

	return &vc.ContentAddress{
		CID:         pinned.IpfsHash,
		SizeBytes:   pinned.PinSize,
		PublishedAt: publishedAt,
		ContentHash: digest,
	}, nil
}

// Fetch retrieves content by identifier from the first gateway that serves it.
func (p *Publisher) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := cid.Decode(contentID); err != nil {
		return nil, anchorerr.Validation(fmt.Errorf("invalid content identifier %q : %w", contentID, err))
	}

	if len(p.gateways) == 0 {
		return nil, fmt.Errorf("no ipfs gateways configured")
	}

	var errs []string

	for _, gw := range p.gateways {
		doc, err := p.fetchFrom(ctx, gw, contentID)
		if err == nil {
			return doc, nil
		}

		errs = append(errs, err.Error())
	}

	return nil, anchorerr.Remote(serviceName, 0,
		fmt.Errorf("fetch %s failed on all gateways: %s", contentID, strings.Join(errs, "; ")))
}

func (p *Publisher) confirm(ctx context.Context, addr *vc.ContentAddress, check func([]byte) error) {
	for _, gw := range p.gateways {
		doc, err := p.fetchFrom(ctx, gw, addr.CID)
		if err != nil {
			logger.Debugf("read-back of %s from %s failed : %s", addr.CID, gw, err)

			continue
		}

		digest, err := canonical.Hash(doc)
		if err != nil {
			logger.Warnf("read-back of %s from %s returned invalid json : %s", addr.CID, gw, err)

			continue
		}

		if digest != addr.ContentHash {
			logger.Warnf("read-back of %s from %s digest mismatch: %s != %s", addr.CID, gw, digest, addr.ContentHash)

			continue
		}

		if err := check(doc); err != nil {
			logger.Warnf("read-back of %s from %s : %s", addr.CID, gw, err)

			continue
		}

		addr.Confirmed = true
		addr.Gateway = gw

		return
	}

	logger.Warnf("content %s published but not yet retrievable; marked unconfirmed", addr.CID)
}

func (p *Publisher) fetchFrom(ctx context.Context, gateway, contentID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.readBackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(gatewayPathFormat, gateway, contentID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request : %w", err)
	}

	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway %s returned %d", gateway, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warnf("failed to close response body")
	}
}
