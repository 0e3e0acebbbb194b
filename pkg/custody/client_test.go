/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package custody

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
)

const testAPIKey = "api-key-1"

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key
}

// verifyRequest checks the request token the way the custodial service does.
func verifyRequest(t *testing.T, r *http.Request, pub *rsa.PublicKey, body []byte) {
	t.Helper()

	require.Equal(t, testAPIKey, r.Header.Get("X-API-Key"))

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	claims := &requestClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)

	hash := sha256.Sum256(body)
	require.Equal(t, hex.EncodeToString(hash[:]), claims.BodyHash)
	require.Equal(t, r.URL.Path, claims.URI)
	require.Equal(t, testAPIKey, claims.Subject)
	require.NotEmpty(t, claims.Nonce)
	require.Equal(t, tokenLifetime, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestNew(t *testing.T) {
	key := generateKey(t)

	t.Run("test missing url", func(t *testing.T) {
		_, err := New("", testAPIKey, key, nil)
		require.True(t, errors.Is(err, anchorerr.ErrMissingRequiredField))
	})

	t.Run("test missing api key", func(t *testing.T) {
		_, err := New("http://localhost", "", key, nil)
		require.Contains(t, err.Error(), "custody api key")
	})

	t.Run("test missing signing key", func(t *testing.T) {
		_, err := New("http://localhost", testAPIKey, nil, nil)
		require.Contains(t, err.Error(), "custody signing key")
	})
}

func TestParseSigningKey(t *testing.T) {
	key := generateKey(t)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	parsed, err := ParseSigningKey(pemBytes)
	require.NoError(t, err)
	require.True(t, key.Equal(parsed))

	_, err = ParseSigningKey([]byte("not a key"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse custody signing key")
}

func TestSubmitSigningJob(t *testing.T) {
	key := generateKey(t)

	t.Run("test typed message job", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/v1/transactions", r.URL.Path)

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)

			verifyRequest(t, r, &key.PublicKey, body)

			req := &transactionRequest{}
			require.NoError(t, json.Unmarshal(body, req))
			require.Equal(t, OperationTypedMessage, req.Operation)
			require.Equal(t, "ETH", req.AssetID)
			require.Equal(t, "7", req.Source.ID)
			require.Equal(t, sourceVaultAccount, req.Source.Type)
			require.NotEmpty(t, req.ExternalTxID)
			require.Len(t, req.ExtraParameters.RawMessageData.Messages, 1)
			require.Equal(t, hex.EncodeToString([]byte("hello")), req.ExtraParameters.RawMessageData.Messages[0].Content)

			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"id":"job-1","status":"SUBMITTED"}`)
		}))
		defer srv.Close()

		c, err := New(srv.URL, testAPIKey, key, nil)
		require.NoError(t, err)

		id, err := c.SubmitSigningJob(context.Background(), &Job{
			AssetID: "ETH", VaultID: "7", Operation: OperationTypedMessage, Payload: []byte("hello"),
		})
		require.NoError(t, err)
		require.Equal(t, "job-1", id)
	})

	t.Run("test raw job requires digest", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil)
		require.NoError(t, err)

		_, err = c.SubmitSigningJob(context.Background(), &Job{
			AssetID: "SOL", Operation: OperationRaw, Payload: []byte("short"),
		})
		require.True(t, anchorerr.Is(err, anchorerr.KindValidation))
		require.Contains(t, err.Error(), "must be 32 bytes")
	})

	t.Run("test missing asset and payload", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil)
		require.NoError(t, err)

		_, err = c.SubmitSigningJob(context.Background(), &Job{Payload: []byte("x")})
		require.Contains(t, err.Error(), "asset id")

		_, err = c.SubmitSigningJob(context.Background(), &Job{AssetID: "ETH"})
		require.Contains(t, err.Error(), "signing payload")
	})

	t.Run("test service error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"unauthorized asset"}`)
		}))
		defer srv.Close()

		c, err := New(srv.URL, testAPIKey, key, nil)
		require.NoError(t, err)

		_, err = c.SubmitSigningJob(context.Background(), &Job{AssetID: "ETH", Payload: []byte("x")})
		require.True(t, anchorerr.Is(err, anchorerr.KindRemoteService))

		e, ok := anchorerr.As(err)
		require.True(t, ok)
		require.Equal(t, http.StatusForbidden, e.Status)
		require.Equal(t, "custody", e.Service)
		require.Contains(t, err.Error(), "unauthorized asset")
	})

	t.Run("test accepted without id", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil, WithHTTPClient(&mockHTTPClient{
			respValue: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`))},
		}))
		require.NoError(t, err)

		_, err = c.SubmitSigningJob(context.Background(), &Job{AssetID: "ETH", Payload: []byte("x")})
		require.Contains(t, err.Error(), "accepted without id")
	})

	t.Run("test transport error", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil,
			WithHTTPClient(&mockHTTPClient{respErr: errors.New("dial failed")}))
		require.NoError(t, err)

		_, err = c.SubmitSigningJob(context.Background(), &Job{AssetID: "ETH", Payload: []byte("x")})
		require.Contains(t, err.Error(), "dial failed")
	})
}

func TestGetJobStatus(t *testing.T) {
	key := generateKey(t)

	t.Run("test completed job", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/v1/transactions/job-1", r.URL.Path)

			verifyRequest(t, r, &key.PublicKey, nil)

			fmt.Fprint(w, `{"id":"job-1","status":"COMPLETED","signedMessages":[`+
				`{"content":"aa","signature":{"fullSig":"abcd","r":"ab","s":"cd","v":1}}]}`)
		}))
		defer srv.Close()

		c, err := New(srv.URL, testAPIKey, key, nil)
		require.NoError(t, err)

		status, err := c.GetJobStatus(context.Background(), "job-1")
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, status.Status)
		require.Len(t, status.SignedMessages, 1)
		require.Equal(t, "abcd", status.SignedMessages[0].Signature.FullSig)
		require.Equal(t, 1, *status.SignedMessages[0].Signature.V)
	})

	t.Run("test missing job id", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil)
		require.NoError(t, err)

		_, err = c.GetJobStatus(context.Background(), "")
		require.True(t, errors.Is(err, anchorerr.ErrMissingRequiredField))
	})

	t.Run("test invalid response", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil, WithHTTPClient(&mockHTTPClient{
			respValue: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`[`))},
		}))
		require.NoError(t, err)

		_, err = c.GetJobStatus(context.Background(), "job-1")
		require.Contains(t, err.Error(), "invalid response")
	})

	t.Run("test token expiry is bound to clock", func(t *testing.T) {
		c, err := New("http://localhost", testAPIKey, key, nil)
		require.NoError(t, err)

		c.now = func() time.Time { return time.Now().Add(-time.Hour) }

		token, err := c.token("/v1/transactions/job-1", nil)
		require.NoError(t, err)

		_, err = jwt.ParseWithClaims(token, &requestClaims{}, func(*jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		})
		require.True(t, errors.Is(err, jwt.ErrTokenExpired))
	})
}

func TestIsTerminalFailure(t *testing.T) {
	for _, s := range []string{StatusFailed, StatusRejected, StatusCancelled, StatusBlocked} {
		require.True(t, IsTerminalFailure(s), s)
	}

	for _, s := range []string{StatusSubmitted, StatusPending, StatusCompleted} {
		require.False(t, IsTerminalFailure(s), s)
	}
}

type mockHTTPClient struct {
	respValue *http.Response
	respErr   error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.respErr != nil {
		return nil, m.respErr
	}

	return m.respValue, nil
}
