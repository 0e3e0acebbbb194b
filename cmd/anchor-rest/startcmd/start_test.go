/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/vc-anchor/cmd/anchor-rest/internal/wiring"
)

type mockServer struct {
	host     string
	certFile string
	handler  http.Handler
}

func (s *mockServer) ListenAndServe(host string, handler http.Handler) error {
	s.host, s.handler = host, handler

	return nil
}

func (s *mockServer) ListenAndServeTLS(host, certPath, keyPath string, handler http.Handler) error {
	s.host, s.certFile, s.handler = host, certPath, handler

	return nil
}

func TestListenAndServe(t *testing.T) {
	var w HTTPServer
	err := w.ListenAndServe("wronghost", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "address wronghost: missing port in address")
}

func TestStartCmdContents(t *testing.T) {
	startCmd := GetStartCmd(&mockServer{})

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start anchor-rest", startCmd.Short)
	require.Equal(t, "Start anchor-rest to issue and anchor wallet-bound credentials", startCmd.Long)

	checkFlagPropertiesCorrect(t, startCmd, hostURLFlagName, hostURLFlagShorthand, hostURLFlagUsage)
}

func TestStartCmdWithBlankArg(t *testing.T) {
	t.Run("test blank host url arg", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})

		args := []string{"--" + hostURLFlagName, ""}
		startCmd.SetArgs(args)

		err := startCmd.Execute()
		require.Error(t, err)
		require.Equal(t, "host-url value is empty", err.Error())
	})
}

func TestStartCmdWithMissingArg(t *testing.T) {
	t.Run("test missing host url arg", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})
		startCmd.SetArgs([]string{})

		err := startCmd.Execute()

		require.Error(t, err)
		require.Equal(t,
			"Neither host-url (command line flag) nor ANCHOR_REST_HOST_URL (environment variable) have been set.",
			err.Error())
	})

	t.Run("test missing serve key", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})
		startCmd.SetArgs(append(validArgs(t), "--"+tlsServeCertPathFlagName, "cert.pem"))

		err := startCmd.Execute()
		require.EqualError(t, err, "both tls-serve-cert and tls-serve-key are required to serve HTTPS")
	})

	t.Run("test missing dsn", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})
		startCmd.SetArgs([]string{"--" + hostURLFlagName, "localhost:8080"})

		err := startCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to configure dsn")
	})
}

func TestStartCmdWithBlankEnvVar(t *testing.T) {
	t.Run("test blank host env var", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})
		startCmd.SetArgs([]string{})

		t.Setenv(hostURLEnvKey, "")

		err := startCmd.Execute()
		require.Error(t, err)
		require.Equal(t, "ANCHOR_REST_HOST_URL value is empty", err.Error())
	})
}

func TestStartCmdValidArgs(t *testing.T) {
	t.Run("test plain http", func(t *testing.T) {
		srv := &mockServer{}

		startCmd := GetStartCmd(srv)
		startCmd.SetArgs(validArgs(t))

		require.NoError(t, startCmd.Execute())
		require.Equal(t, "localhost:8080", srv.host)
		require.Empty(t, srv.certFile)

		rr := httptest.NewRecorder()
		srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		srv.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
			"/credentials/did:example:1/artifacts/signed_vc", nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("test https", func(t *testing.T) {
		srv := &mockServer{}

		startCmd := GetStartCmd(srv)
		startCmd.SetArgs(append(validArgs(t),
			"--"+tlsServeCertPathFlagName, "cert.pem",
			"--"+tlsServeKeyPathFlagName, "key.pem",
		))

		require.NoError(t, startCmd.Execute())
		require.Equal(t, "cert.pem", srv.certFile)
	})
}

func TestStartCmdDatasourceURL(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		startCmd := GetStartCmd(&mockServer{})
		startCmd.SetArgs(append(validArgs(t), "--"+wiring.DatasourceNameFlagName, "unsupported://test"))

		err := startCmd.Execute()
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported storage driver: unsupported")
	})
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName, flagShorthand, flagUsage string) {
	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
	require.Equal(t, "", flag.Value.String())

	flagAnnotations := flag.Annotations
	require.Nil(t, flagAnnotations)
}

func validArgs(t *testing.T) []string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "custody.pem")

	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	return []string{
		"--" + hostURLFlagName, "localhost:8080",
		"--" + wiring.IssuerDIDFlagName, "did:example:issuer",
		"--" + wiring.HMACKeyFlagName, "secret",
		"--" + wiring.IPFSURLFlagName, "http://localhost:5001",
		"--" + wiring.CustodyURLFlagName, "http://localhost:8081",
		"--" + wiring.CustodyAPIKeyFlagName, "api-key",
		"--" + wiring.CustodyKeyFileFlagName, keyFile,
		"--" + wiring.CustodyVaultFlagName, "0",
		"--" + wiring.ChainsFlagName, "ETH=ETH_TEST",
		"--" + wiring.RPCURLFlagName, "http://localhost:8545",
		"--" + wiring.ChainIDFlagName, "1337",
		"--" + wiring.DIDRegistryFlagName, "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"--" + wiring.SBTRegistryFlagName, "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		"--" + wiring.PrivateKeyFlagName, "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291",
		"--" + wiring.DatasourceNameFlagName, "mem://test",
	}
}
