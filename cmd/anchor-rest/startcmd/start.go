/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/trustbloc/edge-core/pkg/log"
	cmdutils "github.com/trustbloc/edge-core/pkg/utils/cmd"

	"github.com/trustbloc/vc-anchor/cmd/anchor-rest/internal/wiring"
	"github.com/trustbloc/vc-anchor/pkg/restapi/anchor"
	"github.com/trustbloc/vc-anchor/pkg/restapi/anchor/operation"
	"github.com/trustbloc/vc-anchor/pkg/restapi/healthcheck"
)

var logger = log.New("vc-anchor")

const (
	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the anchor-rest instance on. Format: HostName:Port."
	hostURLEnvKey        = wiring.EnvPrefix + "HOST_URL"

	tlsServeCertPathFlagName  = "tls-serve-cert"
	tlsServeCertPathFlagUsage = "Path to the server certificate to use when serving HTTPS." +
		" Alternatively, this can be set with the following environment variable: " + tlsServeCertPathEnvKey
	tlsServeCertPathEnvKey = wiring.EnvPrefix + "TLS_SERVE_CERT"

	tlsServeKeyPathFlagName  = "tls-serve-key"
	tlsServeKeyPathFlagUsage = "Path to the private key to use when serving HTTPS." +
		" Alternatively, this can be set with the following environment variable: " + tlsServeKeyPathFlagEnvKey
	tlsServeKeyPathFlagEnvKey = wiring.EnvPrefix + "TLS_SERVE_KEY"
)

type anchorRestParameters struct {
	hostURL       string
	serveCertPath string
	serveKeyPath  string
	pipeline      *wiring.Parameters
}

type server interface {
	ListenAndServe(host string, router http.Handler) error
	ListenAndServeTLS(host, certFile, keyFile string, router http.Handler) error
}

// HTTPServer represents an actual HTTP server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler) error {
	return http.ListenAndServe(host, router) // nolint:gosec
}

// ListenAndServeTLS starts the server using the standard Go HTTPS implementation.
func (s *HTTPServer) ListenAndServeTLS(host, certFile, keyFile string, router http.Handler) error {
	return http.ListenAndServeTLS(host, certFile, keyFile, router) // nolint:gosec
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(srv server) *cobra.Command {
	startCmd := createStartCmd(srv)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(srv server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start anchor-rest",
		Long:  "Start anchor-rest to issue and anchor wallet-bound credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getAnchorRestParameters(cmd)
			if err != nil {
				return err
			}

			return startAnchorService(cmd, parameters, srv)
		},
	}
}

func getAnchorRestParameters(cmd *cobra.Command) (*anchorRestParameters, error) {
	hostURL, err := cmdutils.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	serveCertPath, err := cmdutils.GetUserSetVarFromString(cmd, tlsServeCertPathFlagName, tlsServeCertPathEnvKey, true)
	if err != nil {
		return nil, err
	}

	serveKeyPath, err := cmdutils.GetUserSetVarFromString(cmd, tlsServeKeyPathFlagName, tlsServeKeyPathFlagEnvKey, true)
	if err != nil {
		return nil, err
	}

	if (serveCertPath == "") != (serveKeyPath == "") {
		return nil, fmt.Errorf("both %s and %s are required to serve HTTPS", tlsServeCertPathFlagName,
			tlsServeKeyPathFlagName)
	}

	pipelineParams, err := wiring.GetParameters(cmd)
	if err != nil {
		return nil, err
	}

	return &anchorRestParameters{
		hostURL:       hostURL,
		serveCertPath: serveCertPath,
		serveKeyPath:  serveKeyPath,
		pipeline:      pipelineParams,
	}, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(tlsServeCertPathFlagName, "", "", tlsServeCertPathFlagUsage)
	startCmd.Flags().StringP(tlsServeKeyPathFlagName, "", "", tlsServeKeyPathFlagUsage)

	wiring.CreateFlags(startCmd)
}

func startAnchorService(cmd *cobra.Command, parameters *anchorRestParameters, srv server) error {
	services, err := wiring.NewServices(wiring.Context(cmd), parameters.pipeline)
	if err != nil {
		return err
	}

	router := mux.NewRouter()

	// add health check endpoint
	healthCheckService := healthcheck.New()

	healthCheckHandlers := healthCheckService.GetOperations()
	for _, handler := range healthCheckHandlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	anchorService, err := anchor.New(&operation.Config{
		Pipeline: services.Pipeline,
		Gatherer: services.Registry,
	})
	if err != nil {
		return fmt.Errorf("failed to add anchor handlers : %w", err)
	}

	for _, handler := range anchorService.GetOperations() {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	if parameters.serveCertPath == "" {
		logger.Infof("starting anchor rest server on host %s", parameters.hostURL)

		return srv.ListenAndServe(parameters.hostURL, constructCORSHandler(router))
	}

	logger.Infof("starting anchor rest server with TLS on host %s", parameters.hostURL)

	return srv.ListenAndServeTLS(
		parameters.hostURL,
		parameters.serveCertPath,
		parameters.serveKeyPath,
		constructCORSHandler(router))
}

func constructCORSHandler(handler http.Handler) http.Handler {
	return cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(handler)
}
