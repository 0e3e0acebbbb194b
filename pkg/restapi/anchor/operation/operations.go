/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package operation provides the credential anchoring REST features.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/anchorerr"
	"github.com/trustbloc/vc-anchor/pkg/artifact"
	"github.com/trustbloc/vc-anchor/pkg/internal/common/support"
	"github.com/trustbloc/vc-anchor/pkg/pipeline"
	"github.com/trustbloc/vc-anchor/pkg/restapi"
	commhttp "github.com/trustbloc/vc-anchor/pkg/restapi/internal/common/http"
	"github.com/trustbloc/vc-anchor/pkg/verifier"
)

var logger = log.New("vc-anchor/restapi")

// API endpoints.
const (
	credentialsPath = "/credentials"
	didPathParam    = "did"
	namePathParam   = "name"
	IssuePath       = credentialsPath + "/issue"
	VerifyPath      = credentialsPath + "/{" + didPathParam + "}/verify"
	ReconcilePath   = credentialsPath + "/{" + didPathParam + "}/reconcile"
	ArtifactPath    = credentialsPath + "/{" + didPathParam + "}/artifacts/{" + namePathParam + "}"
	MetricsPath     = "/metrics"

	invalidRequestErr = "invalid request"
)

// Pipeline issues and reconciles credentials.
type Pipeline interface {
	Run(ctx context.Context, app *pipeline.Application) (*pipeline.Result, error)
	Verify(ctx context.Context, subject string) (*verifier.Report, error)
	Reconcile(ctx context.Context, subject string) (*pipeline.ReconcileResult, error)
	Store() artifact.Store
}

// Config defines configuration for anchor operations.
type Config struct {
	Pipeline Pipeline
	// Gatherer exposes the metrics endpoint when set.
	Gatherer prometheus.Gatherer
}

// Operation is REST service operation controller for credential anchoring.
type Operation struct {
	pipeline Pipeline
	store    artifact.Store
	gatherer prometheus.Gatherer
}

// New returns new anchor REST controller instance.
func New(config *Config) (*Operation, error) {
	if config == nil || config.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}

	return &Operation{
		pipeline: config.Pipeline,
		store:    config.Pipeline.Store(),
		gatherer: config.Gatherer,
	}, nil
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []restapi.Handler {
	handlers := []restapi.Handler{
		support.NewHTTPHandler(IssuePath, http.MethodPost, o.Issue),
		support.NewHTTPHandler(VerifyPath, http.MethodPost, o.Verify),
		support.NewHTTPHandler(ReconcilePath, http.MethodPost, o.Reconcile),
		support.NewHTTPHandler(ArtifactPath, http.MethodGet, o.GetArtifact),
	}

	if o.gatherer != nil {
		handlers = append(handlers, support.NewHTTPHandler(MetricsPath, http.MethodGet,
			promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	}

	return handlers
}

// Issue swagger:route POST /credentials/issue anchor issueCredential
//
// Builds, signs, publishes and anchors the credential of a verified applicant.
//
// Responses:
//    default: genericError
//    201: issueResponse
//    202: issueResponse
func (o *Operation) Issue(rw http.ResponseWriter, req *http.Request) {
	app := &IssueRequest{}

	if err := json.NewDecoder(req.Body).Decode(app); err != nil {
		commhttp.WriteErrorResponseWithLog(rw, http.StatusBadRequest,
			fmt.Sprintf("%s : %s", invalidRequestErr, err), IssuePath, logger)

		return
	}

	res, err := o.pipeline.Run(req.Context(), app)
	if err != nil {
		logger.Errorf("endpoint=[%s] issuance of %s failed : %s", IssuePath, app.DID, err)

		commhttp.WriteResponse(rw, statusOf(err), &IssueResponse{Result: res, Error: detailOf(err)}, logger)

		return
	}

	status := http.StatusCreated
	if res.Pending {
		status = http.StatusAccepted
	}

	commhttp.WriteResponse(rw, status, &IssueResponse{Result: res}, logger)
}

// Verify swagger:route POST /credentials/{did}/verify anchor verifyCredential
//
// Checks the stored credential of the DID against chain state.
//
// Responses:
//    default: genericError
//    200: verifyResponse
func (o *Operation) Verify(rw http.ResponseWriter, req *http.Request) {
	did := mux.Vars(req)[didPathParam]

	report, err := o.pipeline.Verify(req.Context(), did)
	if err != nil && report == nil {
		writeError(rw, err, VerifyPath)

		return
	}

	commhttp.WriteResponse(rw, http.StatusOK, &VerifyResponse{OK: report.OK(), Report: report}, logger)
}

// Reconcile swagger:route POST /credentials/{did}/reconcile anchor reconcileCredential
//
// Settles pending transactions of the DID.
//
// Responses:
//    default: genericError
//    200: reconcileResponse
//    202: reconcileResponse
func (o *Operation) Reconcile(rw http.ResponseWriter, req *http.Request) {
	did := mux.Vars(req)[didPathParam]

	res, err := o.pipeline.Reconcile(req.Context(), did)
	if err != nil && !anchorerr.Is(err, anchorerr.KindConsistencyMismatch) {
		writeError(rw, err, ReconcilePath)

		return
	}

	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
	}

	commhttp.WriteResponse(rw, status, res, logger)
}

// GetArtifact swagger:route GET /credentials/{did}/artifacts/{name} anchor getArtifact
//
// Returns a stored stage output of the DID.
//
// Responses:
//    default: genericError
//    200: artifact
func (o *Operation) GetArtifact(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	name, err := artifact.ParseName(vars[namePathParam])
	if err != nil {
		commhttp.WriteErrorResponseWithLog(rw, http.StatusBadRequest, err.Error(), ArtifactPath, logger)

		return
	}

	doc, err := o.store.GetRaw(req.Context(), vars[didPathParam], name)
	if errors.Is(err, artifact.ErrNotFound) {
		commhttp.WriteErrorResponseWithLog(rw, http.StatusNotFound, err.Error(), ArtifactPath, logger)

		return
	}

	if err != nil {
		commhttp.WriteErrorResponseWithLog(rw, http.StatusInternalServerError, err.Error(), ArtifactPath, logger)

		return
	}

	commhttp.WriteRawResponse(rw, http.StatusOK, doc, logger)
}

func writeError(rw http.ResponseWriter, err error, endpoint string) {
	logger.Errorf("endpoint=[%s] %s", endpoint, err)

	d := detailOf(err)

	commhttp.WriteResponse(rw, statusOf(err), &commhttp.ErrorResponse{
		Message:  d.Message,
		Stage:    d.Stage,
		TxHash:   d.TxHash,
		Explorer: d.Explorer,
	}, logger)
}

func detailOf(err error) *ErrorDetail {
	e, ok := anchorerr.As(err)
	if !ok {
		return &ErrorDetail{Kind: "Internal", Message: err.Error()}
	}

	return &ErrorDetail{
		Kind:     e.Kind.String(),
		Stage:    e.Stage,
		Message:  err.Error(),
		TxHash:   e.TxHash,
		Explorer: e.Explorer,
	}
}

func statusOf(err error) int {
	e, ok := anchorerr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch e.Kind {
	case anchorerr.KindValidation:
		return http.StatusBadRequest
	case anchorerr.KindRemoteService:
		return http.StatusBadGateway
	case anchorerr.KindSigningTimeout, anchorerr.KindConfirmationTimeout:
		return http.StatusGatewayTimeout
	case anchorerr.KindAlreadyRegistered, anchorerr.KindConsistencyMismatch:
		return http.StatusConflict
	case anchorerr.KindTransactionReverted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
