/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package healthcheck

import (
	"net/http"
	"time"

	"github.com/trustbloc/edge-core/pkg/log"

	"github.com/trustbloc/vc-anchor/pkg/internal/common/support"
	"github.com/trustbloc/vc-anchor/pkg/restapi"
	commhttp "github.com/trustbloc/vc-anchor/pkg/restapi/internal/common/http"
)

var logger = log.New("vc-anchor/healthcheck")

const healthCheckPath = "/healthcheck"

type healthCheckResp struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
}

// New returns new controller instance.
func New() *Controller {
	return &Controller{handlers: []restapi.Handler{
		support.NewHTTPHandler(healthCheckPath, http.MethodGet, healthCheckHandler),
	}}
}

// Controller contains handlers for controller.
type Controller struct {
	handlers []restapi.Handler
}

// GetOperations returns all controller endpoints.
func (c *Controller) GetOperations() []restapi.Handler {
	return c.handlers
}

func healthCheckHandler(rw http.ResponseWriter, _ *http.Request) {
	commhttp.WriteResponse(rw, http.StatusOK, &healthCheckResp{
		Status:      "success",
		CurrentTime: time.Now(),
	}, logger)
}
