/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anchor

import (
	"fmt"

	"github.com/trustbloc/vc-anchor/pkg/restapi"
	"github.com/trustbloc/vc-anchor/pkg/restapi/anchor/operation"
)

// New returns new controller instance.
func New(config *operation.Config) (*Controller, error) {
	anchorService, err := operation.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init operations: %w", err)
	}

	return &Controller{handlers: anchorService.GetRESTHandlers()}, nil
}

// Controller contains handlers for controller.
type Controller struct {
	handlers []restapi.Handler
}

// GetOperations returns all controller endpoints.
func (c *Controller) GetOperations() []restapi.Handler {
	return c.handlers
}
