/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package support

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHTTPHandler(t *testing.T) {
	t.Run("test handler details", func(t *testing.T) {
		h := NewHTTPHandler("/path", http.MethodPost, func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusTeapot)
		})

		require.Equal(t, "/path", h.Path())
		require.Equal(t, http.MethodPost, h.Method())

		rr := httptest.NewRecorder()
		h.Handle()(rr, httptest.NewRequest(http.MethodPost, "/path", nil))
		require.Equal(t, http.StatusTeapot, rr.Code)
	})
}
