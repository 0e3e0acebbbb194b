/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package http writes JSON responses for the REST controllers.
package http

import (
	"encoding/json"
	"net/http"
)

type logger interface {
	Errorf(msg string, args ...interface{})
}

// ErrorResponse to send error message in the response.
type ErrorResponse struct {
	Message  string `json:"errMessage,omitempty"`
	Stage    string `json:"stage,omitempty"`
	TxHash   string `json:"txHash,omitempty"`
	Explorer string `json:"explorer,omitempty"`
}

// WriteErrorResponseWithLog write error response along with adding a error log.
func WriteErrorResponseWithLog(rw http.ResponseWriter, status int, msg, endpoint string, l logger) {
	l.Errorf("endpoint=[%s] status=[%d] errMsg=[%s]", endpoint, status, msg)

	WriteResponse(rw, status, &ErrorResponse{Message: msg}, l)
}

// WriteResponse writes v as the JSON body with the given status.
func WriteResponse(rw http.ResponseWriter, status int, v interface{}, l logger) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		l.Errorf("failed to write response : %s", err)
	}
}

// WriteRawResponse writes an encoded JSON document.
func WriteRawResponse(rw http.ResponseWriter, status int, doc []byte, l logger) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	if _, err := rw.Write(doc); err != nil {
		l.Errorf("failed to write response : %s", err)
	}
}
