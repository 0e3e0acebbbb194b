/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ipfstest serves an in-memory pinning API and gateway.
package ipfstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
)

const sha256Code = 0x12

// Server pins JSON documents and serves them back under /ipfs/<cid>.
type Server struct {
	*httptest.Server

	mu   sync.Mutex
	docs map[string][]byte

	// Reject makes pin requests fail with this status.
	Reject int
}

// NewServer starts a server; callers must Close it.
func NewServer() *Server {
	s := &Server{docs: make(map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))

	return s
}

// Pinned returns a pinned document.
func (s *Server) Pinned(contentID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[contentID]

	return doc, ok
}

// Count returns the number of pinned documents.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.docs)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/pinning/pinJSONToIPFS":
		s.pin(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/ipfs/"):
		doc, ok := s.Pinned(strings.TrimPrefix(r.URL.Path, "/ipfs/"))
		if !ok {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(doc) // nolint:errcheck,gosec
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) pin(w http.ResponseWriter, r *http.Request) {
	if s.Reject != 0 {
		http.Error(w, `{"error":"rejected"}`, s.Reject)

		return
	}

	req := struct {
		Content json.RawMessage `json:"pinataContent"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Content) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)

		return
	}

	id, err := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: sha256Code, MhLength: -1}.Sum(req.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	s.mu.Lock()
	s.docs[id.String()] = append([]byte(nil), req.Content...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"IpfsHash":%q,"PinSize":%d,"Timestamp":%q}`, id.String(), len(req.Content),
		time.Now().UTC().Format(time.RFC3339))
}
