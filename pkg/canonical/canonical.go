/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package canonical produces byte-stable JSON encodings and content digests of documents.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

const hexPrefix = "0x"

// Digest is a SHA-256 content digest.
type Digest [sha256.Size]byte

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok {
		var err error

		raw, err = marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal document : %w", err)
		}
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document : %w", err)
	}

	return out, nil
}

// Hash returns the digest of the canonical encoding of v.
func Hash(v interface{}) (Digest, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return Digest{}, err
	}

	return HashBytes(c), nil
}

// HashBytes returns the digest of raw bytes.
func HashBytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// ParseDigest parses a hex digest with or without the 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest

	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), hexPrefix))
	if err != nil {
		return d, fmt.Errorf("invalid digest %q : %w", s, err)
	}

	if len(b) != len(d) {
		return d, fmt.Errorf("invalid digest %q : expected %d bytes, got %d", s, len(d), len(b))
	}

	copy(d[:], b)

	return d, nil
}

// Hex returns the 0x-prefixed lower-case hex form.
func (d Digest) Hex() string {
	return hexPrefix + hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// Bytes32 returns the digest as a solidity bytes32 value.
func (d Digest) Bytes32() [32]byte {
	return d
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalJSON encodes the digest as its hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

// UnmarshalJSON decodes a hex string digest.
func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string

	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// marshal encodes without HTML escaping so the canonical form matches other JCS implementations.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
