/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	// StoreName of the artifact store opened on the storage provider.
	StoreName = "vc_artifacts"

	artifactTag = "artifact"
)

// SPIStore stores artifacts in an aries storage provider.
type SPIStore struct {
	store storage.Store
}

// NewSPIStore opens the artifact store on provider.
func NewSPIStore(provider storage.Provider) (*SPIStore, error) {
	store, err := provider.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store : %w", err)
	}

	return &SPIStore{store: store}, nil
}

// Put saves v under subject and name.
func (s *SPIStore) Put(_ context.Context, subject string, name Name, v interface{}) error {
	if err := validate(subject, name); err != nil {
		return err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s : %w", name, err)
	}

	if err := s.store.Put(key(subject, name), b, storage.Tag{Name: artifactTag, Value: string(name)}); err != nil {
		return fmt.Errorf("store %s for %s : %w", name, subject, err)
	}

	return nil
}

// Get loads the artifact into v.
func (s *SPIStore) Get(ctx context.Context, subject string, name Name, v interface{}) error {
	b, err := s.GetRaw(ctx, subject, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal %s : %w", name, err)
	}

	return nil
}

// GetRaw returns the stored JSON.
func (s *SPIStore) GetRaw(_ context.Context, subject string, name Name) ([]byte, error) {
	if err := validate(subject, name); err != nil {
		return nil, err
	}

	b, err := s.store.Get(key(subject, name))
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%s for %s : %w", name, subject, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get %s for %s : %w", name, subject, err)
	}

	return b, nil
}

// Delete removes the artifact. Deleting an absent artifact is not an error.
func (s *SPIStore) Delete(_ context.Context, subject string, name Name) error {
	if err := validate(subject, name); err != nil {
		return err
	}

	if err := s.store.Delete(key(subject, name)); err != nil && !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("delete %s for %s : %w", name, subject, err)
	}

	return nil
}
