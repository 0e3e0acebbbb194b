/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package artifact

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const subject = "did:example:123"

type record struct {
	TxHash string `json:"txHash"`
	Count  int    `json:"count"`
}

func testStore(t *testing.T, s Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("test put and get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, subject, PendingTx, &record{TxHash: "0x1", Count: 1}))

		got := &record{}
		require.NoError(t, s.Get(ctx, subject, PendingTx, got))
		require.Equal(t, &record{TxHash: "0x1", Count: 1}, got)

		raw, err := s.GetRaw(ctx, subject, PendingTx)
		require.NoError(t, err)
		require.JSONEq(t, `{"txHash":"0x1","count":1}`, string(raw))
	})

	t.Run("test overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, subject, SBTRecord, &record{Count: 1}))
		require.NoError(t, s.Put(ctx, subject, SBTRecord, &record{Count: 2}))

		got := &record{}
		require.NoError(t, s.Get(ctx, subject, SBTRecord, got))
		require.Equal(t, 2, got.Count)
	})

	t.Run("test subjects are isolated", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, subject, Metadata, &record{Count: 7}))

		err := s.Get(ctx, "did:example:456", Metadata, &record{})
		require.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("test delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, subject, ProofBundle, &record{Count: 3}))
		require.NoError(t, s.Delete(ctx, subject, ProofBundle))
		require.NoError(t, s.Delete(ctx, subject, ProofBundle))

		err := s.Get(ctx, subject, ProofBundle, &record{})
		require.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("test invalid arguments", func(t *testing.T) {
		require.EqualError(t, s.Put(ctx, "", SignedVC, &record{}), "artifact subject is required")
		require.EqualError(t, s.Put(ctx, subject, Name("other"), &record{}), `unknown artifact "other"`)

		_, err := s.GetRaw(ctx, subject, Name("other"))
		require.Error(t, err)
		require.Error(t, s.Delete(ctx, "", SignedVC))
	})

	t.Run("test unmarshalable value", func(t *testing.T) {
		err := s.Put(ctx, subject, Metadata, make(chan int))
		require.Error(t, err)
		require.Contains(t, err.Error(), "marshal metadata")
	})

	t.Run("test value of wrong shape", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, subject, VerificationReport, []string{"a"}))

		err := s.Get(ctx, subject, VerificationReport, &record{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "unmarshal verification_report")
	})
}

func TestSPIStore(t *testing.T) {
	s, err := NewSPIStore(mem.NewProvider())
	require.NoError(t, err)

	testStore(t, s)

	t.Run("test open store error", func(t *testing.T) {
		_, err := NewSPIStore(&mockProvider{openErr: errors.New("open failed")})
		require.EqualError(t, err, "failed to open artifact store : open failed")
	})

	t.Run("test store errors", func(t *testing.T) {
		s, err := NewSPIStore(&mockProvider{store: &mockStore{err: errors.New("db down")}})
		require.NoError(t, err)

		ctx := context.Background()

		require.Contains(t, s.Put(ctx, subject, SignedVC, &record{}).Error(), "db down")

		_, err = s.GetRaw(ctx, subject, SignedVC)
		require.Contains(t, err.Error(), "db down")
		require.False(t, errors.Is(err, ErrNotFound))

		require.Contains(t, s.Delete(ctx, subject, SignedVC).Error(), "db down")
	})
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")

	testStore(t, s)

	t.Run("test one hash per subject", func(t *testing.T) {
		require.NoError(t, s.Put(context.Background(), subject, UnsignedVC, &record{Count: 9}))
		require.True(t, mr.Exists("test:artifacts:"+subject))

		v := mr.HGet("test:artifacts:"+subject, string(UnsignedVC))
		require.JSONEq(t, `{"txHash":"","count":9}`, v)
	})

	t.Run("test connection error", func(t *testing.T) {
		broken := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), "")

		_, err := broken.GetRaw(context.Background(), subject, SignedVC)
		require.Error(t, err)
		require.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestOpen(t *testing.T) {
	t.Run("test mem", func(t *testing.T) {
		s, err := Open("mem://test", "anchor", 1)
		require.NoError(t, err)
		require.IsType(t, &SPIStore{}, s)
	})

	t.Run("test redis", func(t *testing.T) {
		mr := miniredis.RunT(t)

		s, err := Open("redis://"+mr.Addr(), "anchor", 1)
		require.NoError(t, err)
		require.IsType(t, &RedisStore{}, s)
		require.Equal(t, "anchor:", s.(*RedisStore).prefix)
	})

	t.Run("test invalid url", func(t *testing.T) {
		_, err := Open("invalid", "", 1)
		require.EqualError(t, err, "invalid dbURL invalid")
	})

	t.Run("test unsupported driver", func(t *testing.T) {
		_, err := Open("cassandra://localhost", "", 1)
		require.EqualError(t, err, "unsupported storage driver: cassandra")
	})

	t.Run("test parse url", func(t *testing.T) {
		driver, dsn, err := ParseDBURL("mongodb://localhost:27017")
		require.NoError(t, err)
		require.Equal(t, "mongodb", driver)
		require.Equal(t, "localhost:27017", dsn)
	})
}

func TestParseName(t *testing.T) {
	n, err := ParseName("signed_vc")
	require.NoError(t, err)
	require.Equal(t, SignedVC, n)

	_, err = ParseName("secrets")
	require.EqualError(t, err, fmt.Sprintf("unknown artifact %q", "secrets"))
}

type mockProvider struct {
	store   storage.Store
	openErr error
}

func (m *mockProvider) OpenStore(string) (storage.Store, error) {
	return m.store, m.openErr
}

func (m *mockProvider) SetStoreConfig(string, storage.StoreConfiguration) error { return nil }

func (m *mockProvider) GetStoreConfig(string) (storage.StoreConfiguration, error) {
	return storage.StoreConfiguration{}, nil
}

func (m *mockProvider) GetOpenStores() []storage.Store { return nil }

func (m *mockProvider) Close() error { return nil }

type mockStore struct {
	err error
}

func (m *mockStore) Put(string, []byte, ...storage.Tag) error { return m.err }

func (m *mockStore) Get(string) ([]byte, error) { return nil, m.err }

func (m *mockStore) GetTags(string) ([]storage.Tag, error) { return nil, m.err }

func (m *mockStore) GetBulk(...string) ([][]byte, error) { return nil, m.err }

func (m *mockStore) Query(string, ...storage.QueryOption) (storage.Iterator, error) { return nil, m.err }

func (m *mockStore) Delete(string) error { return m.err }

func (m *mockStore) Batch([]storage.Operation) error { return m.err }

func (m *mockStore) Flush() error { return m.err }

func (m *mockStore) Close() error { return m.err }
