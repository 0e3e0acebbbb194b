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

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per subject with a field per artifact.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a store on client; keys are prefixed with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Put saves v under subject and name.
func (s *RedisStore) Put(ctx context.Context, subject string, name Name, v interface{}) error {
	if err := validate(subject, name); err != nil {
		return err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s : %w", name, err)
	}

	if err := s.client.HSet(ctx, s.hashKey(subject), string(name), b).Err(); err != nil {
		return fmt.Errorf("store %s for %s : %w", name, subject, err)
	}

	return nil
}

// Get loads the artifact into v.
func (s *RedisStore) Get(ctx context.Context, subject string, name Name, v interface{}) error {
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
func (s *RedisStore) GetRaw(ctx context.Context, subject string, name Name) ([]byte, error) {
	if err := validate(subject, name); err != nil {
		return nil, err
	}

	b, err := s.client.HGet(ctx, s.hashKey(subject), string(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s for %s : %w", name, subject, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get %s for %s : %w", name, subject, err)
	}

	return b, nil
}

// Delete removes the artifact.
func (s *RedisStore) Delete(ctx context.Context, subject string, name Name) error {
	if err := validate(subject, name); err != nil {
		return err
	}

	if err := s.client.HDel(ctx, s.hashKey(subject), string(name)).Err(); err != nil {
		return fmt.Errorf("delete %s for %s : %w", name, subject, err)
	}

	return nil
}

func (s *RedisStore) hashKey(subject string) string {
	return s.prefix + "artifacts:" + subject
}
