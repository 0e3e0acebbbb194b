/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go-ext/component/storage/mongodb"
	"github.com/hyperledger/aries-framework-go-ext/component/storage/mysql"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/redis/go-redis/v9"
	"github.com/trustbloc/edge-core/pkg/log"
)

var logger = log.New("vc-anchor/artifact")

const (
	// DefaultConnectRetries number of one second connection attempts.
	DefaultConnectRetries = 30

	driverRedis = "redis"
	sleep       = time.Second
)

// nolint:gochecknoglobals
var supportedProviders = map[string]func(dsn, prefix string) (storage.Provider, error){
	"mysql": func(dsn, prefix string) (storage.Provider, error) {
		return mysql.NewProvider(dsn, mysql.WithDBPrefix(prefix))
	},
	"mongodb": func(dsn, prefix string) (storage.Provider, error) {
		return mongodb.NewProvider("mongodb://"+dsn, mongodb.WithDBPrefix(prefix))
	},
	"mem": func(_, _ string) (storage.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
}

// Open connects to the store described by dbURL (driver://dsn), retrying for up to retries seconds.
// Supported drivers are mem, mysql, mongodb and redis.
func Open(dbURL, prefix string, retries uint64) (Store, error) {
	driver, dsn, err := ParseDBURL(dbURL)
	if err != nil {
		return nil, err
	}

	if retries == 0 {
		retries = DefaultConnectRetries
	}

	if driver == driverRedis {
		return openRedis(dsn, prefix, retries)
	}

	providerFunc, supported := supportedProviders[driver]
	if !supported {
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	var provider storage.Provider

	err = retry(func() error {
		var openErr error
		provider, openErr = providerFunc(dsn, prefix)

		return openErr
	}, retries)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage at %s : %w", driver, err)
	}

	return NewSPIStore(provider)
}

// ParseDBURL splits a driver://dsn url.
func ParseDBURL(dbURL string) (driver, dsn string, err error) {
	const urlParts = 2

	parsed := strings.SplitN(dbURL, ":", urlParts)

	if len(parsed) != urlParts || parsed[0] == "" {
		return "", "", fmt.Errorf("invalid dbURL %s", dbURL)
	}

	return parsed[0], strings.TrimPrefix(parsed[1], "//"), nil
}

func openRedis(dsn, prefix string, retries uint64) (Store, error) {
	opts, err := redis.ParseURL("redis://" + dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis dsn : %w", err)
	}

	client := redis.NewClient(opts)

	err = retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sleep)
		defer cancel()

		return client.Ping(ctx).Err()
	}, retries)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage at %s : %w", driverRedis, err)
	}

	if prefix != "" {
		prefix += ":"
	}

	return NewRedisStore(client, prefix), nil
}

func retry(fn func() error, retries uint64) error {
	return backoff.RetryNotify(
		fn,
		backoff.WithMaxRetries(backoff.NewConstantBackOff(sleep), retries),
		func(retryErr error, t time.Duration) {
			logger.Warnf("failed to connect to storage, will sleep for %s before trying again : %s", t, retryErr)
		},
	)
}
