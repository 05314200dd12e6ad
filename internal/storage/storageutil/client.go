// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storageutil creates the Cloud Storage client and holds the retry
// helpers shared by the upload paths.
package storageutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

const (
	urlSchemeSeparator    = "://"
	grpcResolverSeparator = ":///"
)

type StorageClientConfig struct {
	UserAgent      string
	CustomEndpoint string
	KeyFile        string
	// Skip authentication, e.g. against a local emulator.
	AnonymousAccess bool

	MaxRetrySleep   time.Duration
	RetryMultiplier float64
	// Zero means the client library's default.
	MaxRetryAttempts int

	GrpcConnPoolSize int
}

func GetDefaultStorageClientConfig() StorageClientConfig {
	return StorageClientConfig{
		UserAgent:        "gcsasyncwriter",
		MaxRetrySleep:    30 * time.Second,
		RetryMultiplier:  2,
		GrpcConnPoolSize: 1,
	}
}

// clientOptions returns the options of a gRPC storage client for config.
func clientOptions(ctx context.Context, config *StorageClientConfig) ([]option.ClientOption, error) {
	clientOpts := []option.ClientOption{
		option.WithGRPCConnectionPool(config.GrpcConnPoolSize),
		option.WithUserAgent(config.UserAgent),
	}

	if config.CustomEndpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(StripScheme(config.CustomEndpoint)))
	}

	if config.AnonymousAccess {
		return append(clientOpts, option.WithoutAuthentication()), nil
	}

	tokenSrc, err := newTokenSource(ctx, config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("while fetching tokenSource: %w", err)
	}
	return append(clientOpts, option.WithTokenSource(tokenSrc)), nil
}

// NewStorageClient creates a gRPC client, required for appendable uploads,
// and sets its retry policy. Every operation is retried when ShouldRetry
// allows it, idempotent or not.
func NewStorageClient(ctx context.Context, config *StorageClientConfig) (*storage.Client, error) {
	clientOpts, err := clientOptions(ctx, config)
	if err != nil {
		return nil, err
	}

	sc, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("go storage client creation failed: %w", err)
	}

	sc.SetRetry(retryOptions(config)...)
	return sc, nil
}

func retryOptions(config *StorageClientConfig) []storage.RetryOption {
	opts := []storage.RetryOption{
		storage.WithBackoff(gax.Backoff{
			Max:        config.MaxRetrySleep,
			Multiplier: config.RetryMultiplier,
		}),
		storage.WithPolicy(storage.RetryAlways),
		storage.WithErrorFunc(ShouldRetry),
	}
	if config.MaxRetryAttempts > 0 {
		opts = append(opts, storage.WithMaxAttempts(config.MaxRetryAttempts))
	}
	return opts
}

// StripScheme turns a URL into a gRPC target. Targets naming a gRPC resolver,
// such as dns:///host:port, are kept.
func StripScheme(url string) string {
	if strings.Contains(url, grpcResolverSeparator) {
		return url
	}
	if strings.Contains(url, urlSchemeSeparator) {
		url = strings.SplitN(url, urlSchemeSeparator, 2)[1]
	}
	return url
}
