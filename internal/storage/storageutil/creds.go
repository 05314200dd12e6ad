// Copyright 2025 Google LLC
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

package storageutil

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const universeDomainDefault = "googleapis.com"

// newTokenSource returns a token source for the service account key in
// keyFile, or the application default credentials when keyFile is empty.
func newTokenSource(ctx context.Context, keyFile string) (oauth2.TokenSource, error) {
	if keyFile == "" {
		ts, err := google.DefaultTokenSource(ctx, storage.ScopeFullControl)
		if err != nil {
			return nil, fmt.Errorf("DefaultTokenSource: %w", err)
		}
		return ts, nil
	}

	contents, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("ReadFile(%q): %w", keyFile, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, contents, storage.ScopeFullControl)
	if err != nil {
		return nil, fmt.Errorf("CredentialsFromJSON(): %w", err)
	}
	domain, err := creds.GetUniverseDomain()
	if err != nil {
		return nil, fmt.Errorf("GetUniverseDomain(): %w", err)
	}

	// Outside the default universe, token exchange is impossible and services
	// accept self-signed JWTs with scopes.
	if domain != universeDomainDefault {
		ts, err := google.JWTAccessTokenSourceWithScope(contents, storage.ScopeFullControl)
		if err != nil {
			return nil, fmt.Errorf("JWTAccessTokenSourceWithScope: %w", err)
		}
		return ts, nil
	}
	return creds.TokenSource, nil
}
